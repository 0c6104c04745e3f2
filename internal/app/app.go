package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"questline/internal/api"
	"questline/internal/config"
	"questline/internal/eventbus"
	"questline/internal/runtime/supervisor"
	"questline/internal/storage"
	"questline/internal/task/scheduler"
	logx "questline/pkg/logx"
)

const (
	jobExpand    = "recurrence.expand"
	jobReconcile = "quest.reconcile"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	core  *Core
	sched *scheduler.Service
	http  *api.Server
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	a := &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   eventbus.New(),
		store: store,
		sched: scheduler.New(mapSchedulerConfig(cfg), log.With(logx.String("comp", "scheduler"))),
	}
	a.core = NewCore(store, a.bus, log)
	if err := a.applyJobs(cfg); err != nil {
		_ = store.Close()
		return nil, err
	}

	if cfg.HTTP.Enabled {
		hc, err := mapHTTPConfig(cfg)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		router := api.NewRouter(api.Deps{
			Quests:     a.core,
			Recurrence: a.core,
			Tasks:      store,
			Runs:       store,
			Schedules:  a.sched,
			Health:     a.health,
			Token:      cfg.HTTP.Token,
			Pprof:      cfg.HTTP.Pprof,
			Log:        log.With(logx.String("comp", "http")),
		})
		a.http = api.NewServer(hc, router, log.With(logx.String("comp", "http")))
	}
	return a, nil
}

// Core exposes the scheduling core (used by --once).
func (a *App) Core() *Core { return a.core }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// applyJobs (re)configures the core services and upserts both trigger jobs.
func (a *App) applyJobs(cfg *config.Config) error {
	rc, expandTimeout, err := mapRecurrenceConfig(cfg)
	if err != nil {
		return err
	}
	reconcileTimeout, err := mapReconcileTimeout(cfg)
	if err != nil {
		return err
	}
	a.core.Configure(rc, cfg.Reconcile.Workers)

	register := func(name, schedule string, timeout time.Duration, job scheduler.Job) error {
		if config.ScheduleOff(schedule) {
			a.sched.Remove(name)
			return nil
		}
		if _, err := a.sched.AddSchedule(name, schedule, timeout, job); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
	return errors.Join(
		register(jobExpand, cfg.Recurrence.Schedule, expandTimeout, a.expandJob),
		register(jobReconcile, cfg.Reconcile.Schedule, reconcileTimeout, a.reconcileJob),
	)
}

func (a *App) expandJob(ctx context.Context) error {
	rep, err := a.core.ExpandDue(ctx, time.Now())
	if err != nil {
		return err
	}
	return rep.Err()
}

func (a *App) reconcileJob(ctx context.Context) error {
	_, err := a.core.ReconcileAll(ctx)
	return err
}

func (a *App) health() (any, bool) {
	snap := a.sup.Snapshot()
	detail := map[string]any{
		"scheduler_enabled": a.sched.Enabled(),
		"goroutines":        snap.Goroutines,
		"events_dropped":    a.bus.Dropped(),
	}
	if snap.FirstError != "" {
		detail["first_error"] = snap.FirstError
	}
	return detail, snap.FirstError == ""
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: every schedule must register before commit
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		for _, s := range []struct{ path, raw string }{
			{"recurrence.schedule", cfg.Recurrence.Schedule},
			{"reconcile.schedule", cfg.Reconcile.Schedule},
		} {
			if config.ScheduleOff(s.raw) {
				continue
			}
			if err := a.sched.Check(s.raw); err != nil {
				return fmt.Errorf("%s: %w", s.path, err)
			}
		}
		return nil
	})

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Info("scheduler disabled; runs only via HTTP or --once")
	}

	if a.http != nil {
		a.sup.Go("http.serve", a.http.Run)
	}

	// Keep event logging at debug to avoid noise for frequent triggers.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.String("team", e.TeamID), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	// A broken fsnotify watcher is recreated; its last error shows in /health goroutine stats.
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(250*time.Millisecond, 5*time.Second))

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", rr))
	}

	if err := a.logs.Apply(mapLogConfig(newCfg)); err != nil {
		a.log.Warn("logging config partially applied", logx.Err(err))
	}

	prevEnabled := a.sched.Enabled()
	a.sched.Apply(mapSchedulerConfig(newCfg))
	if err := a.applyJobs(newCfg); err != nil {
		a.log.Warn("schedule update failed; keeping previous where possible", logx.Err(err))
	}
	switch {
	case prevEnabled && !newCfg.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !prevEnabled && newCfg.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	fields := append([]logx.Field{logx.Strings("changed", sections)}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// RunOnce executes one pass of kind ("expand" or "reconcile") and returns.
func (a *App) RunOnce(ctx context.Context, kind string) error {
	switch kind {
	case RunExpand:
		rep, err := a.core.ExpandDue(ctx, time.Now())
		if err != nil {
			return err
		}
		a.log.Info("expand finished", logx.Int("total", rep.Total), logx.Int("processed", rep.Processed),
			logx.Int("ended", rep.Ended), logx.Int("failed", len(rep.Failed)+len(rep.Errors)))
		return rep.Err()
	case RunReconcile:
		res, err := a.core.ReconcileAll(ctx)
		a.log.Info("reconcile finished", logx.Int("teams", len(res.Teams)), logx.Int("writes", res.Writes), logx.Int("failed", res.Failed))
		return err
	default:
		return fmt.Errorf("unknown run kind %q (want %s or %s)", kind, RunExpand, RunReconcile)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		// Cancel first so background loops start unwinding immediately.
		a.sup.Cancel()
	}

	// Each step is bounded so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	if a.sup != nil {
		// http.serve, config watch/reload, event log
		step("supervisor", 7*time.Second, func(c context.Context) error {
			err := a.sup.Stop(c)
			if errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		})
	}
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
