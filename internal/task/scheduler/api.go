package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	logx "questline/pkg/logx"
)

const skipWarnEvery = time.Minute

// AddSchedule parses schedule and registers either a cron or interval job.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "55 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case KindCron:
		return s.AddCron(name, ps.Cron, timeout, job)
	case KindInterval:
		return s.AddInterval(name, ps.Every, timeout, job)
	default:
		return "", fmt.Errorf("unsupported schedule kind")
	}
}

// Check reports whether schedule would register, without registering it.
func (s *Service) Check(schedule string) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if ps.Kind == KindCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("cron %q: %w", ps.Cron, err)
		}
	}
	return nil
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) (string, error) {
	if _, err := s.parser.Parse(strings.TrimSpace(spec)); err != nil {
		return "", fmt.Errorf("cron %q: %w", spec, err)
	}
	return s.upsert(name, spec, timeout, job)
}

func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job Job) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return s.upsert(name, "@every "+every.String(), timeout, job)
}

// AddDaily registers a job at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name string, atHHMM string, timeout time.Duration, job Job) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

func (s *Service) upsert(name, spec string, timeout time.Duration, job Job) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("name required")
	}
	if job == nil {
		return "", errors.New("job required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by name so hot reloads never duplicate a schedule.
	_ = s.removeScheduleLocked(name)
	d := scheduleDef{
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		running: &atomic.Bool{},
	}
	s.defs = append(s.defs, d)
	if s.c == nil {
		// Not started yet: registered on Start().
		return name, nil
	}
	err := s.addCronLocked(&s.defs[len(s.defs)-1])
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		return name, err
	}
	args := []logx.Field{logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout)}
	if next := s.previewNextRunsLocked(spec, 4); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return name, nil
}

// Remove unschedules all schedules with the given name. It returns true if something was removed.
// Safe to call before Start.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// removeScheduleLocked removes all defs matching name and unregisters them from cron if running.
// Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	name, timeout, job, running := d.name, d.timeout, d.job, d.running
	fn := cron.FuncJob(func() { s.fire(name, timeout, job, running) })

	// Startup spread only applies to interval schedules (@every ...), to avoid
	// a thundering herd right after service start.
	spec := strings.TrimSpace(d.spec)
	if strings.HasPrefix(spec, "@every") {
		every, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, "@every")))
		if err == nil && every > 0 {
			loc := s.loc
			if loc == nil {
				loc = time.Local
			}
			sched, jitter := everyWithJitter(d.name, every, time.Now().In(loc))
			d.startupSpread = jitter
			d.entryID = s.c.Schedule(sched, fn)
			return nil
		}
	}

	d.startupSpread = 0
	eid, err := s.c.AddJob(spec, fn)
	if err == nil {
		d.entryID = eid
	}
	return err
}

// fire runs one tick. A tick that finds the previous run still in flight is skipped.
func (s *Service) fire(name string, timeout time.Duration, job Job, running *atomic.Bool) {
	if !running.CompareAndSwap(false, true) {
		s.reportSkip(name)
		return
	}
	defer running.Store(false)

	s.ctxMu.RLock()
	parent := s.runCtx
	s.ctxMu.RUnlock()
	if parent == nil {
		parent = context.Background()
	}
	s.run(parent, name, timeout, job)
}

func (s *Service) run(parent context.Context, name string, timeout time.Duration, job Job) {
	ctx := parent
	cancel := func() {}
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	}
	defer cancel()

	start := time.Now()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("job panic", logx.String("name", name), logx.Any("panic", r), logx.Stack(debug.Stack()))
			}
		}()
		err = job(ctx)
	}()
	took := time.Since(start)

	item := HistoryItem{Name: name, Started: start, Took: took}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("job failed", logx.String("name", name), logx.Duration("took", took), logx.Err(err))
	} else {
		s.log.Debug("job finished", logx.String("name", name), logx.Duration("took", took))
	}
	s.record(item)
}

func (s *Service) record(it HistoryItem) {
	s.histMu.Lock()
	s.history = append(s.history, it)
	if over := len(s.history) - s.histSize; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
	s.histMu.Unlock()
}

func (s *Service) reportSkip(name string) {
	now := time.Now()
	s.skipMu.Lock()
	last := s.lastSkipWarn[name]
	warn := now.Sub(last) >= skipWarnEvery
	if warn {
		s.lastSkipWarn[name] = now
	}
	s.skipMu.Unlock()
	if warn {
		s.log.Warn("tick skipped; previous run still in flight", logx.String("name", name))
	} else {
		s.log.Debug("tick skipped", logx.String("name", name))
	}
}

// previewNextRunsLocked returns a short, human-friendly list of upcoming run times
// for the given cron spec. Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if s.log.IsZero() || !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
