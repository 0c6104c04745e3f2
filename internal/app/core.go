package app

import (
	"context"
	"sync/atomic"
	"time"

	"questline/internal/eventbus"
	"questline/internal/model"
	"questline/internal/quest"
	"questline/internal/recurrence"
	"questline/internal/storage"
	logx "questline/pkg/logx"
)

const (
	RunExpand    = "expand"
	RunReconcile = "reconcile"
	scopeAll     = "*"
)

// Core fronts the scheduling services for every entry point (HTTP, trigger,
// --once) and appends a RunEntry per invocation. Services are swapped
// atomically on config reload.
type Core struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	quests   atomic.Pointer[quest.Service]
	expander atomic.Pointer[recurrence.Expander]
}

func NewCore(store storage.Store, bus eventbus.Bus, log logx.Logger) *Core {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	c := &Core{store: store, bus: bus, log: log, now: time.Now}
	c.Configure(recurrence.Config{}, 0)
	return c
}

// Configure rebuilds the services with new tuning.
func (c *Core) Configure(rc recurrence.Config, reconcileWorkers int) {
	c.quests.Store(quest.New(c.store, c.log.With(logx.String("comp", "quest")),
		quest.WithWorkers(reconcileWorkers),
		quest.WithBus(c.bus),
		quest.WithClock(c.now),
	))
	c.expander.Store(recurrence.New(c.store, rc, c.log.With(logx.String("comp", "recurrence")),
		recurrence.WithBus(c.bus),
	))
}

func (c *Core) ValidateOverlap(ctx context.Context, teamID string, candidate model.Window, excludeID string) error {
	return c.quests.Load().ValidateOverlap(ctx, teamID, candidate, excludeID)
}

func (c *Core) Reconcile(ctx context.Context, teamID string) (quest.ReconcileResult, error) {
	start := time.Now()
	res, err := c.quests.Load().Reconcile(ctx, teamID)
	c.record(ctx, storage.RunEntry{
		Kind:  RunReconcile,
		Scope: teamID,
		Total: res.Checked,
		OK:    res.Writes(),
		Fail:  res.Failed,
	}, start, err)
	return res, err
}

func (c *Core) ReconcileAll(ctx context.Context) (quest.SweepResult, error) {
	start := time.Now()
	res, err := c.quests.Load().ReconcileAll(ctx)
	c.record(ctx, storage.RunEntry{
		Kind:  RunReconcile,
		Scope: scopeAll,
		Total: res.Checked,
		OK:    res.Writes,
		Fail:  res.Failed,
	}, start, err)
	return res, err
}

func (c *Core) ExpandDue(ctx context.Context, now time.Time) (recurrence.Report, error) {
	start := time.Now()
	rep, err := c.expander.Load().ExpandDue(ctx, now)
	// Per-template failures live in the report; the audit entry still shows them.
	runErr := err
	if runErr == nil {
		runErr = rep.Err()
	}
	c.record(ctx, storage.RunEntry{
		Kind:  RunExpand,
		Scope: scopeAll,
		Total: rep.Total,
		OK:    rep.Processed + rep.Ended,
		Fail:  len(rep.Failed) + len(rep.Errors),
	}, start, runErr)
	return rep, err
}

func (c *Core) record(ctx context.Context, e storage.RunEntry, start time.Time, err error) {
	e.At = start
	e.TookMS = time.Since(start).Milliseconds()
	if err != nil {
		e.Error = err.Error()
	}
	// The audit write must not be lost because the run itself timed out.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if aerr := c.store.AppendRun(actx, e); aerr != nil {
		c.log.Warn("run audit write failed", logx.String("kind", e.Kind), logx.Err(aerr))
	}
}
