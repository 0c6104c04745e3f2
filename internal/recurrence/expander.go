// Package recurrence expands due recurring task templates into concrete task
// instances, one period per pass.
//
// Expansion is stateless: an external trigger calls ExpandDue. Two
// overlapping calls may both expand the same template (no leasing), so
// instances are produced at least once, not exactly once.
package recurrence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"questline/internal/eventbus"
	"questline/internal/model"
	"questline/internal/task/engine"
	logx "questline/pkg/logx"
)

// Store is the data the expander reads and writes.
type Store interface {
	StatusLookup
	DueTemplates(ctx context.Context, now time.Time) ([]model.Task, error)
	ListQuests(ctx context.Context, teamID string) ([]model.Quest, error)
	InsertTask(ctx context.Context, t model.Task) error
	AdvanceTemplate(ctx context.Context, templateID string, nextDue time.Time) error
	EndTemplate(ctx context.Context, templateID string) error
}

// Outcome is the per-template result of a pass.
type Outcome string

const (
	Processed    Outcome = "processed"
	Ended        Outcome = "ended"
	FailedInsert Outcome = "failed_insert"
	Errored      Outcome = "error"
)

// Result is one template's outcome.
type Result struct {
	TemplateID string    `json:"template_id"`
	TeamID     string    `json:"team_id"`
	Outcome    Outcome   `json:"outcome"`
	Intended   time.Time `json:"intended"`
	Next       time.Time `json:"next"`
	InstanceID string    `json:"instance_id,omitempty"`
	QuestID    string    `json:"quest_id,omitempty"`
	StatusID   string    `json:"status_id,omitempty"`
	Err        error     `json:"-"`
	Error      string    `json:"error,omitempty"`
}

// Report aggregates one ExpandDue pass.
type Report struct {
	At        time.Time `json:"at"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Ended     int       `json:"ended"`
	Failed    []Result  `json:"failed"` // failed_insert
	Errors    []Result  `json:"errors"` // error
	Results   []Result  `json:"results"`
}

// Err joins every per-template failure, or nil.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Failed {
		errs = append(errs, res.Err)
	}
	for _, res := range r.Errors {
		errs = append(errs, res.Err)
	}
	return errors.Join(errs...)
}

// Config tunes a pass.
type Config struct {
	// Workers bounds concurrently expanded templates. 0 uses engine.DefaultWorkers.
	Workers int
	// InsertRatePerSec throttles instance inserts. 0 disables throttling.
	InsertRatePerSec int
}

type Expander struct {
	store   Store
	log     logx.Logger
	bus     eventbus.Bus
	cfg     Config
	limiter *rate.Limiter
	newID   func() string

	questChain  []QuestResolver
	statusChain []StatusResolver
}

type Option func(*Expander)

func WithBus(bus eventbus.Bus) Option { return func(e *Expander) { e.bus = bus } }

// WithIDs overrides instance id generation.
func WithIDs(fn func() string) Option { return func(e *Expander) { e.newID = fn } }

// WithQuestChain replaces the target-quest fallback chain.
func WithQuestChain(chain ...QuestResolver) Option {
	return func(e *Expander) { e.questChain = chain }
}

// WithStatusChain replaces the target-status fallback chain.
func WithStatusChain(chain ...StatusResolver) Option {
	return func(e *Expander) { e.statusChain = chain }
}

func New(store Store, cfg Config, log logx.Logger, opts ...Option) *Expander {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Expander{
		store:       store,
		log:         log,
		bus:         eventbus.Nop(),
		cfg:         cfg,
		newID:       uuid.NewString,
		questChain:  DefaultQuestChain,
		statusChain: DefaultStatusChain,
	}
	if cfg.InsertRatePerSec > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.InsertRatePerSec), cfg.InsertRatePerSec)
	}
	for _, o := range opts {
		o(e)
	}
	if e.bus == nil {
		e.bus = eventbus.Nop()
	}
	return e
}

// ExpandDue processes every template with is_recurring and next_due <= now.
//
// Templates are independent: a failure is recorded in the report and never
// stops the others. The error is non-nil only when due templates could not be
// loaded at all.
func (e *Expander) ExpandDue(ctx context.Context, now time.Time) (Report, error) {
	rep := Report{At: now, Failed: []Result{}, Errors: []Result{}}

	due, err := e.store.DueTemplates(ctx, now)
	if err != nil {
		return rep, model.DataAccess("load due templates", err)
	}
	rep.Total = len(due)
	rep.Results = make([]Result, len(due))

	errs := engine.Fanout(ctx, e.cfg.Workers, len(due), func(ctx context.Context, i int) error {
		rep.Results[i] = e.expandOne(ctx, due[i], now)
		return nil
	})
	for i, ferr := range errs {
		// Panics and items that never started (ctx ended).
		if ferr != nil {
			if errors.Is(ferr, engine.ErrPanic) {
				e.log.Error("template expansion panicked", logx.String("template", due[i].ID), logx.Stack([]byte(engine.PanicStack(ferr))))
			}
			rep.Results[i] = fail(Result{TemplateID: due[i].ID, TeamID: due[i].TeamID, Intended: due[i].NextDue}, Errored, ferr)
		}
	}

	for _, r := range rep.Results {
		switch r.Outcome {
		case Processed:
			rep.Processed++
		case Ended:
			rep.Ended++
		case FailedInsert:
			rep.Failed = append(rep.Failed, r)
		default:
			rep.Errors = append(rep.Errors, r)
		}
	}

	e.bus.Publish(eventbus.Event{Type: eventbus.ExpansionFinished, Time: now, Data: rep})
	if rep.Total > 0 {
		e.log.Info("expansion pass finished",
			logx.Int("total", rep.Total),
			logx.Int("processed", rep.Processed),
			logx.Int("ended", rep.Ended),
			logx.Int("failed_insert", len(rep.Failed)),
			logx.Int("errors", len(rep.Errors)),
		)
	}
	return rep, nil
}

func (e *Expander) expandOne(ctx context.Context, tpl model.Task, now time.Time) Result {
	res := Result{TemplateID: tpl.ID, TeamID: tpl.TeamID, Intended: tpl.NextDue}
	log := e.log.With(logx.String("template", tpl.ID), logx.String("team", tpl.TeamID))

	next, err := tpl.Rule.Next(res.Intended)
	if err != nil {
		return fail(res, Errored, fmt.Errorf("template %s: %w", tpl.ID, err))
	}
	res.Next = next

	// The end date is compared with the next trigger, not the intended date:
	// the occurrence due now is not instantiated when the series ends.
	if tpl.RecurrenceEnd != nil && tpl.RecurrenceEnd.Before(next) {
		if err := e.store.EndTemplate(ctx, tpl.ID); err != nil {
			return fail(res, Errored, model.DataAccess("end template", err))
		}
		res.Outcome = Ended
		e.bus.Publish(eventbus.Event{Type: eventbus.TemplateEnded, TeamID: tpl.TeamID, Time: now, Data: res})
		log.Info("recurrence ended", logx.Time("recurrence_end", *tpl.RecurrenceEnd))
		return res
	}

	quests, err := e.store.ListQuests(ctx, tpl.TeamID)
	if err != nil {
		return fail(res, Errored, model.DataAccess("list quests", err))
	}
	res.QuestID = resolveQuest(e.questChain, QuestQuery{Template: tpl, Intended: res.Intended, Quests: quests})

	res.StatusID, err = resolveStatus(ctx, e.statusChain, e.store, tpl)
	if err != nil {
		return fail(res, Errored, err)
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return fail(res, Errored, err)
		}
	}

	inst := newInstance(tpl, e.newID(), res.QuestID, res.StatusID, now)
	if err := e.store.InsertTask(ctx, inst); err != nil {
		log.Warn("instance insert failed", logx.Err(err))
		return fail(res, FailedInsert, model.CreationFailure(tpl.ID, err))
	}
	res.InstanceID = inst.ID

	if err := e.store.AdvanceTemplate(ctx, tpl.ID, next); err != nil {
		// The instance exists; the template stays due and will be expanded again.
		log.Error("template advance failed after insert", logx.String("instance", inst.ID), logx.Err(err))
		return fail(res, Errored, model.DataAccess("advance template", err))
	}
	res.Outcome = Processed
	e.bus.Publish(eventbus.Event{Type: eventbus.InstanceCreated, TeamID: tpl.TeamID, Time: now, Data: res})
	log.Debug("instance created",
		logx.String("instance", inst.ID),
		logx.String("quest", res.QuestID),
		logx.Time("next_due", next),
	)
	return res
}

func newInstance(tpl model.Task, id, questID, statusID string, now time.Time) model.Task {
	return model.Task{
		ID:               id,
		TeamID:           tpl.TeamID,
		Title:            tpl.Title,
		Description:      tpl.Description,
		Size:             tpl.Size,
		Urgency:          tpl.Urgency,
		XP:               model.ComputeXP(tpl.Size, tpl.Urgency),
		AssigneeID:       tpl.AssigneeID,
		ClientID:         tpl.ClientID,
		QuestID:          questID,
		StatusID:         statusID,
		IsRecurring:      false,
		ParentTemplateID: tpl.ID,
		CreatedAt:        now,
	}
}

func fail(r Result, o Outcome, err error) Result {
	r.Outcome = o
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
