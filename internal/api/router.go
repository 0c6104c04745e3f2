// Package api exposes the scheduling core over HTTP.
package api

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"questline/internal/model"
	"questline/internal/quest"
	"questline/internal/recurrence"
	"questline/internal/storage"
	"questline/internal/task/scheduler"
	logx "questline/pkg/logx"
)

// Quests validates and reconciles quest windows.
type Quests interface {
	ValidateOverlap(ctx context.Context, teamID string, candidate model.Window, excludeID string) error
	Reconcile(ctx context.Context, teamID string) (quest.ReconcileResult, error)
}

// Recurrence runs one expansion pass as of now.
type Recurrence interface {
	ExpandDue(ctx context.Context, now time.Time) (recurrence.Report, error)
}

// Tasks reads templates and their generated instances.
type Tasks interface {
	GetTask(ctx context.Context, id string) (model.Task, bool, error)
	ListInstances(ctx context.Context, templateID string) ([]model.Task, error)
}

type Runs interface {
	RecentRuns(ctx context.Context, limit int) ([]storage.RunEntry, error)
}

type Schedules interface {
	Snapshot() scheduler.Snapshot
}

// Deps wires the router. Nil optional members disable their routes.
type Deps struct {
	Quests     Quests
	Recurrence Recurrence
	Tasks      Tasks
	Runs       Runs
	Schedules  Schedules
	// Health returns extra status detail and whether the daemon is healthy.
	Health func() (any, bool)

	Token string
	Pprof bool
	Now   func() time.Time
	Log   logx.Logger
}

// NewRouter creates the chi router with all routes and middleware.
func NewRouter(d Deps) *chi.Mux {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	h := &handlers{d: d}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(d.Log))
	r.Use(Recovery(d.Log))

	r.Get("/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(d.Token))

		r.Route("/teams/{team}/quests", func(r chi.Router) {
			r.Post("/validate", h.validateQuest)
			r.Post("/reconcile", h.reconcileQuests)
		})
		r.Post("/recurrence/expand", h.expand)
		if d.Tasks != nil {
			r.Get("/tasks/{id}", h.getTask)
			r.Get("/tasks/{id}/instances", h.listInstances)
		}
		if d.Runs != nil {
			r.Get("/runs", h.runs)
		}
		if d.Schedules != nil {
			r.Get("/schedules", h.schedules)
		}
		if d.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}
