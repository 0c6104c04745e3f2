package storage

import (
	"context"
	"errors"
	"time"

	"questline/internal/model"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps, lost on restart
//   - "sqlite": SQLite database file
//
// An empty Driver means "memory".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the scheduling core and the app layer.
//
// Reads of quests never return archived quests.
type Store interface {
	ListQuests(ctx context.Context, teamID string) ([]model.Quest, error)
	ListQuestTeams(ctx context.Context) ([]string, error)
	SetQuestActive(ctx context.Context, questID string, active bool) error
	SaveQuest(ctx context.Context, q model.Quest) error

	BacklogStatus(ctx context.Context, teamID string) (model.Status, bool, error)
	SaveStatus(ctx context.Context, st model.Status) error

	DueTemplates(ctx context.Context, now time.Time) ([]model.Task, error)
	InsertTask(ctx context.Context, t model.Task) error
	SaveTask(ctx context.Context, t model.Task) error
	AdvanceTemplate(ctx context.Context, templateID string, nextDue time.Time) error
	EndTemplate(ctx context.Context, templateID string) error
	GetTask(ctx context.Context, id string) (model.Task, bool, error)
	ListInstances(ctx context.Context, templateID string) ([]model.Task, error)

	AppendRun(ctx context.Context, e RunEntry) error
	RecentRuns(ctx context.Context, limit int) ([]RunEntry, error)

	Close() error
}

// RunEntry records one scheduling sweep.
// Keep it compact and schema-stable.
type RunEntry struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`  // "expand" | "reconcile"
	Scope  string    `json:"scope"` // team id, or "*" for global sweeps
	Total  int       `json:"total"`
	OK     int       `json:"ok"`
	Fail   int       `json:"fail"`
	Error  string    `json:"error,omitempty"`
	TookMS int64     `json:"took_ms"`
}
