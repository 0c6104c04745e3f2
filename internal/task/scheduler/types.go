package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	logx "questline/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled     bool
	Timezone    string // IANA TZ, e.g. "Asia/Jakarta"
	HistorySize int    // finished runs kept for Snapshot (default 50)
}

// Job is the unit a schedule fires.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration // initial random delay for @every schedules
	running       *atomic.Bool
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// Jobs never take mu: restartLocked waits for them while holding it.
	ctxMu  sync.RWMutex
	runCtx context.Context

	// Skip warnings are throttled per schedule name.
	skipMu       sync.Mutex
	lastSkipWarn map[string]time.Time

	histMu   sync.Mutex
	histSize int
	history  []HistoryItem
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Running bool          `json:"running"`
	Next    time.Time     `json:"next"`
	NextIn  string        `json:"next_in,omitempty"` // "4 minutes from now"
	Prev    time.Time     `json:"prev"`
}

// HistoryItem is one finished run.
type HistoryItem struct {
	Name    string        `json:"name"`
	Started time.Time     `json:"started"`
	Took    time.Duration `json:"took"`
	Error   string        `json:"error,omitempty"`
}

type Snapshot struct {
	Enabled   bool           `json:"enabled"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
	History   []HistoryItem  `json:"history"`
}
