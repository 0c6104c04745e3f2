package config

// Config is the questd daemon configuration (JSON or YAML).
//
// Unknown keys are rejected so typos surface at load and hot reload.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Recurrence RecurrenceConfig `json:"recurrence"`
	Reconcile  ReconcileConfig  `json:"reconcile"`
	HTTP       HTTPConfig       `json:"http"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/questd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // memory (default) | sqlite
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the in-process trigger.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"` // IANA TZ
	// HistorySize bounds finished runs kept for GET /schedules.
	HistorySize int `json:"history_size,omitempty"`
}

// RecurrenceConfig controls the periodic ExpandDue pass.
//
// Schedule accepts anything scheduler.ParseSchedule does ("*/5 * * * *", "15m", "00:30").
type RecurrenceConfig struct {
	Schedule         string `json:"schedule"`
	Timeout          string `json:"timeout,omitempty"`
	Workers          int    `json:"workers,omitempty"`
	InsertRatePerSec int    `json:"insert_rate_per_sec,omitempty"`
}

// ReconcileConfig controls the periodic ReconcileAll sweep.
type ReconcileConfig struct {
	Schedule string `json:"schedule"`
	Timeout  string `json:"timeout,omitempty"`
	Workers  int    `json:"workers,omitempty"`
}

// HTTPConfig controls the HTTP entry points.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - Token is a bearer token for every route except /health (do not log).
type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"`
	Token        string `json:"token,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof (token protected when set).
	Pprof bool `json:"pprof,omitempty"`
}
