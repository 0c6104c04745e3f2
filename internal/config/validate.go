package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"questline/internal/task/scheduler"
)

const (
	DefaultRecurrenceSchedule = "*/5 * * * *"
	DefaultReconcileSchedule  = "@hourly"
	DefaultHTTPAddr           = "127.0.0.1:8080"
)

// ApplyDefaults fills omitted fields.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "memory"
	}
	if strings.TrimSpace(c.Recurrence.Schedule) == "" {
		c.Recurrence.Schedule = DefaultRecurrenceSchedule
	}
	if strings.TrimSpace(c.Reconcile.Schedule) == "" {
		c.Reconcile.Schedule = DefaultReconcileSchedule
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
}

// Validate rejects configs that would fail at wiring time, so a bad hot reload
// is refused instead of half-applied.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add(errors.New("storage.path is required when storage.driver=sqlite"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown %q", c.Storage.Driver))
	}
	_, err := Duration("storage.busy_timeout", c.Storage.BusyTimeout)
	add(err)

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}
	if c.Scheduler.HistorySize < 0 {
		add(errors.New("scheduler.history_size must be >= 0"))
	}

	add(validateSchedule("recurrence.schedule", c.Recurrence.Schedule))
	_, err = Duration("recurrence.timeout", c.Recurrence.Timeout)
	add(err)
	if c.Recurrence.Workers < 0 {
		add(errors.New("recurrence.workers must be >= 0"))
	}
	if c.Recurrence.InsertRatePerSec < 0 {
		add(errors.New("recurrence.insert_rate_per_sec must be >= 0"))
	}

	add(validateSchedule("reconcile.schedule", c.Reconcile.Schedule))
	_, err = Duration("reconcile.timeout", c.Reconcile.Timeout)
	add(err)
	if c.Reconcile.Workers < 0 {
		add(errors.New("reconcile.workers must be >= 0"))
	}

	_, err = Duration("http.read_timeout", c.HTTP.ReadTimeout)
	add(err)
	_, err = Duration("http.write_timeout", c.HTTP.WriteTimeout)
	add(err)

	return errors.Join(errs...)
}

func validateSchedule(path, raw string) error {
	if strings.EqualFold(strings.TrimSpace(raw), "off") {
		return nil
	}
	if _, err := scheduler.ParseSchedule(raw); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// ScheduleOff reports whether a periodic job is disabled ("off").
func ScheduleOff(raw string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), "off")
}
