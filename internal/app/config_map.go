package app

import (
	"strings"
	"time"

	"questline/internal/api"
	"questline/internal/config"
	"questline/internal/recurrence"
	"questline/internal/storage"
	"questline/internal/task/scheduler"
	logx "questline/pkg/logx"
)

const (
	defaultExpandTimeout    = 2 * time.Minute
	defaultReconcileTimeout = time.Minute
	defaultBusyTimeout      = time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.DurationOr("storage.busy_timeout", cfg.Storage.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:     cfg.Scheduler.Enabled,
		Timezone:    cfg.Scheduler.Timezone,
		HistorySize: cfg.Scheduler.HistorySize,
	}
}

func mapRecurrenceConfig(cfg *config.Config) (recurrence.Config, time.Duration, error) {
	timeout, err := config.DurationOr("recurrence.timeout", cfg.Recurrence.Timeout, defaultExpandTimeout)
	if err != nil {
		return recurrence.Config{}, 0, err
	}
	return recurrence.Config{
		Workers:          cfg.Recurrence.Workers,
		InsertRatePerSec: cfg.Recurrence.InsertRatePerSec,
	}, timeout, nil
}

func mapReconcileTimeout(cfg *config.Config) (time.Duration, error) {
	return config.DurationOr("reconcile.timeout", cfg.Reconcile.Timeout, defaultReconcileTimeout)
}

func mapHTTPConfig(cfg *config.Config) (api.ServerConfig, error) {
	rt, err := config.DurationOr("http.read_timeout", cfg.HTTP.ReadTimeout, 30*time.Second)
	if err != nil {
		return api.ServerConfig{}, err
	}
	// WriteTimeout defaults to 0 (disabled) so /debug/pprof/profile works.
	wt, err := config.Duration("http.write_timeout", cfg.HTTP.WriteTimeout)
	if err != nil {
		return api.ServerConfig{}, err
	}
	return api.ServerConfig{Addr: strings.TrimSpace(cfg.HTTP.Addr), ReadTimeout: rt, WriteTimeout: wt}, nil
}
