package app

import (
	"fmt"
	"strings"
	"time"

	"genwatch/internal/config"
	"genwatch/internal/generals"
	"genwatch/internal/notifier"
	"genwatch/internal/persist"
	"genwatch/internal/storage"
	"genwatch/internal/tracker"
)

// The map* helpers translate the string-typed config file into each
// component's typed config. They double as hot-reload validators: a mapping
// error rejects the new config before anything is applied.

func mapGeneralsConfig(cfg *config.Config) (generals.Config, error) {
	timeout, err := config.ParseDurationOrDefault("generals.http_timeout", cfg.Generals.HTTPTimeout, 15*time.Second)
	if err != nil {
		return generals.Config{}, err
	}
	return generals.Config{
		BaseURL:     cfg.Generals.BaseURL,
		HTTPTimeout: timeout,
	}, nil
}

func mapTrackerConfig(cfg *config.Config) (tracker.Config, error) {
	interval, err := config.ParseDurationOrDefault("tracker.poll_interval", cfg.Tracker.PollInterval, 15*time.Second)
	if err != nil {
		return tracker.Config{}, err
	}
	backoff, err := config.ParseDurationOrDefault("tracker.error_backoff", cfg.Tracker.ErrorBackoff, 30*time.Second)
	if err != nil {
		return tracker.Config{}, err
	}
	return tracker.Config{PollInterval: interval, ErrorBackoff: backoff}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n.Workers < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.workers must be >= 0")
	}
	if n.QueueSize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	}
	if n.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	}
	retryBase, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
	}, nil
}

func mapDedupConfig(cfg *config.Config) (window time.Duration, maxEntries int, err error) {
	window, err = config.ParseDurationOrDefault("dedup.window", cfg.Dedup.Window, 0)
	if err != nil {
		return 0, 0, err
	}
	if cfg.Dedup.MaxEntries < 0 {
		return 0, 0, fmt.Errorf("dedup.max_entries must be >= 0")
	}
	return window, cfg.Dedup.MaxEntries, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = "data.yml"
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        path,
		BusyTimeout: busy,
	}, nil
}

func mapPersistConfig(cfg *config.Config) (persist.Config, error) {
	interval, err := config.ParseDurationOrDefault("persist.interval", cfg.Persist.Interval, persist.DefaultInterval)
	if err != nil {
		return persist.Config{}, err
	}
	return persist.Config{Interval: interval}, nil
}

func loadTimezone(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Tracker.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("tracker.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}
