package config

// Config is the full process configuration. Files may be JSON or YAML; YAML is
// coerced to JSON before strict decoding, so unknown fields are rejected in
// both formats.
//
// All duration-typed fields are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Generals GeneralsConfig `json:"generals"`
	Tracker  TrackerConfig  `json:"tracker"`
	Notifier NotifierConfig `json:"notifier,omitempty"`
	Dedup    DedupConfig    `json:"dedup,omitempty"`
	Storage  StorageConfig  `json:"storage"`
	Persist  PersistConfig  `json:"persist,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`

	// OperatorUserIDs lists user ids with privileged-command rights
	// regardless of their chat role.
	OperatorUserIDs []int64 `json:"operator_user_ids,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// GeneralsConfig points at the generals.io public API.
type GeneralsConfig struct {
	BaseURL     string `json:"base_url,omitempty"`
	HTTPTimeout string `json:"http_timeout,omitempty"`
}

// TrackerConfig controls the per-player poll loops.
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "15s"
//   - error_backoff: "30s"
//   - timezone: "Local"
type TrackerConfig struct {
	PollInterval string `json:"poll_interval,omitempty"`
	ErrorBackoff string `json:"error_backoff,omitempty"`

	// Timezone is the IANA zone used when rendering match times.
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig controls the async broadcast pipeline.
type NotifierConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// DedupConfig bounds the replay-id dedup cache. Replay ids only need to be
// remembered long enough to cover concurrent pollers' detection windows.
type DedupConfig struct {
	Window     string `json:"window,omitempty"`
	MaxEntries int    `json:"max_entries,omitempty"`
}

// StorageConfig selects the persistence backend.
//
// Driver values:
//   - "file": YAML snapshot with a secondary backup copy
//   - "sqlite": SQLite database file
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// PersistConfig controls the periodic snapshot flush.
type PersistConfig struct {
	Interval string `json:"interval,omitempty"`
}
