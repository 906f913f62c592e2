package config

// Config is the whole engine configuration. YAML and JSON are both
// accepted; unknown fields are rejected.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Dispatch DispatchConfig `json:"dispatch"`
	Sweep    SweepConfig    `json:"sweep"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./membot.db" }
type StorageConfig struct {
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// PendingLimit caps concurrently pending broadcasts (default 12).
	PendingLimit int `json:"pending_limit,omitempty"`
}

// DispatchConfig controls broadcast delivery.
//
// Defaults (when fields are omitted/zero):
//   - workers: 16
//   - rate_per_sec: 10
type DispatchConfig struct {
	Workers    int `json:"workers,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// SweepConfig controls the periodic sweeps. Specs are cron expressions;
// six-field (with seconds) specs are accepted.
type SweepConfig struct {
	Timezone string `json:"timezone,omitempty"`
	// Due is how often pending broadcasts are checked for due work.
	Due string `json:"due,omitempty"`
	// Expiry is the main membership-expiration check.
	Expiry string `json:"expiry,omitempty"`
	// ExpiryBackup bounds staleness if the main run is missed.
	ExpiryBackup string `json:"expiry_backup,omitempty"`
}

// Sweep cadence defaults, matching the operational profile the engine was
// built for: near-immediate broadcast pickup, a low-traffic-hour expiry
// pass and a backup pass to bound staleness.
const (
	DefaultDueSpec          = "*/30 * * * * *"
	DefaultExpirySpec       = "0 2 * * *"
	DefaultExpiryBackupSpec = "0 */6 * * *"
)

func (c *SweepConfig) DueSpec() string {
	if c.Due == "" {
		return DefaultDueSpec
	}
	return c.Due
}

func (c *SweepConfig) ExpirySpec() string {
	if c.Expiry == "" {
		return DefaultExpirySpec
	}
	return c.Expiry
}

func (c *SweepConfig) ExpiryBackupSpec() string {
	if c.ExpiryBackup == "" {
		return DefaultExpiryBackupSpec
	}
	return c.ExpiryBackup
}
