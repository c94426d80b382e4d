package config

import (
	"time"
)

// Config is the configuration of the throttle command.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Store    StoreConfig    `mapstructure:"store"`
	Guard    GuardConfig    `mapstructure:"guard"`
	Adaptive AdaptiveConfig `mapstructure:"adaptive"`
	Limits   []LimitConfig  `mapstructure:"limits"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Development switches to zap's human-readable console encoder.
	Development bool `mapstructure:"development"`
}

// StoreConfig selects where bucket state is persisted.
type StoreConfig struct {
	// Driver is memory or sqlite.
	Driver string `mapstructure:"driver"`
	// Path is the SQLite database file. ":memory:" keeps it in process.
	Path string `mapstructure:"path"`
}

// GuardConfig holds the retry settings of guarded calls.
type GuardConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	MaxWait       time.Duration `mapstructure:"max_wait"`
	MaxRetryAfter time.Duration `mapstructure:"max_retry_after"`
	// Strategy is strict or log_only.
	Strategy string `mapstructure:"strategy"`
}

// AdaptiveConfig holds the tuning parameters applied to adaptive limits.
type AdaptiveConfig struct {
	InitialRate     float64       `mapstructure:"initial_rate"`
	MaxRate         float64       `mapstructure:"max_rate"`
	Window          time.Duration `mapstructure:"window"`
	ReductionFactor float64       `mapstructure:"reduction_factor"`
	IncreaseFactor  float64       `mapstructure:"increase_factor"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
}

// LimitConfig declares one registry entry. Adaptive entries take their
// parameters from AdaptiveConfig and ignore PerMinute.
type LimitConfig struct {
	Scope     string        `mapstructure:"scope"`
	Resource  string        `mapstructure:"resource"`
	PerMinute float64       `mapstructure:"per_minute"`
	Window    time.Duration `mapstructure:"window"`
	Adaptive  bool          `mapstructure:"adaptive"`
}
