// Package config loads the throttle command's configuration from an
// optional YAML file and THROTTLE_* environment variables, on top of
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/ryhazerus/throttle"
)

// EnvPrefix prefixes every environment override, e.g. THROTTLE_GUARD_MAX_RETRIES.
const EnvPrefix = "THROTTLE"

// Load reads configuration from path, or from ./throttle.yaml or
// $HOME/.config/throttle/throttle.yaml when path is empty. A missing
// default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("throttle")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/throttle")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	ctrl := throttle.DefaultControllerConfig()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "throttle.db")

	v.SetDefault("guard.max_retries", throttle.DefaultMaxRetries)
	v.SetDefault("guard.max_wait", throttle.DefaultMaxWait)
	v.SetDefault("guard.max_retry_after", time.Minute)
	v.SetDefault("guard.strategy", throttle.Strict.String())

	v.SetDefault("adaptive.initial_rate", ctrl.InitialRate)
	v.SetDefault("adaptive.max_rate", ctrl.MaxRate)
	v.SetDefault("adaptive.window", ctrl.Window.Duration())
	v.SetDefault("adaptive.reduction_factor", ctrl.ReductionFactor)
	v.SetDefault("adaptive.increase_factor", ctrl.IncreaseFactor)
	v.SetDefault("adaptive.cooldown", ctrl.Cooldown)
}

// Validate checks the parts of the configuration the library does not
// check itself.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("invalid store driver %q: want memory or sqlite", c.Store.Driver)
	}
	if _, err := c.Strategy(); err != nil {
		return err
	}
	if c.Guard.MaxWait < 0 {
		return fmt.Errorf("invalid guard max_wait %s", c.Guard.MaxWait)
	}
	if err := c.Controller().Validate(); err != nil {
		return fmt.Errorf("invalid adaptive settings: %w", err)
	}
	for i, l := range c.Limits {
		if l.Scope == "" || l.Resource == "" {
			return fmt.Errorf("limits[%d]: scope and resource are required", i)
		}
		if !l.Adaptive && !(l.PerMinute > 0) {
			return fmt.Errorf("limits[%d] %s/%s: per_minute must be positive", i, l.Scope, l.Resource)
		}
	}
	return nil
}

// Strategy parses Guard.Strategy.
func (c *Config) Strategy() (throttle.Strategy, error) {
	switch strings.ToLower(c.Guard.Strategy) {
	case "", "strict":
		return throttle.Strict, nil
	case "log_only", "logonly":
		return throttle.LogOnly, nil
	}
	return 0, fmt.Errorf("invalid guard strategy %q: want strict or log_only", c.Guard.Strategy)
}

// Controller returns the adaptive settings as a ControllerConfig.
func (c *Config) Controller() throttle.ControllerConfig {
	return throttle.ControllerConfig{
		InitialRate:     c.Adaptive.InitialRate,
		MaxRate:         c.Adaptive.MaxRate,
		Window:          throttle.Window(c.Adaptive.Window),
		ReductionFactor: c.Adaptive.ReductionFactor,
		IncreaseFactor:  c.Adaptive.IncreaseFactor,
		Cooldown:        c.Adaptive.Cooldown,
		MaxWait:         c.Guard.MaxWait,
	}
}

// GuardOptions returns the guard settings as options for throttle.NewGuard.
func (c *Config) GuardOptions() []throttle.GuardOption {
	strategy, _ := c.Strategy()
	return []throttle.GuardOption{
		throttle.WithMaxRetries(c.Guard.MaxRetries),
		throttle.WithMaxRetryAfter(c.Guard.MaxRetryAfter),
		throttle.WithStrategy(strategy),
	}
}

// Apply configures reg with every entry of Limits.
func (c *Config) Apply(reg *throttle.Registry) error {
	for _, l := range c.Limits {
		var err error
		if l.Adaptive {
			err = reg.SetAdaptive(l.Scope, l.Resource, c.Controller())
		} else {
			err = reg.SetLimit(l.Scope, l.Resource, l.PerMinute, throttle.Window(l.Window))
		}
		if err != nil {
			return err
		}
	}
	return nil
}
