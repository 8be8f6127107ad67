package progress

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds progress notifier settings. BufferSize bounds the short
// per-workflow replay buffer for reconnecting subscribers; Retention and
// CleanupInterval bound memory growth under subscriber churn.
type Config struct {
	BufferSize      int    `toml:"buffer_size"`
	ChannelSize     int    `toml:"channel_size"`
	Retention       string `toml:"retention"`
	CleanupInterval string `toml:"cleanup_interval"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	BufferSize string
	Retention  string
}

// RetentionDuration returns Retention as a time.Duration.
func (c *Config) RetentionDuration() time.Duration {
	d, _ := time.ParseDuration(c.Retention)
	return d
}

// CleanupIntervalDuration returns CleanupInterval as a time.Duration.
func (c *Config) CleanupIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.CleanupInterval)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.BufferSize != 0 {
		c.BufferSize = overlay.BufferSize
	}
	if overlay.ChannelSize != 0 {
		c.ChannelSize = overlay.ChannelSize
	}
	if overlay.Retention != "" {
		c.Retention = overlay.Retention
	}
	if overlay.CleanupInterval != "" {
		c.CleanupInterval = overlay.CleanupInterval
	}
}

func (c *Config) loadDefaults() {
	if c.BufferSize == 0 {
		c.BufferSize = 32
	}
	if c.ChannelSize == 0 {
		c.ChannelSize = 64
	}
	if c.Retention == "" {
		c.Retention = "5m"
	}
	if c.CleanupInterval == "" {
		c.CleanupInterval = "30s"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.BufferSize != "" {
		if v := os.Getenv(env.BufferSize); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.BufferSize = n
			}
		}
	}
	if env.Retention != "" {
		if v := os.Getenv(env.Retention); v != "" {
			c.Retention = v
		}
	}
}

func (c *Config) validate() error {
	if c.BufferSize < 1 {
		return fmt.Errorf("invalid buffer_size: %d", c.BufferSize)
	}
	if c.ChannelSize < 1 {
		return fmt.Errorf("invalid channel_size: %d", c.ChannelSize)
	}
	if _, err := time.ParseDuration(c.Retention); err != nil {
		return fmt.Errorf("invalid retention: %w", err)
	}
	if _, err := time.ParseDuration(c.CleanupInterval); err != nil {
		return fmt.Errorf("invalid cleanup_interval: %w", err)
	}
	return nil
}
