package engine

import (
	"fmt"
	"os"
	"time"
)

// Config bounds workflow execution: an overall wall-clock budget per
// workflow and a dispatch concurrency cap per stage kind.
type Config struct {
	WorkflowTimeout    string         `toml:"workflow_timeout"`
	DefaultConcurrency int            `toml:"default_concurrency"`
	StageConcurrency   map[string]int `toml:"stage_concurrency"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	WorkflowTimeout string
}

// WorkflowTimeoutDuration returns WorkflowTimeout as a time.Duration.
func (c *Config) WorkflowTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.WorkflowTimeout)
	return d
}

// ConcurrencyFor returns the dispatch concurrency cap for a stage kind.
func (c *Config) ConcurrencyFor(kind string) int {
	if limit, ok := c.StageConcurrency[kind]; ok && limit > 0 {
		return limit
	}
	return c.DefaultConcurrency
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
	if overlay.WorkflowTimeout != "" {
		c.WorkflowTimeout = overlay.WorkflowTimeout
	}
	if overlay.DefaultConcurrency != 0 {
		c.DefaultConcurrency = overlay.DefaultConcurrency
	}
	if len(overlay.StageConcurrency) > 0 {
		if c.StageConcurrency == nil {
			c.StageConcurrency = make(map[string]int)
		}
		for kind, limit := range overlay.StageConcurrency {
			c.StageConcurrency[kind] = limit
		}
	}
}

func (c *Config) loadDefaults() {
	if c.WorkflowTimeout == "" {
		c.WorkflowTimeout = "30m"
	}
	if c.DefaultConcurrency == 0 {
		c.DefaultConcurrency = 4
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.WorkflowTimeout != "" {
		if v := os.Getenv(env.WorkflowTimeout); v != "" {
			c.WorkflowTimeout = v
		}
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.WorkflowTimeout); err != nil {
		return fmt.Errorf("engine: invalid workflow_timeout: %w", err)
	}
	if c.DefaultConcurrency < 1 {
		return fmt.Errorf("engine: invalid default_concurrency: %d", c.DefaultConcurrency)
	}
	for kind, limit := range c.StageConcurrency {
		if limit < 1 {
			return fmt.Errorf("engine: invalid stage_concurrency for %s: %d", kind, limit)
		}
	}
	return nil
}
