package retry

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Policy bounds the retry behavior for one stage kind: exponential backoff
// from BaseDelay by Multiplier, capped at MaxDelay, randomized by Jitter to
// avoid thundering-herd retries, with at most MaxAttempts attempts.
// Timeout applies to each individual unit call.
type Policy struct {
	MaxAttempts int     `toml:"max_attempts"`
	BaseDelay   string  `toml:"base_delay"`
	MaxDelay    string  `toml:"max_delay"`
	Multiplier  float64 `toml:"multiplier"`
	Jitter      float64 `toml:"jitter"`
	Timeout     string  `toml:"timeout"`
}

// BaseDelayDuration returns BaseDelay as a time.Duration.
func (p *Policy) BaseDelayDuration() time.Duration {
	d, _ := time.ParseDuration(p.BaseDelay)
	return d
}

// MaxDelayDuration returns MaxDelay as a time.Duration.
func (p *Policy) MaxDelayDuration() time.Duration {
	d, _ := time.ParseDuration(p.MaxDelay)
	return d
}

// TimeoutDuration returns Timeout as a time.Duration.
func (p *Policy) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(p.Timeout)
	return d
}

// Merge overwrites non-zero fields from overlay.
func (p *Policy) Merge(overlay *Policy) {
	if overlay.MaxAttempts != 0 {
		p.MaxAttempts = overlay.MaxAttempts
	}
	if overlay.BaseDelay != "" {
		p.BaseDelay = overlay.BaseDelay
	}
	if overlay.MaxDelay != "" {
		p.MaxDelay = overlay.MaxDelay
	}
	if overlay.Multiplier != 0 {
		p.Multiplier = overlay.Multiplier
	}
	if overlay.Jitter != 0 {
		p.Jitter = overlay.Jitter
	}
	if overlay.Timeout != "" {
		p.Timeout = overlay.Timeout
	}
}

// Config holds the default retry policy plus per-stage-kind overrides.
type Config struct {
	Policy
	Kinds map[string]Policy `toml:"kinds"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	MaxAttempts string
	BaseDelay   string
	MaxDelay    string
	Timeout     string
}

// For returns the effective policy for a stage kind: the default policy
// with the kind's overrides applied.
func (c *Config) For(kind string) Policy {
	policy := c.Policy
	if override, ok := c.Kinds[kind]; ok {
		policy.Merge(&override)
	}
	return policy
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay across per-kind policies.
func (c *Config) Merge(overlay *Config) {
	c.Policy.Merge(&overlay.Policy)
	if len(overlay.Kinds) > 0 {
		if c.Kinds == nil {
			c.Kinds = make(map[string]Policy)
		}
		for kind, policy := range overlay.Kinds {
			base := c.Kinds[kind]
			base.Merge(&policy)
			c.Kinds[kind] = base
		}
	}
}

func (c *Config) loadDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay == "" {
		c.BaseDelay = "500ms"
	}
	if c.MaxDelay == "" {
		c.MaxDelay = "30s"
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.Jitter == 0 {
		c.Jitter = 0.5
	}
	if c.Timeout == "" {
		c.Timeout = "2m"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.MaxAttempts != "" {
		if v := os.Getenv(env.MaxAttempts); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.MaxAttempts = n
			}
		}
	}

	set := func(name string, target *string) {
		if name == "" {
			return
		}
		if v := os.Getenv(name); v != "" {
			*target = v
		}
	}

	set(env.BaseDelay, &c.BaseDelay)
	set(env.MaxDelay, &c.MaxDelay)
	set(env.Timeout, &c.Timeout)
}

func (c *Config) validate() error {
	validatePolicy := func(scope string, p *Policy) error {
		if p.MaxAttempts < 0 {
			return fmt.Errorf("%s: invalid max_attempts: %d", scope, p.MaxAttempts)
		}
		if p.BaseDelay != "" {
			if _, err := time.ParseDuration(p.BaseDelay); err != nil {
				return fmt.Errorf("%s: invalid base_delay: %w", scope, err)
			}
		}
		if p.MaxDelay != "" {
			if _, err := time.ParseDuration(p.MaxDelay); err != nil {
				return fmt.Errorf("%s: invalid max_delay: %w", scope, err)
			}
		}
		if p.Timeout != "" {
			if _, err := time.ParseDuration(p.Timeout); err != nil {
				return fmt.Errorf("%s: invalid timeout: %w", scope, err)
			}
		}
		if p.Jitter < 0 || p.Jitter > 1 {
			return fmt.Errorf("%s: invalid jitter: %v", scope, p.Jitter)
		}
		return nil
	}

	if err := validatePolicy("retry", &c.Policy); err != nil {
		return err
	}
	for kind, policy := range c.Kinds {
		if err := validatePolicy("retry."+kind, &policy); err != nil {
			return err
		}
	}
	return nil
}
