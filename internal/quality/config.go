package quality

import (
	"fmt"
	"os"
	"strconv"

	"github.com/curricle/curricle/workflow"
)

// Config holds quality gate weights and thresholds. Source authorities and
// field severities have no principled derivation; they are deployment
// configuration with conservative defaults.
type Config struct {
	Weights            map[string]float64 `toml:"weights"`
	ApprovalThreshold  float64            `toml:"approval_threshold"`
	AuthorityThreshold float64            `toml:"authority_threshold"`
	ConsensusThreshold float64            `toml:"consensus_threshold"`
	Authorities        map[string]float64 `toml:"authorities"`
	Severities         map[string]string  `toml:"severities"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	ApprovalThreshold  string
	AuthorityThreshold string
	ConsensusThreshold string
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
	if len(overlay.Weights) > 0 {
		c.Weights = overlay.Weights
	}
	if overlay.ApprovalThreshold != 0 {
		c.ApprovalThreshold = overlay.ApprovalThreshold
	}
	if overlay.AuthorityThreshold != 0 {
		c.AuthorityThreshold = overlay.AuthorityThreshold
	}
	if overlay.ConsensusThreshold != 0 {
		c.ConsensusThreshold = overlay.ConsensusThreshold
	}
	if len(overlay.Authorities) > 0 {
		c.Authorities = overlay.Authorities
	}
	if len(overlay.Severities) > 0 {
		c.Severities = overlay.Severities
	}
}

// Weight returns the configured weight for a dimension.
func (c *Config) Weight(dim workflow.Dimension) float64 {
	return c.Weights[string(dim)]
}

// Authority returns the configured authority for a source, or the report's
// own claimed value when the source is not configured.
func (c *Config) Authority(source string, claimed float64) float64 {
	if a, ok := c.Authorities[source]; ok {
		return a
	}
	return claimed
}

// SeverityFor returns the configured severity for a disputed field,
// defaulting to medium.
func (c *Config) SeverityFor(field string) workflow.Severity {
	if s, ok := c.Severities[field]; ok {
		return workflow.Severity(s)
	}
	return workflow.SeverityMedium
}

func (c *Config) loadDefaults() {
	if len(c.Weights) == 0 {
		c.Weights = map[string]float64{
			string(workflow.DimCompleteness): 0.25,
			string(workflow.DimAccuracy):     0.25,
			string(workflow.DimConsistency):  0.20,
			string(workflow.DimTimeliness):   0.15,
			string(workflow.DimValidity):     0.15,
		}
	}
	if c.ApprovalThreshold == 0 {
		c.ApprovalThreshold = 0.8
	}
	if c.AuthorityThreshold == 0 {
		c.AuthorityThreshold = 0.8
	}
	if c.ConsensusThreshold == 0 {
		c.ConsensusThreshold = 0.6
	}
}

func (c *Config) loadEnv(env *Env) {
	set := func(name string, target *float64) {
		if name == "" {
			return
		}
		if v := os.Getenv(name); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*target = f
			}
		}
	}

	set(env.ApprovalThreshold, &c.ApprovalThreshold)
	set(env.AuthorityThreshold, &c.AuthorityThreshold)
	set(env.ConsensusThreshold, &c.ConsensusThreshold)
}

func (c *Config) validate() error {
	check := func(name string, v float64) error {
		if v <= 0 || v > 1 {
			return fmt.Errorf("invalid %s: %v", name, v)
		}
		return nil
	}

	if err := check("approval_threshold", c.ApprovalThreshold); err != nil {
		return err
	}
	if err := check("authority_threshold", c.AuthorityThreshold); err != nil {
		return err
	}
	if err := check("consensus_threshold", c.ConsensusThreshold); err != nil {
		return err
	}

	for dim, w := range c.Weights {
		if w < 0 || w > 1 {
			return fmt.Errorf("invalid weight for %s: %v", dim, w)
		}
	}

	return nil
}
