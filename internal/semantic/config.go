package semantic

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds semantic index settings. Collections maps logical collection
// names to their vector dimension; names are stable identifiers independent
// of the underlying store's physical table naming.
type Config struct {
	Path        string         `toml:"path"`
	Dimension   int            `toml:"dimension"`
	Collections map[string]int `toml:"collections"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Path      string
	Dimension string
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
	if overlay.Path != "" {
		c.Path = overlay.Path
	}
	if overlay.Dimension != 0 {
		c.Dimension = overlay.Dimension
	}
	if len(overlay.Collections) > 0 {
		if c.Collections == nil {
			c.Collections = make(map[string]int)
		}
		for name, dim := range overlay.Collections {
			c.Collections[name] = dim
		}
	}
}

// DimensionFor returns the configured dimension for a collection,
// falling back to the default dimension.
func (c *Config) DimensionFor(collection string) int {
	if dim, ok := c.Collections[collection]; ok && dim > 0 {
		return dim
	}
	return c.Dimension
}

func (c *Config) loadDefaults() {
	if c.Path == "" {
		c.Path = "curricle-index.db"
	}
	if c.Dimension == 0 {
		c.Dimension = 768
	}
	if c.Collections == nil {
		c.Collections = map[string]int{CollectionCourses: c.Dimension}
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Path != "" {
		if v := os.Getenv(env.Path); v != "" {
			c.Path = v
		}
	}
	if env.Dimension != "" {
		if v := os.Getenv(env.Dimension); v != "" {
			if dim, err := strconv.Atoi(v); err == nil {
				c.Dimension = dim
			}
		}
	}
}

func (c *Config) validate() error {
	if c.Dimension < 1 {
		return fmt.Errorf("invalid dimension: %d", c.Dimension)
	}
	for name, dim := range c.Collections {
		if dim < 1 {
			return fmt.Errorf("invalid dimension for collection %s: %d", name, dim)
		}
	}
	return nil
}
