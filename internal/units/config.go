package units

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/curricle/curricle/workflow"
)

// externalKinds are the stage kinds dispatched to HTTP work units. The
// semantic-compare and aggregate stages run in process.
var externalKinds = []workflow.StageKind{
	workflow.KindExtractContent,
	workflow.KindPeerDiscover,
	workflow.KindAccreditationCheck,
	workflow.KindQualityValidate,
}

// Config holds work unit endpoints and in-process unit settings.
// Endpoints maps stage kinds to the base URL of the unit serving them.
type Config struct {
	Endpoints  map[string]string `toml:"endpoints"`
	Collection string            `toml:"collection"`
	TopK       int               `toml:"top_k"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	ExtractContent     string
	PeerDiscover       string
	AccreditationCheck string
	QualityValidate    string
	Collection         string
	TopK               string
}

// EndpointFor returns the configured endpoint for a stage kind.
func (c *Config) EndpointFor(kind workflow.StageKind) string {
	return c.Endpoints[string(kind)]
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
	if len(overlay.Endpoints) > 0 {
		if c.Endpoints == nil {
			c.Endpoints = make(map[string]string)
		}
		for kind, endpoint := range overlay.Endpoints {
			c.Endpoints[kind] = endpoint
		}
	}
	if overlay.Collection != "" {
		c.Collection = overlay.Collection
	}
	if overlay.TopK != 0 {
		c.TopK = overlay.TopK
	}
}

func (c *Config) loadDefaults() {
	if c.Endpoints == nil {
		c.Endpoints = make(map[string]string)
	}
	if c.Collection == "" {
		c.Collection = "course-embeddings"
	}
	if c.TopK == 0 {
		c.TopK = 10
	}
}

func (c *Config) loadEnv(env *Env) {
	set := func(name string, kind workflow.StageKind) {
		if name == "" {
			return
		}
		if v := os.Getenv(name); v != "" {
			c.Endpoints[string(kind)] = v
		}
	}

	set(env.ExtractContent, workflow.KindExtractContent)
	set(env.PeerDiscover, workflow.KindPeerDiscover)
	set(env.AccreditationCheck, workflow.KindAccreditationCheck)
	set(env.QualityValidate, workflow.KindQualityValidate)

	if env.Collection != "" {
		if v := os.Getenv(env.Collection); v != "" {
			c.Collection = v
		}
	}
	if env.TopK != "" {
		if v := os.Getenv(env.TopK); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.TopK = n
			}
		}
	}
}

func (c *Config) validate() error {
	for _, kind := range externalKinds {
		endpoint := c.Endpoints[string(kind)]
		if endpoint == "" {
			return fmt.Errorf("units: missing endpoint for %s", kind)
		}
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			return fmt.Errorf("units: invalid endpoint for %s: %w", kind, err)
		}
	}
	if c.TopK < 1 {
		return fmt.Errorf("units: invalid top_k: %d", c.TopK)
	}
	return nil
}
