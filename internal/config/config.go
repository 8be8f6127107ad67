// Package config loads and finalizes service configuration from TOML files
// and environment variables. A base config.toml may be overlaid by a
// config.<env>.toml selected through CURRICLE_ENV; environment variables
// override both.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/curricle/curricle/internal/engine"
	"github.com/curricle/curricle/internal/progress"
	"github.com/curricle/curricle/internal/quality"
	"github.com/curricle/curricle/internal/retry"
	"github.com/curricle/curricle/internal/semantic"
	"github.com/curricle/curricle/internal/units"
	"github.com/curricle/curricle/pkg/database"
	"github.com/curricle/curricle/pkg/storage"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvCurricleEnv             = "CURRICLE_ENV"
	EnvCurricleShutdownTimeout = "CURRICLE_SHUTDOWN_TIMEOUT"
	EnvCurricleVersion         = "CURRICLE_VERSION"
)

var databaseEnv = &database.Env{
	Host:            "CURRICLE_DB_HOST",
	Port:            "CURRICLE_DB_PORT",
	Name:            "CURRICLE_DB_NAME",
	User:            "CURRICLE_DB_USER",
	Password:        "CURRICLE_DB_PASSWORD",
	SSLMode:         "CURRICLE_DB_SSL_MODE",
	MaxOpenConns:    "CURRICLE_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "CURRICLE_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "CURRICLE_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "CURRICLE_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	ContainerName:    "CURRICLE_STORAGE_CONTAINER_NAME",
	ConnectionString: "CURRICLE_STORAGE_CONNECTION_STRING",
}

var engineEnv = &engine.Env{
	WorkflowTimeout: "CURRICLE_ENGINE_WORKFLOW_TIMEOUT",
}

var retryEnv = &retry.Env{
	MaxAttempts: "CURRICLE_RETRY_MAX_ATTEMPTS",
	BaseDelay:   "CURRICLE_RETRY_BASE_DELAY",
	MaxDelay:    "CURRICLE_RETRY_MAX_DELAY",
	Timeout:     "CURRICLE_RETRY_TIMEOUT",
}

var unitsEnv = &units.Env{
	ExtractContent:     "CURRICLE_UNIT_EXTRACT_CONTENT",
	PeerDiscover:       "CURRICLE_UNIT_PEER_DISCOVER",
	AccreditationCheck: "CURRICLE_UNIT_ACCREDITATION_CHECK",
	QualityValidate:    "CURRICLE_UNIT_QUALITY_VALIDATE",
	Collection:         "CURRICLE_UNIT_COLLECTION",
	TopK:               "CURRICLE_UNIT_TOP_K",
}

var qualityEnv = &quality.Env{
	ApprovalThreshold:  "CURRICLE_QUALITY_APPROVAL_THRESHOLD",
	AuthorityThreshold: "CURRICLE_QUALITY_AUTHORITY_THRESHOLD",
	ConsensusThreshold: "CURRICLE_QUALITY_CONSENSUS_THRESHOLD",
}

var semanticEnv = &semantic.Env{
	Path:      "CURRICLE_SEMANTIC_PATH",
	Dimension: "CURRICLE_SEMANTIC_DIMENSION",
}

var progressEnv = &progress.Env{
	BufferSize: "CURRICLE_PROGRESS_BUFFER_SIZE",
	Retention:  "CURRICLE_PROGRESS_RETENTION",
}

// Config is the root configuration for the Curricle service.
type Config struct {
	Server          ServerConfig    `toml:"server"`
	Database        database.Config `toml:"database"`
	Storage         storage.Config  `toml:"storage"`
	API             APIConfig       `toml:"api"`
	Engine          engine.Config   `toml:"engine"`
	Retry           retry.Config    `toml:"retry"`
	Units           units.Config    `toml:"units"`
	Quality         quality.Config  `toml:"quality"`
	Semantic        semantic.Config `toml:"semantic"`
	Progress        progress.Config `toml:"progress"`
	ShutdownTimeout string          `toml:"shutdown_timeout"`
	Version         string          `toml:"version"`
}

// Env returns the CURRICLE_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvCurricleEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Load reads the base config (if present), applies any environment overlay,
// and finalizes all values. If no config.toml exists, defaults and environment
// variables provide all configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.API.Merge(&overlay.API)
	c.Engine.Merge(&overlay.Engine)
	c.Retry.Merge(&overlay.Retry)
	c.Units.Merge(&overlay.Units)
	c.Quality.Merge(&overlay.Quality)
	c.Semantic.Merge(&overlay.Semantic)
	c.Progress.Merge(&overlay.Progress)
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Finalize(databaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Engine.Finalize(engineEnv); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := c.Retry.Finalize(retryEnv); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := c.Units.Finalize(unitsEnv); err != nil {
		return fmt.Errorf("units: %w", err)
	}
	if err := c.Quality.Finalize(qualityEnv); err != nil {
		return fmt.Errorf("quality: %w", err)
	}
	if err := c.Semantic.Finalize(semanticEnv); err != nil {
		return fmt.Errorf("semantic: %w", err)
	}
	if err := c.Progress.Finalize(progressEnv); err != nil {
		return fmt.Errorf("progress: %w", err)
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvCurricleShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvCurricleVersion); v != "" {
		c.Version = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvCurricleEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
