package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/curricle/curricle/internal/config"
)

const baseConfig = `
shutdown_timeout = "30s"
version = "0.1.0"

[server]
host = "0.0.0.0"
port = 8080
read_timeout = "1m"
write_timeout = "15m"
shutdown_timeout = "30s"

[database]
host = "localhost"
port = 5432
name = "curricle"
user = "curricle"
password = "curricle"
ssl_mode = "disable"
max_open_conns = 25
max_idle_conns = 5
conn_max_lifetime = "15m"
conn_timeout = "5s"

[storage]
container_name = "curricula"
connection_string = "DefaultEndpointsProtocol=http;AccountName=store;AccountKey=key;BlobEndpoint=http://127.0.0.1:10000/store;"

[api]
base_path = "/api"

[api.cors]
enabled = false

[api.pagination]
default_page_size = 25
max_page_size = 50

[engine]
workflow_timeout = "20m"
default_concurrency = 4

[retry]
max_attempts = 3
base_delay = "500ms"

[units.endpoints]
extract-content = "http://localhost:9001"
peer-discover = "http://localhost:9002"
accreditation-check = "http://localhost:9003"
quality-validate = "http://localhost:9004"

[quality]
approval_threshold = 0.8

[semantic]
path = "curricle.db"
dimension = 768

[progress]
buffer_size = 32
`

const overlayConfig = `
[server]
port = 9090

[database]
host = "prodhost"

[engine]
workflow_timeout = "45m"
`

func writeConfig(t *testing.T, dir, filename, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", filename, err)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(orig) })
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server port: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Host != "localhost" {
		t.Errorf("db host: got %s, want localhost", cfg.Database.Host)
	}
	if cfg.Storage.ContainerName != "curricula" {
		t.Errorf("storage container: got %s, want curricula", cfg.Storage.ContainerName)
	}
	if cfg.API.BasePath != "/api" {
		t.Errorf("api base_path: got %s, want /api", cfg.API.BasePath)
	}
	if cfg.API.Pagination.DefaultPageSize != 25 {
		t.Errorf("pagination default_page_size: got %d, want 25", cfg.API.Pagination.DefaultPageSize)
	}
	if cfg.Engine.WorkflowTimeoutDuration() != 20*time.Minute {
		t.Errorf("engine workflow_timeout: got %v, want 20m", cfg.Engine.WorkflowTimeoutDuration())
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("retry max_attempts: got %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Semantic.Dimension != 768 {
		t.Errorf("semantic dimension: got %d, want 768", cfg.Semantic.Dimension)
	}
}

func TestLoadWithOverlay(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	writeConfig(t, dir, "config.staging.toml", overlayConfig)
	chdir(t, dir)

	t.Setenv("CURRICLE_ENV", "staging")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("server port: got %d, want 9090 (from overlay)", cfg.Server.Port)
	}
	if cfg.Database.Host != "prodhost" {
		t.Errorf("db host: got %s, want prodhost (from overlay)", cfg.Database.Host)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("db port: got %d, want 5432 (from base)", cfg.Database.Port)
	}
	if cfg.Engine.WorkflowTimeout != "45m" {
		t.Errorf("engine workflow_timeout: got %s, want 45m (from overlay)", cfg.Engine.WorkflowTimeout)
	}
}

func TestLoadEnvVarOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)

	t.Setenv("CURRICLE_VERSION", "2.0.0")
	t.Setenv("CURRICLE_SERVER_PORT", "3000")
	t.Setenv("CURRICLE_ENGINE_WORKFLOW_TIMEOUT", "1h")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Version != "2.0.0" {
		t.Errorf("version: got %s, want 2.0.0", cfg.Version)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("server port: got %d, want 3000", cfg.Server.Port)
	}
	if cfg.Engine.WorkflowTimeout != "1h" {
		t.Errorf("engine workflow_timeout: got %s, want 1h", cfg.Engine.WorkflowTimeout)
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	t.Setenv("CURRICLE_DB_NAME", "testdb")
	t.Setenv("CURRICLE_DB_USER", "testuser")
	t.Setenv("CURRICLE_STORAGE_CONNECTION_STRING", "conn")
	t.Setenv("CURRICLE_UNIT_EXTRACT_CONTENT", "http://localhost:9001")
	t.Setenv("CURRICLE_UNIT_PEER_DISCOVER", "http://localhost:9002")
	t.Setenv("CURRICLE_UNIT_ACCREDITATION_CHECK", "http://localhost:9003")
	t.Setenv("CURRICLE_UNIT_QUALITY_VALIDATE", "http://localhost:9004")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load without config.toml failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server port default: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Name != "testdb" {
		t.Errorf("db name from env: got %s, want testdb", cfg.Database.Name)
	}
	if cfg.Storage.ConnectionString != "conn" {
		t.Errorf("storage conn from env: got %s, want conn", cfg.Storage.ConnectionString)
	}
	if cfg.Engine.WorkflowTimeoutDuration() != 30*time.Minute {
		t.Errorf("engine workflow_timeout default: got %v, want 30m", cfg.Engine.WorkflowTimeoutDuration())
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("retry max_attempts default: got %d, want 3", cfg.Retry.MaxAttempts)
	}
}

func TestLoadMissingUnitEndpoints(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	t.Setenv("CURRICLE_DB_NAME", "testdb")
	t.Setenv("CURRICLE_DB_USER", "testuser")
	t.Setenv("CURRICLE_STORAGE_CONNECTION_STRING", "conn")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for missing unit endpoints")
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", `shutdown_timeout = [`)
	chdir(t, dir)

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for invalid TOML")
	}
}

func TestEnvDefault(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Env() != "local" {
		t.Errorf("env: got %s, want local", cfg.Env())
	}
}

func TestEnvFromEnvVar(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)

	t.Setenv("CURRICLE_ENV", "production")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Env() != "production" {
		t.Errorf("env: got %s, want production", cfg.Env())
	}
}
