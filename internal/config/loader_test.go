package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.IngestAddr != "127.0.0.1:8765" {
		t.Errorf("expected ingest addr 127.0.0.1:8765, got %s", cfg.Server.IngestAddr)
	}
	if cfg.Pool.MaxConnections != 5 {
		t.Errorf("expected max_connections 5, got %d", cfg.Pool.MaxConnections)
	}
	if cfg.Pool.BatchWindow != 50*time.Millisecond {
		t.Errorf("expected batch window 50ms, got %v", cfg.Pool.BatchWindow)
	}
	if cfg.Breaker.MaxFailures != 5 {
		t.Errorf("expected breaker max_failures 5, got %d", cfg.Breaker.MaxFailures)
	}
	if cfg.Correlator.MinPrefix != 6 {
		t.Errorf("expected min_prefix 6, got %d", cfg.Correlator.MinPrefix)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  observer_addr: ":9090"
pool:
  max_connections: 3
  endpoints:
    - "ws://dashboard.local:8765/ws"
correlator:
  min_prefix: 10
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.ObserverAddr != ":9090" {
		t.Errorf("expected observer addr :9090, got %s", cfg.Server.ObserverAddr)
	}
	if cfg.Pool.MaxConnections != 3 {
		t.Errorf("expected max_connections 3, got %d", cfg.Pool.MaxConnections)
	}
	if len(cfg.Pool.Endpoints) != 1 || cfg.Pool.Endpoints[0] != "ws://dashboard.local:8765/ws" {
		t.Errorf("unexpected endpoints %v", cfg.Pool.Endpoints)
	}
	if cfg.Correlator.MinPrefix != 10 {
		t.Errorf("expected min_prefix 10, got %d", cfg.Correlator.MinPrefix)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.Server.IngestAddr != "127.0.0.1:8765" {
		t.Errorf("expected default ingest addr, got %s", cfg.Server.IngestAddr)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte("server: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err == nil {
		t.Error("expected parse error, got nil")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("HOOKRELAY_INGEST_ADDR", "127.0.0.1:7070")
	t.Setenv("HOOKRELAY_LOG_LEVEL", "warn")
	t.Setenv("HOOKRELAY_BREAKER_TIMEOUT", "1m")
	t.Setenv("HOOKRELAY_POOL_ENDPOINTS", "ws://a/ws, ws://b/ws,")
	t.Setenv("HOOKRELAY_DELEGATION_TOOLS", "Task")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	loadEnv(&cfg)

	if cfg.Server.IngestAddr != "127.0.0.1:7070" {
		t.Errorf("expected ingest addr 127.0.0.1:7070, got %s", cfg.Server.IngestAddr)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	if len(cfg.Pool.Endpoints) != 2 || cfg.Pool.Endpoints[1] != "ws://b/ws" {
		t.Errorf("unexpected endpoints %v", cfg.Pool.Endpoints)
	}
	if len(cfg.Correlator.DelegationTools) != 1 || cfg.Correlator.DelegationTools[0] != "Task" {
		t.Errorf("unexpected delegation tools %v", cfg.Correlator.DelegationTools)
	}
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestEnvInvalidValuesIgnored(t *testing.T) {
	cfg := Defaults()

	t.Setenv("HOOKRELAY_POOL_MAX_BATCH", "lots")
	t.Setenv("HOOKRELAY_IDLE_TIMEOUT", "soon")

	loadEnv(&cfg)

	if cfg.Pool.MaxBatch != 100 {
		t.Errorf("expected default max_batch 100, got %d", cfg.Pool.MaxBatch)
	}
	if cfg.Aggregator.IdleTimeout != 30*time.Minute {
		t.Errorf("expected default idle timeout, got %v", cfg.Aggregator.IdleTimeout)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty ingest addr",
			modify: func(c *Config) { c.Server.IngestAddr = "" },
			errMsg: "server.ingest_addr is required",
		},
		{
			name:   "empty observer addr",
			modify: func(c *Config) { c.Server.ObserverAddr = "" },
			errMsg: "server.observer_addr is required",
		},
		{
			name:   "zero max connections",
			modify: func(c *Config) { c.Pool.MaxConnections = 0 },
			errMsg: "pool.max_connections must be >= 1",
		},
		{
			name:   "zero batch window",
			modify: func(c *Config) { c.Pool.BatchWindow = 0 },
			errMsg: "pool.batch_window must be > 0",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "zero min prefix",
			modify: func(c *Config) { c.Correlator.MinPrefix = 0 },
			errMsg: "correlator.min_prefix must be >= 1",
		},
		{
			name:   "postgres without dsn",
			modify: func(c *Config) { c.Store.Kind = "postgres" },
			errMsg: "postgres.dsn is required for the postgres store",
		},
		{
			name:   "unknown store",
			modify: func(c *Config) { c.Store.Kind = "s3" },
			errMsg: `store.kind "s3" is not supported`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadFrom_FullHierarchy(t *testing.T) {
	// YAML sets the observer addr, env overrides it. Env must win.
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
server:
  observer_addr: ":9090"
logging:
  level: "debug"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("HOOKRELAY_OBSERVER_ADDR", ":7070")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Server.ObserverAddr != ":7070" {
		t.Errorf("env should override YAML: got %q, want :7070", cfg.Server.ObserverAddr)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("YAML should override defaults: got level %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadFrom_InvalidFails(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
breaker:
  max_failures: 0
`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(yamlPath); err == nil {
		t.Fatal("expected validation error, got nil")
	}
}
