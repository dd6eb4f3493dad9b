package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "hookrelay.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.IngestAddr, "HOOKRELAY_INGEST_ADDR")
	setString(&cfg.Server.ObserverAddr, "HOOKRELAY_OBSERVER_ADDR")
	setString(&cfg.Server.CORSOrigin, "HOOKRELAY_CORS_ORIGIN")
	setInt(&cfg.Server.ReplayBuffer, "HOOKRELAY_REPLAY_BUFFER")
	setDuration(&cfg.Server.ShutdownTimeout, "HOOKRELAY_SHUTDOWN_TIMEOUT")

	setString(&cfg.Logging.Level, "HOOKRELAY_LOG_LEVEL")
	setString(&cfg.Logging.Service, "HOOKRELAY_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "HOOKRELAY_LOG_ASYNC")

	// Pool
	setInt(&cfg.Pool.MaxConnections, "HOOKRELAY_POOL_MAX_CONNECTIONS")
	setDuration(&cfg.Pool.BatchWindow, "HOOKRELAY_POOL_BATCH_WINDOW")
	setInt(&cfg.Pool.MaxBatch, "HOOKRELAY_POOL_MAX_BATCH")
	setInt(&cfg.Pool.FallbackCap, "HOOKRELAY_POOL_FALLBACK_CAP")
	setDuration(&cfg.Pool.SendTimeout, "HOOKRELAY_POOL_SEND_TIMEOUT")
	setString(&cfg.Pool.SpillDir, "HOOKRELAY_POOL_SPILL_DIR")
	setList(&cfg.Pool.Endpoints, "HOOKRELAY_POOL_ENDPOINTS")

	setInt(&cfg.Breaker.MaxFailures, "HOOKRELAY_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "HOOKRELAY_BREAKER_TIMEOUT")
	setDuration(&cfg.Breaker.MaxTimeout, "HOOKRELAY_BREAKER_MAX_TIMEOUT")

	// Correlator
	setDuration(&cfg.Correlator.TTL, "HOOKRELAY_CORRELATOR_TTL")
	setInt(&cfg.Correlator.MinPrefix, "HOOKRELAY_CORRELATOR_MIN_PREFIX")
	setList(&cfg.Correlator.DelegationTools, "HOOKRELAY_DELEGATION_TOOLS")

	// Todo router
	setString(&cfg.Todo.Path, "HOOKRELAY_TODO_PATH")
	setDuration(&cfg.Todo.PollInterval, "HOOKRELAY_TODO_POLL_INTERVAL")
	setBool(&cfg.Todo.Notify, "HOOKRELAY_TODO_NOTIFY")
	setString(&cfg.Todo.DefaultAgent, "HOOKRELAY_TODO_DEFAULT_AGENT")

	// Aggregator
	setDuration(&cfg.Aggregator.IdleTimeout, "HOOKRELAY_IDLE_TIMEOUT")
	setInt(&cfg.Aggregator.FlushRetries, "HOOKRELAY_FLUSH_RETRIES")
	setInt(&cfg.Aggregator.MaxRetainedEvents, "HOOKRELAY_MAX_RETAINED_EVENTS")

	setString(&cfg.Store.Kind, "HOOKRELAY_STORE")
	setString(&cfg.Store.Dir, "HOOKRELAY_STORE_DIR")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "HOOKRELAY_PG_MAX_CONNS")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Subject, "HOOKRELAY_NATS_SUBJECT")
	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTel.Insecure, "HOOKRELAY_OTEL_INSECURE")

	setString(&cfg.Hook.URL, "HOOKRELAY_URL")
	setDuration(&cfg.Hook.Timeout, "HOOKRELAY_HOOK_TIMEOUT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.IngestAddr == "" {
		return errors.New("server.ingest_addr is required")
	}
	if cfg.Server.ObserverAddr == "" {
		return errors.New("server.observer_addr is required")
	}
	if cfg.Pool.MaxConnections < 1 {
		return errors.New("pool.max_connections must be >= 1")
	}
	if cfg.Pool.BatchWindow <= 0 {
		return errors.New("pool.batch_window must be > 0")
	}
	if cfg.Pool.MaxBatch < 1 {
		return errors.New("pool.max_batch must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Correlator.MinPrefix < 1 {
		return errors.New("correlator.min_prefix must be >= 1")
	}
	switch cfg.Store.Kind {
	case "file":
		if cfg.Store.Dir == "" {
			return errors.New("store.dir is required for the file store")
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("store.kind %q is not supported", cfg.Store.Kind)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
