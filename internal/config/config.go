// Package config provides hierarchical configuration loading for hookrelay.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the relay server and hook adapter.
type Config struct {
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
	Pool       Pool       `yaml:"pool"`
	Breaker    Breaker    `yaml:"breaker"`
	Correlator Correlator `yaml:"correlator"`
	Todo       Todo       `yaml:"todo"`
	Aggregator Aggregator `yaml:"aggregator"`
	Store      Store      `yaml:"store"`
	Postgres   Postgres   `yaml:"postgres"`
	NATS       NATS       `yaml:"nats"`
	OTel       OTel       `yaml:"otel"`
	Hook       Hook       `yaml:"hook"`
}

// Server holds the two HTTP listeners of the relay.
type Server struct {
	IngestAddr      string        `yaml:"ingest_addr"`   // local hook submission surface
	ObserverAddr    string        `yaml:"observer_addr"` // websocket stream + health
	CORSOrigin      string        `yaml:"cors_origin"`
	ReplayBuffer    int           `yaml:"replay_buffer"` // events replayed to a newly connected observer
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Pool holds outbound transport pool configuration.
type Pool struct {
	MaxConnections int           `yaml:"max_connections"` // live connections per remote observer endpoint (default: 5)
	BatchWindow    time.Duration `yaml:"batch_window"`    // default: 50ms
	MaxBatch       int           `yaml:"max_batch"`       // early flush threshold (default: 100)
	MaxPending     int           `yaml:"max_pending"`     // pending events per destination before drop-oldest
	FallbackCap    int           `yaml:"fallback_cap"`    // fallback queue cap per destination
	SendTimeout    time.Duration `yaml:"send_timeout"`
	SpillDir       string        `yaml:"spill_dir"` // fallback queues are written here on shutdown; empty disables
	Endpoints      []string      `yaml:"endpoints"` // remote observer websocket URLs
}

// Breaker holds circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`     // cooldown before half-open
	MaxTimeout  time.Duration `yaml:"max_timeout"` // cap for the reopen backoff
}

// Correlator holds delegation correlation configuration.
type Correlator struct {
	TTL             time.Duration `yaml:"ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	MinPrefix       int           `yaml:"min_prefix"` // minimum shared session-id prefix for a fuzzy match
	DelegationTools []string      `yaml:"delegation_tools"`
}

// Todo holds task-list router configuration.
type Todo struct {
	Path         string        `yaml:"path"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Notify       bool          `yaml:"notify"` // use filesystem notifications in addition to polling
	DefaultAgent string        `yaml:"default_agent"`
	KVBucket     string        `yaml:"kv_bucket"` // NATS KV bucket for processed ids; used only when NATS is configured
}

// Aggregator holds session aggregation configuration.
type Aggregator struct {
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	FlushRetries      int           `yaml:"flush_retries"`
	FlushBackoff      time.Duration `yaml:"flush_backoff"`
	MaxRetainedEvents int           `yaml:"max_retained_events"`
}

// Store selects the session document store.
type Store struct {
	Kind string `yaml:"kind"` // "file" | "postgres"
	Dir  string `yaml:"dir"`
}

// Postgres holds PostgreSQL connection configuration.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables NATS.
type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// OTel holds OpenTelemetry exporter configuration. An empty endpoint keeps the no-op providers.
type OTel struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Hook holds hook adapter configuration.
type Hook struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Defaults returns a Config with sensible default values for local use.
func Defaults() Config {
	return Config{
		Server: Server{
			IngestAddr:      "127.0.0.1:8765",
			ObserverAddr:    ":8766",
			CORSOrigin:      "http://localhost:3000",
			ReplayBuffer:    200,
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: Logging{
			Level:   "info",
			Service: "hookrelay",
		},
		Pool: Pool{
			MaxConnections: 5,
			BatchWindow:    50 * time.Millisecond,
			MaxBatch:       100,
			MaxPending:     5000,
			FallbackCap:    1000,
			SendTimeout:    2 * time.Second,
			SpillDir:       ".hookrelay/spill",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     5 * time.Second,
			MaxTimeout:  2 * time.Minute,
		},
		Correlator: Correlator{
			TTL:             4 * time.Hour,
			SweepInterval:   time.Minute,
			MinPrefix:       6,
			DelegationTools: []string{"Task", "Agent", "delegate"},
		},
		Todo: Todo{
			Path:         ".claude/todos.json",
			PollInterval: 500 * time.Millisecond,
			Notify:       true,
			DefaultAgent: "engineer",
			KVBucket:     "hookrelay-todo-processed",
		},
		Aggregator: Aggregator{
			IdleTimeout:       30 * time.Minute,
			SweepInterval:     30 * time.Second,
			FlushRetries:      3,
			FlushBackoff:      200 * time.Millisecond,
			MaxRetainedEvents: 50000,
		},
		Store: Store{
			Kind: "file",
			Dir:  ".hookrelay/sessions",
		},
		Postgres: Postgres{
			MaxConns:        5,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			Subject: "hookrelay.events",
		},
		Hook: Hook{
			URL:     "http://127.0.0.1:8765/api/v1/events",
			Timeout: 1 * time.Second,
		},
	}
}
