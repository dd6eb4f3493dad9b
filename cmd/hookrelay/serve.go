package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/hookrelay/internal/adapter/filestore"
	hrhttp "github.com/Strob0t/hookrelay/internal/adapter/http"
	hrnats "github.com/Strob0t/hookrelay/internal/adapter/nats"
	"github.com/Strob0t/hookrelay/internal/adapter/natskv"
	hrotel "github.com/Strob0t/hookrelay/internal/adapter/otel"
	"github.com/Strob0t/hookrelay/internal/adapter/postgres"
	"github.com/Strob0t/hookrelay/internal/adapter/ws"
	"github.com/Strob0t/hookrelay/internal/adapter/wsclient"
	"github.com/Strob0t/hookrelay/internal/config"
	"github.com/Strob0t/hookrelay/internal/domain/delegation"
	"github.com/Strob0t/hookrelay/internal/domain/todo"
	"github.com/Strob0t/hookrelay/internal/logger"
	"github.com/Strob0t/hookrelay/internal/outbound"
	"github.com/Strob0t/hookrelay/internal/port/idset"
	"github.com/Strob0t/hookrelay/internal/port/sessionstore"
	"github.com/Strob0t/hookrelay/internal/port/transport"
	"github.com/Strob0t/hookrelay/internal/service"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFrom(*configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log, closer := logger.New(cfg.Logging)
	defer closer.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Both listeners are bound before anything else starts.
	ingestLn, err := net.Listen("tcp", cfg.Server.IngestAddr)
	if err != nil {
		return fmt.Errorf("bind ingest listener %s: %w", cfg.Server.IngestAddr, err)
	}
	observerLn, err := net.Listen("tcp", cfg.Server.ObserverAddr)
	if err != nil {
		_ = ingestLn.Close()
		return fmt.Errorf("bind observer listener %s: %w", cfg.Server.ObserverAddr, err)
	}

	slog.Info("config loaded",
		"ingest_addr", ingestLn.Addr().String(),
		"observer_addr", observerLn.Addr().String(),
		"store", cfg.Store.Kind,
		"log_level", cfg.Logging.Level,
		"endpoints", len(cfg.Pool.Endpoints),
	)

	// --- Observability ---
	shutdownOTel, err := hrotel.Setup(ctx, cfg.OTel, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := hrotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := ws.NewHub(cfg.Server.ReplayBuffer, log)
	sinks := []transport.Sink{hub}
	for _, url := range cfg.Pool.Endpoints {
		sinks = append(sinks, wsclient.NewConnPool(url, cfg.Pool.MaxConnections, log))
	}

	var processed idset.Set = idset.NewMemory()
	if cfg.NATS.URL != "" {
		pub, err := hrnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		// The pool closes the publisher with the other sinks.
		sinks = append(sinks, pub)

		kv, err := pub.KeyValue(ctx, cfg.Todo.KVBucket)
		if err != nil {
			_ = pub.Close()
			return fmt.Errorf("nats kv: %w", err)
		}
		processed = &idset.Layered{Local: idset.NewMemory(), Remote: natskv.New(kv)}

		err = metrics.ObserveGauge("hookrelay.nats.connected", "1 while the NATS connection is up", func() int64 {
			if pub.IsConnected() {
				return 1
			}
			return 0
		})
		if err != nil {
			return fmt.Errorf("gauges: %w", err)
		}
	}

	pool := outbound.New(outbound.OptionsFromConfig(cfg.Pool, cfg.Breaker), log, sinks...)

	// --- Services ---
	normalizer, err := service.NewNormalizer(cfg.Correlator.DelegationTools, 0)
	if err != nil {
		return fmt.Errorf("normalizer: %w", err)
	}
	correlator := service.NewCorrelator(cfg.Correlator)
	aggregator := service.NewAggregator(cfg.Aggregator, store, metrics)
	relay := service.NewRelay(normalizer, correlator, aggregator, pool, metrics)
	relay.SetOnPair(func(_ context.Context, p delegation.Pair) {
		slog.Info("delegation completed",
			"session_id", p.Request.SessionID,
			"agent", p.Request.AgentType,
			"outcome", p.Completion.Outcome,
			"duration_ms", p.Duration().Milliseconds(),
			"fuzzy", p.Fuzzy,
		)
	})
	relay.SetOnDelegation(func(_ context.Context, m delegation.Mapping) {
		slog.Info("task delegated", "agent", m.Agent, "item_id", m.DerivedFromID, "source", m.Source)
	})

	router := service.NewTodoRouter(todo.NewClassifier(cfg.Todo.DefaultAgent), processed, relay.RouteDelegation)
	relay.SetRouter(router)
	watcher := service.NewTodoWatcher(cfg.Todo.Path, cfg.Todo.PollInterval, cfg.Todo.Notify, router)

	if err := registerGauges(metrics, aggregator, correlator, pool); err != nil {
		return fmt.Errorf("gauges: %w", err)
	}

	// --- Background loops ---
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	bg, bgCtx := errgroup.WithContext(bgCtx)
	bg.Go(func() error { return watcher.Run(bgCtx) })
	bg.Go(func() error {
		aggregator.Run(bgCtx)
		return nil
	})
	bg.Go(func() error {
		correlator.Run(bgCtx, cfg.Correlator.SweepInterval)
		return nil
	})

	// --- HTTP ---
	handlers := &hrhttp.Handlers{
		Relay:        relay,
		Sessions:     store,
		Observers:    hub,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	ingestSrv := &http.Server{
		Handler:           hrhttp.IngestRouter(handlers),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	observerSrv := &http.Server{
		Handler:           hrhttp.ObserverRouter(handlers, cfg.Server.CORSOrigin),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 2)
	serve := func(name string, srv *http.Server, ln net.Listener) {
		slog.Info("starting server", "listener", name, "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("%s server: %w", name, err)
		}
	}
	go serve("ingest", ingestSrv, ingestLn)
	go serve("observer", observerSrv, observerLn)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case runErr = <-serveErr:
		slog.Error("server failed, shutting down", "error", runErr)
	}

	return shutdown(cfg.Server.ShutdownTimeout, runErr, shutdownSteps{
		ingest:     ingestSrv,
		stopLoops:  func() error { cancelBg(); return bg.Wait() },
		aggregator: aggregator,
		pool:       pool,
		observer:   observerSrv,
	})
}

type shutdownSteps struct {
	ingest     *http.Server
	stopLoops  func() error
	aggregator *service.Aggregator
	pool       *outbound.Pool
	observer   *http.Server
}

// shutdown stops ingestion first so no event arrives after the final flush,
// then writes every open timeline and drains the pool before observers go.
func shutdown(timeout time.Duration, runErr error, s shutdownSteps) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	errs := []error{runErr}
	if err := s.ingest.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("ingest shutdown: %w", err))
	}
	if err := s.stopLoops(); err != nil {
		errs = append(errs, fmt.Errorf("background loops: %w", err))
	}
	if err := s.aggregator.FlushAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush sessions: %w", err))
	}
	if err := s.pool.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close pool: %w", err))
	}
	if err := s.observer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("observer shutdown: %w", err))
	}

	stats := s.aggregator.Stats()
	slog.Info("relay stopped",
		"sessions_flushed", stats.Flushed,
		"sessions_retained", stats.Retained,
		"events_retained", stats.RetainedEvents,
	)
	return errors.Join(errs...)
}

// openStore returns the configured session document store and its cleanup.
func openStore(ctx context.Context, cfg *config.Config) (sessionstore.Store, func(), error) {
	switch cfg.Store.Kind {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		version, err := postgres.Migrate(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		slog.Info("postgres session store ready", "schema_version", version)
		return postgres.NewSessionStore(pool), pool.Close, nil
	default:
		slog.Info("file session store", "dir", cfg.Store.Dir)
		return filestore.New(cfg.Store.Dir), func() {}, nil
	}
}

func registerGauges(m *hrotel.Metrics, a *service.Aggregator, c *service.Correlator, p *outbound.Pool) error {
	gauges := []struct {
		name, desc string
		fn         func() int64
	}{
		{"hookrelay.sessions.active", "Open session timelines", func() int64 { return int64(a.Stats().Active) }},
		{"hookrelay.sessions.retained_events", "Events held after failed flushes", func() int64 { return int64(a.Stats().RetainedEvents) }},
		{"hookrelay.delegations.pending", "Unmatched delegation requests", func() int64 { return int64(c.Pending()) }},
		{"hookrelay.observers.connections", "Live observer connections", func() int64 { return int64(p.Stats().ConnectionsActive) }},
		{"hookrelay.pool.fallback_queued", "Events waiting in fallback queues", func() int64 { return int64(p.Stats().FallbackQueued) }},
	}
	for _, g := range gauges {
		if err := m.ObserveGauge(g.name, g.desc, g.fn); err != nil {
			return err
		}
	}
	return nil
}
