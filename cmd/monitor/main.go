package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/matchpulse/matchpulse/internal/app/monitor"
	"github.com/matchpulse/matchpulse/internal/config"
	"github.com/matchpulse/matchpulse/internal/config/fileloader"
	"github.com/matchpulse/matchpulse/internal/domain/events"
	"github.com/matchpulse/matchpulse/internal/domain/scoreboard"
	"github.com/matchpulse/matchpulse/internal/infra/delivery/mastodon"
	eventdispatcher "github.com/matchpulse/matchpulse/internal/infra/event_dispatcher"
	"github.com/matchpulse/matchpulse/internal/infra/eventbus/kafka"
	memorybus "github.com/matchpulse/matchpulse/internal/infra/eventbus/memory"
	"github.com/matchpulse/matchpulse/internal/infra/source/espn"
	"github.com/matchpulse/matchpulse/internal/infra/source/highlightly"
	filestate "github.com/matchpulse/matchpulse/internal/infra/storage/state/file"
	memorystate "github.com/matchpulse/matchpulse/internal/infra/storage/state/memory"
	postgresstate "github.com/matchpulse/matchpulse/internal/infra/storage/state/postgres"
	"github.com/matchpulse/matchpulse/pkg/common"
	"github.com/matchpulse/matchpulse/pkg/common/logger"
	"github.com/matchpulse/matchpulse/pkg/common/otel"
)

const serviceType = "monitor"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	var logr *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			// Add any error-specific attributes.
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("MONITOR-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	// TODO: Adjust the min log level via env var.
	logr = logger.NewWithMetadata(os.Stdout, logger.LevelDebug, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prob := 0.0
	if v := os.Getenv("OTEL_SAMPLING_RATIO"); v != "" {
		prob, err = strconv.ParseFloat(v, 64)
		if err != nil {
			logr.Error(ctx, "failed to parse OTEL_SAMPLING_RATIO", "error", err)
			os.Exit(1)
		}
	}
	tp, telemetryTeardown, err := otel.InitTelemetry(logr, otel.Config{
		ServiceName:      svcName,
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ExcludedSpans: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
		},
		Probability: prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
	})
	if err != nil {
		logr.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(svcName)

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(ready)
	defer func() {
		if err := healthServer.Server().Shutdown(ctx); err != nil {
			logr.Error(ctx, "Error shutting down health server", "error", err)
		}
	}()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "monitor.yaml"
	}
	cfg, err := fileloader.NewFileLoader(cfgPath).Load(ctx)
	if err != nil {
		logr.Error(ctx, "failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	applyEnvOverrides(cfg)

	metricCollector, err := monitor.NewMonitorMetrics(otel.GetMeterProvider())
	if err != nil {
		logr.Error(ctx, "failed to create metrics collector", "error", err)
		os.Exit(1)
	}

	var stateRepo scoreboard.StateRepository
	switch cfg.Storage.Backend {
	case config.StorageBackendMemory:
		stateRepo = memorystate.NewStateStore()

	case config.StorageBackendFile:
		stateRepo = filestate.NewStateStore(cfg.Storage.Path, tracer)

	case config.StorageBackendPostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.Storage.DSN)
		if err != nil {
			logr.Error(ctx, "failed to parse db config", "error", err)
			os.Exit(1)
		}
		poolCfg.MinConns = 2
		poolCfg.MaxConns = 10
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			logr.Error(ctx, "failed to open db", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := runMigrations(ctx, pool); err != nil {
			logr.Error(ctx, "failed to run migrations", "error", err)
			os.Exit(1)
		}
		logr.Info(ctx, "Migrations applied successfully")

		stateRepo = postgresstate.NewStateStore(pool, tracer)

	default:
		logr.Error(ctx, "unknown storage backend", "backend", cfg.Storage.Backend)
		os.Exit(1)
	}

	stateStore := monitor.NewStateStore(stateRepo, tracer, logr)
	if err := stateStore.Hydrate(ctx); err != nil {
		// A failed load is not fatal; delivery dedupe degrades to the
		// idempotency keys carried on each request.
		logr.Error(ctx, "failed to hydrate persisted state, starting empty", "error", err)
	}
	logr.Info(ctx, "State hydrated", "active_matches", stateStore.ActiveMatchCount())

	sourceCfg := espn.Config{
		BaseURL: cfg.Source.BaseURL,
		Timeout: cfg.Source.Timeout,
	}
	if r := cfg.Source.Retry; r != nil {
		sourceCfg.MaxRetries = uint64(r.MaxAttempts)
		sourceCfg.InitialWait = r.InitialWait
		sourceCfg.MaxWait = r.MaxWait
	}
	source := espn.NewClient(sourceCfg, tracer, logr)

	var highlights scoreboard.HighlightSource
	if cfg.Highlights.Enabled() {
		hlCfg := highlightly.Config{
			BaseURL: cfg.Highlights.BaseURL,
			APIKey:  cfg.Highlights.APIKey,
			Host:    cfg.Highlights.Host,
			Timeout: cfg.Highlights.Timeout,
		}
		if r := cfg.Highlights.Retry; r != nil {
			hlCfg.MaxRetries = uint64(r.MaxAttempts)
			hlCfg.InitialWait = r.InitialWait
			hlCfg.MaxWait = r.MaxWait
		}
		highlights = highlightly.NewClient(hlCfg, tracer, logr)
		logr.Info(ctx, "Highlights provider enabled", "base_url", cfg.Highlights.BaseURL)
	}

	deliverer := mastodon.NewClient(mastodon.Config{
		BaseURL:     cfg.Delivery.BaseURL,
		AccessToken: cfg.Delivery.AccessToken,
		Visibility:  cfg.Delivery.Visibility,
		DryRun:      cfg.Delivery.DryRun,
	}, tracer, logr)
	if !cfg.Delivery.DryRun {
		if err := deliverer.VerifyCredentials(ctx); err != nil {
			logr.Error(ctx, "failed to verify delivery credentials", "error", err)
			os.Exit(1)
		}
		logr.Info(ctx, "Delivery credentials verified", "instance", cfg.Delivery.BaseURL)
	}

	var eventBus events.EventBus
	if len(cfg.EventBus.Brokers) > 0 {
		if cfg.EventBus.Topic == "" {
			logr.Error(ctx, "event_bus.topic is required when brokers are configured")
			os.Exit(1)
		}
		groupID := cfg.EventBus.GroupID
		if groupID == "" {
			groupID = serviceType
		}
		clientID := cfg.EventBus.ClientID
		if clientID == "" {
			clientID = svcName
		}

		kafkaClient, err := kafka.NewClient(&kafka.ClientConfig{
			Brokers:  cfg.EventBus.Brokers,
			GroupID:  groupID,
			ClientID: clientID,
		})
		if err != nil {
			logr.Error(ctx, "failed to create kafka client", "error", err)
			os.Exit(1)
		}
		defer kafkaClient.Close()

		eventBus, err = kafka.ConnectEventBus(&kafka.EventBusConfig{
			Topic:    cfg.EventBus.Topic,
			GroupID:  groupID,
			ClientID: clientID,
		}, kafkaClient, logr, metricCollector, tracer)
		if err != nil {
			logr.Error(ctx, "failed to connect event bus", "error", err)
			os.Exit(1)
		}
	} else {
		eventBus = memorybus.NewEventBus()
	}
	defer func() {
		if err := eventBus.Close(); err != nil {
			logr.Error(ctx, "Failed to close event bus", "error", err)
		}
	}()

	eventPublisher := kafka.NewDomainEventPublisher(eventBus)

	if err := subscribeAuditLog(ctx, eventBus, tracer, logr); err != nil {
		logr.Error(ctx, "failed to subscribe audit log", "error", err)
		os.Exit(1)
	}

	partitions := make(map[string]monitor.PartitionInfo, len(cfg.Partitions))
	codes := make([]string, 0, len(cfg.Partitions))
	for _, p := range cfg.Partitions {
		partitions[p.Code] = monitor.PartitionInfo{Name: p.Name, Hashtags: p.Hashtags}
		codes = append(codes, p.Code)
	}

	limiter := common.NewRateLimiter(cfg.Delivery.RateLimit, 3)

	processor := monitor.NewProcessor(
		stateStore,
		source,
		deliverer,
		eventPublisher,
		limiter,
		highlights,
		partitions,
		cfg.Happenings.Categories,
		metricCollector,
		tracer,
		logr,
	)

	coordinator := monitor.NewCoordinator(
		codes,
		source,
		stateStore,
		processor,
		monitor.Tunables{
			LiveDelay:        cfg.Scheduler.LiveDelay,
			AlertDelay:       cfg.Scheduler.AlertDelay,
			HibernationDelay: cfg.Scheduler.HibernationDelay,
			PreWindow:        cfg.Scheduler.PreWindow,
			MaxRefreshDelay:  cfg.Scheduler.MaxRefreshDelay,
		},
		metricCollector,
		tracer,
		logr,
	)

	persister := monitor.NewPersister(
		stateStore, stateRepo, cfg.Storage.SaveInterval, metricCollector, tracer, logr)
	persister.Start(ctx)

	logr.Info(ctx, "Monitor initialized", "partitions", codes)
	ready.Store(true)

	errCh := make(chan error, 1)
	go func() {
		if err := coordinator.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logr.Info(ctx, "Received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := persister.Stop(shutdownCtx); err != nil {
			logr.Error(shutdownCtx, "Failed to save state during shutdown", "error", err)
		}

	case err := <-errCh:
		logr.Error(ctx, "Poll loop error", "error", err)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if stopErr := persister.Stop(shutdownCtx); stopErr != nil {
			logr.Error(shutdownCtx, "Failed to save state during shutdown", "error", stopErr)
		}
		os.Exit(1)
	}
}

// applyEnvOverrides lets deployment-specific settings come from the
// environment instead of the config file. Only fields the config validator
// does not inspect are overridable here; secrets that validation depends on,
// like the postgres DSN, flow through ${VAR} expansion in the file itself.
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("MASTODON_ACCESS_TOKEN"); v != "" {
		cfg.Delivery.AccessToken = v
	}
	if v := os.Getenv("MASTODON_DRY_RUN"); v != "" {
		cfg.Delivery.DryRun = v == "true" || v == "1"
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.EventBus.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.EventBus.Topic = v
	}
}

// subscribeAuditLog routes the bus's lifecycle events through a dispatcher
// that records them. With Kafka configured this doubles as a consumer-side
// liveness check for the topic.
func subscribeAuditLog(
	ctx context.Context,
	bus events.EventBus,
	tracer trace.Tracer,
	logr *logger.Logger,
) error {
	dispatcher := eventdispatcher.New(tracer, logr)

	auditTypes := []events.EventType{
		scoreboard.EventTypeMatchStarted,
		scoreboard.EventTypeMatchEnded,
		scoreboard.EventTypeScoreChanged,
	}
	for _, et := range auditTypes {
		dispatcher.RegisterHandler(ctx, et, func(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
			logr.Info(ctx, "Lifecycle event", "event_type", evt.Type, "key", evt.Key)
			ack(nil)
			return nil
		})
	}

	return bus.Subscribe(ctx, auditTypes, dispatcher.Dispatch)
}

// runMigrations uses golang-migrate to apply all up migrations. It borrows a
// connection from the pool for the duration of the run.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("could not acquire connection: %w", err)
	}
	defer conn.Release()

	db := stdlib.OpenDBFromPool(pool)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "file://db/migrations"
	}
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}
