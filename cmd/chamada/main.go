package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saturnino-fabrica-de-software/chamada/internal/api"
	"github.com/saturnino-fabrica-de-software/chamada/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/chamada/internal/audit"
	"github.com/saturnino-fabrica-de-software/chamada/internal/config"
	"github.com/saturnino-fabrica-de-software/chamada/internal/database"
	"github.com/saturnino-fabrica-de-software/chamada/internal/dedup"
	"github.com/saturnino-fabrica-de-software/chamada/internal/embedding"
	"github.com/saturnino-fabrica-de-software/chamada/internal/enrollment"
	"github.com/saturnino-fabrica-de-software/chamada/internal/matcher"
	"github.com/saturnino-fabrica-de-software/chamada/internal/metrics"
	"github.com/saturnino-fabrica-de-software/chamada/internal/outbox"
	"github.com/saturnino-fabrica-de-software/chamada/internal/pipeline"
	"github.com/saturnino-fabrica-de-software/chamada/internal/repository"
	"github.com/saturnino-fabrica-de-software/chamada/internal/retention"
	"github.com/saturnino-fabrica-de-software/chamada/internal/transport/mqtt"
	"github.com/saturnino-fabrica-de-software/chamada/internal/transport/webhook"
	"github.com/saturnino-fabrica-de-software/chamada/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger := config.NewLogger(cfg.Environment, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting Chamada",
		slog.String("environment", cfg.Environment),
		slog.String("device_id", cfg.DeviceID),
		slog.Int("port", cfg.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	if err := migrate(ctx, cfg.DatabaseURL); err != nil {
		return err
	}

	pool, err := database.NewPool(ctx, database.DefaultPoolConfig(cfg.DatabaseURL))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	identities := repository.NewIdentityRepository(pool)
	outboxRepo := repository.NewOutboxRepository(pool)
	attendance := repository.NewAttendanceRepository(pool)

	m := metrics.New()

	// Enrollment and matching
	store := enrollment.NewStore(identities, cfg.EmbeddingDim, logger)
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("failed to load enrollments: %w", err)
	}

	metric, err := embedding.ParseMetric(cfg.MatchMetric)
	if err != nil {
		return err
	}

	var matchOpts []matcher.Option
	if cfg.UseIndex() {
		matchOpts = append(matchOpts, matcher.WithIndex(cfg.IndexCandidates))
	}
	match, err := matcher.New(store, matcher.Config{
		Metric:             metric,
		AcceptThreshold:    cfg.AcceptThreshold,
		AmbiguousThreshold: cfg.AmbiguousThreshold,
		TieEpsilon:         cfg.TieEpsilon,
	}, matchOpts...)
	if err != nil {
		return fmt.Errorf("invalid matcher config: %w", err)
	}

	// Cool-down windows survive restarts through the audit trail
	windows := dedup.New(cfg.CoolDown)
	recent, err := attendance.LastCheckIns(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore cool-down windows: %w", err)
	}
	windows.Seed(recent)

	// Transport
	broker := mqtt.New(mqtt.Config{
		BrokerURL:      cfg.MQTTBrokerURL,
		ClientID:       cfg.MQTTClientID,
		Topic:          cfg.MQTTTopic,
		AlertTopic:     cfg.MQTTAlertTopic,
		QoS:            byte(cfg.MQTTQoS),
		Username:       cfg.MQTTUsername,
		Password:       cfg.MQTTPassword,
		ConnectTimeout: 5 * time.Second,
	}, logger)
	if err := broker.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	defer broker.Close()

	// Delivery queue
	policy := outbox.Policy{
		BaseBackoff:    cfg.BaseBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		MaxAttempts:    cfg.MaxAttempts,
		AttemptTimeout: cfg.DeliveryTimeout,
	}
	queueOpts := []outbox.Option{
		outbox.WithObserver(m),
		outbox.WithNotifier(broker),
	}
	if cfg.AlertWebhookURL != "" {
		queueOpts = append(queueOpts, outbox.WithNotifier(webhook.NewNotifier(webhook.Config{
			URL:    cfg.AlertWebhookURL,
			Secret: cfg.AlertWebhookSecret,
		}, logger)))
	}
	queue := outbox.New(outboxRepo, broker, policy, logger, queueOpts...)
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start outbox: %w", err)
	}

	// Pipeline
	live := ws.NewHub(cfg.DeviceID)
	coordinator := pipeline.NewCoordinator(match, windows, queue, pipeline.Config{DeviceID: cfg.DeviceID}, logger,
		pipeline.WithObserver(m),
		pipeline.WithListener(live),
	)
	frames := pipeline.NewFramePool(coordinator, logger, pipeline.FramePoolConfig{
		Workers:    cfg.FrameWorkers,
		BufferSize: cfg.FrameBuffer,
	}, m)

	if cfg.MQTTFrameTopic != "" {
		broker.Subscribe(cfg.MQTTFrameTopic, func(payload []byte) {
			frame, err := pipeline.DecodeFrame(payload, time.Now())
			if err != nil {
				logger.Warn("discarding frame message", slog.Any("error", err))
				return
			}
			frames.Submit(frame)
		})
	}

	cleanup := retention.NewWorker(outboxRepo, windows, m, logger, retention.Config{
		Interval:     cfg.RetentionInterval,
		DeliveredTTL: cfg.RetentionDelivered,
	})

	// HTTP API
	router := api.NewRouter(logger, &api.Dependencies{
		Store:       store,
		Windows:     windows,
		Frames:      coordinator,
		Queue:       queue,
		OutboxStats: outboxRepo,
		Transport:   broker,
		DB:          pool,
		Metrics:     m.Handler(),
		Audit:       audit.NewSlogLogger(logger),
		Live:        live,
		AdminToken:  cfg.AdminToken,
		RateLimit:   middleware.DefaultRateLimiterConfig(),
	})
	router.Setup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return queue.Run(gctx)
	})

	g.Go(func() error {
		live.ForwardFailures(gctx, queue.Failures())
		return nil
	})

	g.Go(func() error {
		live.Run(gctx)
		return nil
	})

	g.Go(func() error {
		frames.Start(gctx)
		<-gctx.Done()
		frames.Stop()
		return nil
	})

	g.Go(func() error {
		cleanup.Start(gctx)
		return nil
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("server listening", slog.String("addr", addr))
		if err := router.Listen(addr); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		done := make(chan error, 1)
		go func() { done <- router.Shutdown() }()

		select {
		case err := <-done:
			return err
		case <-time.After(shutdownTimeout):
			return errors.New("server shutdown timed out")
		}
	})

	err = g.Wait()
	logger.Info("chamada stopped",
		slog.Int("outbox_depth", queue.Depth()),
		slog.Uint64("frames_dropped", frames.Dropped()),
	)
	return err
}

// migrate applies pending schema migrations before anything touches the tables.
func migrate(ctx context.Context, dsn string) error {
	db, err := database.OpenSQL(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := database.MigrateUp(db, "chamada"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
