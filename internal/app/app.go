// Package app wires the worker's components together: it owns the
// PostgreSQL pool, Redis client, stream client, detector, LLM client,
// deduplicator, persistence gateway, consumer loop, and scheduler, and
// coordinates their startup and graceful shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sirupsen/logrus"

	"kamsentry/internal/config"
	"kamsentry/internal/dedup"
	"kamsentry/internal/detector"
	"kamsentry/internal/domain"
	"kamsentry/internal/gateway"
	"kamsentry/internal/infrastructure/database"
	"kamsentry/internal/infrastructure/streams"
	"kamsentry/internal/llmclient"
	"kamsentry/internal/scheduler"
	"kamsentry/internal/workers"
	"kamsentry/pkg/logging"
)

// Worker is the fully-wired worker process: everything cmd/worker and
// cmd/sentryctl need to start, stop, or drive on demand.
type Worker struct {
	cfg    *config.Config
	logger *slog.Logger

	postgres *database.PostgresDB
	redisDB  *database.RedisDB

	Stream    *streams.Client
	Detector  *detector.Detector
	LLM       *llmclient.Client
	Dedup     *dedup.Deduplicator
	Gateway   *gateway.Gateway
	Consumer  *workers.Consumer
	Scheduler *scheduler.Scheduler
}

// NewWorker constructs every collaborator and wires them together, but does
// not start the consume loop or scheduler — call Start for that.
func NewWorker(cfg *config.Config) (*Worker, error) {
	logger := logging.NewLoggerWithFormat(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	pg, err := database.NewPostgresDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	if err := pg.DB.AutoMigrate(&domain.AlertRow{}, &domain.AnalysisResult{}, &domain.MetricRow{}); err != nil {
		return nil, fmt.Errorf("failed to run schema migration: %w", err)
	}

	logrusLogger := logrus.New()
	redisDB, err := database.NewRedisDB(cfg, logrusLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	gw := gateway.New(pg)

	streamClient := streams.New(redisDB.Client, streams.Config{
		StreamName: cfg.Stream.Name,
		Group:      cfg.Stream.ConsumerGroup,
		Consumer:   cfg.Stream.ConsumerName,
		DLQStream:  cfg.Stream.DLQStream,
		DLQMaxLen:  cfg.Stream.DLQMaxLen,
		DLQTTL:     cfg.Stream.DLQTTL,
	}, logger)

	det := detector.New(detector.Config{
		ArtifactPath:  cfg.Detector.ArtifactPath,
		Contamination: cfg.Detector.Contamination,
		NumEstimators: cfg.Detector.NumEstimators,
		BootstrapSize: cfg.Detector.BootstrapSize,
		RetrainLimit:  cfg.Detector.RetrainSampleN,
		RandomSeed:    cfg.Detector.RandomSeed,
	}, gw, logger)

	if err := det.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize anomaly detector: %w", err)
	}

	llm := llmclient.New(llmclient.Config{
		BaseURL:        cfg.GetLLMBaseURL(),
		Model:          cfg.LLM.Model,
		Timeout:        cfg.LLM.Timeout,
		MaxConcurrency: cfg.LLM.MaxConcurrency,
	})

	dd := dedup.New(gw)

	consumer := workers.New(workers.Config{
		BatchSize:           cfg.Stream.BatchSize,
		BlockDuration:       cfg.Stream.BlockDuration,
		PendingSweepEvery:   cfg.Stream.PendingSweepEvery,
		PendingIdleDuration: cfg.Stream.PendingIdleDuration,
		LLMMaxRetries:       cfg.LLM.MaxRetries,
		LLMRetryDelay:       cfg.LLM.RetryDelay,
	}, streamClient, det, dd, llm, gw, logger)

	sched := scheduler.New(scheduler.Config{
		RetrainCron:  cfg.Scheduler.RetrainCron,
		EvaluateCron: cfg.Scheduler.EvaluateCron,
	}, det, logger)

	return &Worker{
		cfg:       cfg,
		logger:    logger,
		postgres:  pg,
		redisDB:   redisDB,
		Stream:    streamClient,
		Detector:  det,
		LLM:       llm,
		Dedup:     dd,
		Gateway:   gw,
		Consumer:  consumer,
		Scheduler: sched,
	}, nil
}

// Start begins the consume loop and the cron scheduler.
func (w *Worker) Start() error {
	ctx := context.Background()
	if err := w.Consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	if err := w.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	w.logger.Info("worker started", "stream", w.cfg.Stream.Name, "consumer_group", w.cfg.Stream.ConsumerGroup)
	return nil
}

// Shutdown stops the scheduler and consumer loop, then closes the
// underlying Redis and Postgres connections. It is safe to call multiple
// times and bounded by ctx's deadline.
func (w *Worker) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.Consumer.Stop()
		if err := w.Scheduler.Stop(); err != nil {
			w.logger.Warn("scheduler stop reported an error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("graceful shutdown deadline exceeded, closing connections anyway")
	}

	var errs []error
	// w.Stream shares redisDB.Client rather than owning its own connection,
	// so only redisDB.Close needs to run here.
	if err := w.redisDB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing redis: %w", err))
	}
	if err := w.postgres.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing postgres: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
