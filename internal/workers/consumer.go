// Package workers implements the consumer loop (C6): it composes the stream
// client, detector, deduplicator, LLM client, and persistence gateway,
// dispatching each stream entry by kind and acknowledging on terminal outcome.
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"kamsentry/internal/dedup"
	"kamsentry/internal/detector"
	"kamsentry/internal/domain"
	"kamsentry/internal/gateway"
	"kamsentry/internal/infrastructure/streams"
	"kamsentry/internal/llmclient"
	"kamsentry/pkg/ulid"
)

// Config configures the Consumer.
type Config struct {
	BatchSize           int64
	BlockDuration       time.Duration
	PendingSweepEvery   int
	PendingIdleDuration time.Duration
	LLMMaxRetries       int
	LLMRetryDelay       time.Duration
}

// Consumer is the stream consumer loop (C6). It owns no resources of its
// own beyond its run goroutine — the stream client, detector, dedup,
// LLM client, and gateway are all injected.
type Consumer struct {
	cfg      Config
	stream   *streams.Client
	detector *detector.Detector
	dedup    *dedup.Deduplicator
	llm      *llmclient.Client
	gw       *gateway.Gateway
	logger   *slog.Logger

	running int64
	quit    chan struct{}
	wg      sync.WaitGroup

	processed int64
	acked     int64
	dlqCount  int64
}

// New constructs a Consumer.
func New(cfg Config, stream *streams.Client, det *detector.Detector, dd *dedup.Deduplicator, llm *llmclient.Client, gw *gateway.Gateway, logger *slog.Logger) *Consumer {
	return &Consumer{
		cfg:      cfg,
		stream:   stream,
		detector: det,
		dedup:    dd,
		llm:      llm,
		gw:       gw,
		logger:   logger,
		quit:     make(chan struct{}),
	}
}

// Start connects the stream client and begins the consume loop in a
// background goroutine. It is idempotent: calling Start twice is a no-op.
func (c *Consumer) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt64(&c.running, 0, 1) {
		return nil
	}

	if err := c.stream.Connect(ctx); err != nil {
		atomic.StoreInt64(&c.running, 0)
		return fmt.Errorf("failed to connect stream client: %w", err)
	}

	c.wg.Add(1)
	go c.consumeLoop(ctx)
	return nil
}

// Stop signals the consume loop to exit and waits for it to drain.
func (c *Consumer) Stop() {
	if !atomic.CompareAndSwapInt64(&c.running, 1, 0) {
		return
	}
	close(c.quit)
	c.wg.Wait()
}

// Stats returns simple lifetime counters for observability.
func (c *Consumer) Stats() (processed, acked, dlq int64) {
	return atomic.LoadInt64(&c.processed), atomic.LoadInt64(&c.acked), atomic.LoadInt64(&c.dlqCount)
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	var iter int
	for {
		select {
		case <-c.quit:
			return
		case <-ctx.Done():
			return
		default:
		}

		if c.cfg.PendingSweepEvery > 0 && iter%c.cfg.PendingSweepEvery == 0 {
			c.stream.ReclaimStale(ctx, c.cfg.PendingIdleDuration)
		}
		iter++

		batch := c.stream.Read(ctx, c.cfg.BatchSize, c.cfg.BlockDuration)
		if len(batch) == 0 {
			select {
			case <-time.After(100 * time.Millisecond):
			case <-c.quit:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, entry := range batch {
			c.processEntry(ctx, entry)
		}
	}
}

// processEntry dispatches a single stream entry by kind and unconditionally
// acks it once processing reaches a terminal outcome, per §4.6: terminal
// outcomes include success, a persisted failure row, and a poison-skip —
// redelivery is never used as a retry mechanism.
func (c *Consumer) processEntry(ctx context.Context, entry streams.Entry) {
	atomic.AddInt64(&c.processed, 1)
	defer func() {
		c.stream.Ack(ctx, entry.ID)
		atomic.AddInt64(&c.acked, 1)
	}()

	switch domain.EntryKind(entry.Kind) {
	case domain.KindMetric:
		c.dispatchMetric(ctx, entry)
	case domain.KindAlert:
		c.dispatchAlert(ctx, entry)
	default:
		c.logger.Warn("unknown stream entry kind, skipping", "id", entry.ID, "kind", entry.Kind)
	}
}

func (c *Consumer) dispatchMetric(ctx context.Context, entry streams.Entry) {
	var raw domain.RawMetricEvent
	if err := json.Unmarshal([]byte(entry.Data), &raw); err != nil {
		c.logger.Warn("malformed metric payload, moving to dead-letter stream", "id", entry.ID, "error", err)
		c.stream.MoveToDLQ(ctx, entry, fmt.Sprintf("unmarshal failed: %v", err))
		atomic.AddInt64(&c.dlqCount, 1)
		return
	}

	result := c.detector.Detect(detector.RawMetricValue{Value: raw.MetricValue, Present: raw.MetricValue != nil})
	if result.Error != "" {
		c.logger.Warn("metric detection error", "id", entry.ID, "metric", raw.MetricName, "error", result.Error)
		return
	}
	if !result.IsAnomaly {
		return
	}

	if err := c.gw.InsertAnomalyResult(ctx, result.AnomalyScore, result.IsAnomaly, result.ModelVersion); err != nil {
		c.logger.Error("failed to persist anomaly result", "id", entry.ID, "metric", raw.MetricName, "error", err)
	}
}

func (c *Consumer) dispatchAlert(ctx context.Context, entry streams.Entry) {
	var alert domain.AlertPayload
	if err := json.Unmarshal([]byte(entry.Data), &alert); err != nil {
		c.logger.Warn("malformed alert payload, moving to dead-letter stream", "id", entry.ID, "error", err)
		c.stream.MoveToDLQ(ctx, entry, fmt.Sprintf("unmarshal failed: %v", err))
		atomic.AddInt64(&c.dlqCount, 1)
		return
	}

	decision, err := c.dedup.Classify(ctx, alert)
	if err != nil {
		c.logger.Error("deduplication classification failed", "id", entry.ID, "alert_id", alert.AlertID, "error", err)
		return
	}

	alertID, err := ulid.Parse(alert.AlertID)
	if err != nil {
		c.logger.Warn("alert_id is not a valid ULID, moving to dead-letter stream", "id", entry.ID, "alert_id", alert.AlertID)
		c.stream.MoveToDLQ(ctx, entry, fmt.Sprintf("invalid alert_id: %q", alert.AlertID))
		atomic.AddInt64(&c.dlqCount, 1)
		return
	}

	if !decision.ShouldAnalyze {
		if decision.Prior != nil {
			if err := c.dedup.MarkDuplicate(ctx, alertID, decision.Prior, decision.Reason); err != nil {
				c.logger.Error("failed to mark alert as duplicate", "id", entry.ID, "alert_id", alert.AlertID, "error", err)
			}
		}
		return
	}

	c.analyzeWithRetry(ctx, entry, alertID, alert, decision.Reason)
}

// analyzeWithRetry retries the LLM call up to LLMMaxRetries times with a
// fixed backoff; the retry is internal to the consumer dispatch, not a
// stream redelivery. On final failure it persists a confidence-0.0 row.
func (c *Consumer) analyzeWithRetry(ctx context.Context, entry streams.Entry, alertID ulid.ULID, alert domain.AlertPayload, reason domain.AnalysisReason) {
	var result llmclient.Result

	for attempt := 0; attempt <= c.cfg.LLMMaxRetries; attempt++ {
		result = c.llm.Analyze(ctx, alert, reason)
		if result.Error == "" {
			break
		}
		if attempt < c.cfg.LLMMaxRetries {
			select {
			case <-time.After(c.cfg.LLMRetryDelay):
			case <-ctx.Done():
				return
			}
		}
	}

	if result.Error != "" {
		if err := c.gw.InsertLLMFailure(ctx, alertID, reason, result.Error); err != nil {
			c.logger.Error("failed to persist llm failure", "id", entry.ID, "alert_id", alert.AlertID, "error", err)
		}
		return
	}

	confidence := 0.85
	if err := c.gw.InsertLLMResult(ctx, alertID, reason, result.RootCause, result.ImmediateActions, confidence); err != nil {
		c.logger.Error("failed to persist llm result", "id", entry.ID, "alert_id", alert.AlertID, "error", err)
	}
}
