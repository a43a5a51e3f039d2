// Package streams wraps a single Redis Stream as a durable, group-partitioned
// event source: connect, batched read, ack, and reclaim of stale pending
// entries. It is the sole place go-redis stream commands are issued from.
package streams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is the stream-consumer side of a single named Redis Stream /
// consumer-group pair (C1 of the worker pipeline).
type Client struct {
	rdb          *redis.Client
	logger       *slog.Logger
	streamName   string
	group        string
	consumer     string
	dlqStream    string
	dlqMaxLen    int64
	dlqTTL       time.Duration
}

// Config configures a Client.
type Config struct {
	StreamName string
	Group      string
	Consumer   string
	DLQStream  string
	DLQMaxLen  int64
	DLQTTL     time.Duration
}

// Entry is a single entry read off the stream.
type Entry struct {
	ID   string
	Kind string // the "type" field: "metric" or "alert"
	Data string // the "data" field: JSON-encoded payload
}

// New constructs a Client bound to a single stream/group/consumer triple.
func New(rdb *redis.Client, cfg Config, logger *slog.Logger) *Client {
	return &Client{
		rdb:        rdb,
		logger:     logger,
		streamName: cfg.StreamName,
		group:      cfg.Group,
		consumer:   cfg.Consumer,
		dlqStream:  cfg.DLQStream,
		dlqMaxLen:  cfg.DLQMaxLen,
		dlqTTL:     cfg.DLQTTL,
	}
}

// Connect ensures the consumer group exists on the stream, creating both if
// missing. A "group already exists" response from the broker (a race with a
// sibling consumer doing the same thing at startup) is swallowed; any other
// failure fails Connect.
func (c *Client) Connect(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.streamName, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on stream %s: %w", c.group, c.streamName, err)
	}
	return nil
}

// Read returns up to maxBatch new-to-this-consumer entries, blocking up to
// blockDuration if none are available. Broker connection loss returns an
// empty slice rather than an error, matching the consumer loop's "batch
// empty: sleep and continue" contract.
func (c *Client) Read(ctx context.Context, maxBatch int64, blockDuration time.Duration) []Entry {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.streamName, ">"},
		Count:    maxBatch,
		Block:    blockDuration,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("stream read failed", "stream", c.streamName, "error", err)
		}
		return nil
	}

	var entries []Entry
	for _, stream := range res {
		for _, msg := range stream.Messages {
			entries = append(entries, messageToEntry(msg))
		}
	}
	return entries
}

func messageToEntry(msg redis.XMessage) Entry {
	e := Entry{ID: msg.ID}
	if kind, ok := msg.Values["type"].(string); ok {
		e.Kind = kind
	}
	if data, ok := msg.Values["data"].(string); ok {
		e.Data = data
	}
	return e
}

// Ack retires id from the group's pending set. Failures are logged and
// swallowed: the next reclaim sweep handles re-delivery if it was never
// actually retired.
func (c *Client) Ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, c.streamName, c.group, id).Err(); err != nil {
		c.logger.Warn("ack failed", "stream", c.streamName, "id", id, "error", err)
	}
}

// ReclaimStale enumerates the group's pending entries and force-acks any
// whose idle time exceeds idleThreshold, bounding damage from a consumer
// that crashed after accepting an entry but before acking it. It returns
// the count of entries reclaimed.
func (c *Client) ReclaimStale(ctx context.Context, idleThreshold time.Duration) int {
	pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.streamName,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  1000,
	}).Result()
	if err != nil {
		c.logger.Warn("pending scan failed", "stream", c.streamName, "error", err)
		return 0
	}

	reclaimed := 0
	for _, p := range pending {
		if p.Idle < idleThreshold {
			continue
		}
		if err := c.rdb.XAck(ctx, c.streamName, c.group, p.ID).Err(); err != nil {
			c.logger.Warn("reclaim ack failed", "stream", c.streamName, "id", p.ID, "error", err)
			continue
		}
		reclaimed++
	}
	if reclaimed > 0 {
		c.logger.Info("reclaimed stale pending entries", "stream", c.streamName, "count", reclaimed)
	}
	return reclaimed
}

// MoveToDLQ appends a copy of a poison entry to the configured dead-letter
// stream, bounding it to dlqMaxLen entries (approximate trim) with a TTL.
func (c *Client) MoveToDLQ(ctx context.Context, entry Entry, reason string) {
	if c.dlqStream == "" {
		return
	}
	err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.dlqStream,
		MaxLen: c.dlqMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"original_id": entry.ID,
			"type":        entry.Kind,
			"data":        entry.Data,
			"reason":      reason,
		},
	}).Err()
	if err != nil {
		c.logger.Warn("failed to move entry to DLQ", "stream", c.streamName, "id", entry.ID, "error", err)
		return
	}
	if c.dlqTTL > 0 {
		_ = c.rdb.Expire(ctx, c.dlqStream, c.dlqTTL).Err()
	}
}

// Len returns the approximate number of entries currently on the stream.
func (c *Client) Len(ctx context.Context) (int64, error) {
	n, err := c.rdb.XLen(ctx, c.streamName).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read stream length: %w", err)
	}
	return n, nil
}

// PendingCount returns the number of entries delivered to the group but not
// yet acked.
func (c *Client) PendingCount(ctx context.Context) (int64, error) {
	summary, err := c.rdb.XPending(ctx, c.streamName, c.group).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read pending summary: %w", err)
	}
	return summary.Count, nil
}

// DLQEntry is a single dead-lettered entry as surfaced to operators.
type DLQEntry struct {
	ID         string
	OriginalID string
	Kind       string
	Data       string
	Reason     string
}

// PeekDLQ returns up to limit of the most recent entries on the dead-letter
// stream, newest first.
func (c *Client) PeekDLQ(ctx context.Context, limit int64) ([]DLQEntry, error) {
	if c.dlqStream == "" {
		return nil, nil
	}
	msgs, err := c.rdb.XRevRangeN(ctx, c.dlqStream, "+", "-", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead-letter stream: %w", err)
	}

	entries := make([]DLQEntry, 0, len(msgs))
	for _, msg := range msgs {
		e := DLQEntry{ID: msg.ID}
		if v, ok := msg.Values["original_id"].(string); ok {
			e.OriginalID = v
		}
		if v, ok := msg.Values["type"].(string); ok {
			e.Kind = v
		}
		if v, ok := msg.Values["data"].(string); ok {
			e.Data = v
		}
		if v, ok := msg.Values["reason"].(string); ok {
			e.Reason = v
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Close closes the underlying Redis client.
func (c *Client) Close() error {
	return c.rdb.Close()
}
