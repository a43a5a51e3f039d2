package streams

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(rdb, Config{
		StreamName: "metrics:raw",
		Group:      "ai_service_group",
		Consumer:   "kamsentry-worker-1",
		DLQStream:  "metrics:raw:dlq",
		DLQMaxLen:  1000,
		DLQTTL:     time.Hour,
	}, logger)
	return c, mr
}

func TestConnectCreatesGroupIdempotently(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Connect(ctx), "second Connect must swallow BUSYGROUP")
}

func TestReadReturnsOnlyNewEntries(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	_, err := mr.XAdd("metrics:raw", "*", []string{"type", "alert", "data", `{"alert_id":"A1"}`})
	require.NoError(t, err)

	entries := c.Read(ctx, 10, 10*time.Millisecond)
	require.Len(t, entries, 1)
	require.Equal(t, "alert", entries[0].Kind)
	require.JSONEq(t, `{"alert_id":"A1"}`, entries[0].Data)

	// The same entries aren't redelivered on a second read (no ack yet,
	// but ">" excludes already-delivered ids).
	entries = c.Read(ctx, 10, 10*time.Millisecond)
	require.Empty(t, entries)
}

func TestAckIsIdempotent(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	id, err := mr.XAdd("metrics:raw", "*", []string{"type", "metric", "data", "{}"})
	require.NoError(t, err)
	entries := c.Read(ctx, 10, 10*time.Millisecond)
	require.Len(t, entries, 1)

	c.Ack(ctx, id)
	c.Ack(ctx, id) // repeated ack must not panic or error visibly
}

func TestReclaimStaleForceAcksOldEntries(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	_, err := mr.XAdd("metrics:raw", "*", []string{"type", "metric", "data", "{}"})
	require.NoError(t, err)
	entries := c.Read(ctx, 10, 10*time.Millisecond)
	require.Len(t, entries, 1)

	mr.FastForward(10 * time.Minute)

	reclaimed := c.ReclaimStale(ctx, 5*time.Minute)
	require.Equal(t, 1, reclaimed)
}

func TestMoveToDLQAppendsEntry(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	c.MoveToDLQ(ctx, Entry{ID: "1-1", Kind: "alert", Data: "not-json"}, "malformed payload")

	length, err := mr.XLen("metrics:raw:dlq")
	require.NoError(t, err)
	require.Equal(t, 1, length)
}

func TestLenReflectsStreamSize(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	n, err := c.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	_, err = mr.XAdd("metrics:raw", "*", []string{"type", "metric", "data", "{}"})
	require.NoError(t, err)
	_, err = mr.XAdd("metrics:raw", "*", []string{"type", "metric", "data", "{}"})
	require.NoError(t, err)

	n, err = c.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestPendingCountReflectsUnackedEntries(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	n, err := c.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	id, err := mr.XAdd("metrics:raw", "*", []string{"type", "metric", "data", "{}"})
	require.NoError(t, err)
	entries := c.Read(ctx, 10, 10*time.Millisecond)
	require.Len(t, entries, 1)

	n, err = c.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	c.Ack(ctx, id)
	n, err = c.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestPeekDLQReturnsNewestFirst(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	c.MoveToDLQ(ctx, Entry{ID: "1-1", Kind: "alert", Data: `{"alert_id":"A1"}`}, "malformed payload")
	c.MoveToDLQ(ctx, Entry{ID: "2-1", Kind: "metric", Data: "{}"}, "timeout")

	entries, err := c.PeekDLQ(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "2-1", entries[0].OriginalID)
	require.Equal(t, "timeout", entries[0].Reason)
	require.Equal(t, "1-1", entries[1].OriginalID)
}

func TestPeekDLQWithoutConfiguredStreamReturnsEmpty(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	c.dlqStream = ""

	entries, err := c.PeekDLQ(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, entries)
}
