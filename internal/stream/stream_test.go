package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"perf-collector/internal/core"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testBatch(id string) *core.Batch {
	return &core.Batch{
		ID: id,
		Entries: []core.TimingEntry{
			{EntryType: core.EntryResource, Name: "app.js", InitiatorType: "script"},
			{EntryType: core.EntryPaint, Name: "first-paint", StartTime: 120},
		},
		Digest:    core.Digest{Root: "feed", Leaves: 2},
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestRedisPublisherAppendsBatches(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	pub, err := NewRedisPublisher(client, "perf:batches", 0)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, testBatch("b1")))
	require.NoError(t, pub.Publish(ctx, testBatch("b2")))

	msgs, err := client.XRange(ctx, "perf:batches", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b1", msgs[0].Values["id"])
	assert.Equal(t, "feed", msgs[0].Values["root"])
	assert.Equal(t, "2", msgs[0].Values["entries"])

	var decoded core.Batch
	require.NoError(t, json.Unmarshal([]byte(msgs[1].Values["payload"].(string)), &decoded))
	assert.Equal(t, "b2", decoded.ID)
	assert.Len(t, decoded.Entries, 2)
}

func TestRedisPublisherCapsStream(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	pub, err := NewRedisPublisher(client, "perf:capped", 2)
	require.NoError(t, err)
	for _, id := range []string{"b1", "b2", "b3"} {
		require.NoError(t, pub.Publish(ctx, testBatch(id)))
	}

	n, err := client.XLen(ctx, "perf:capped").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestRedisPublisherReportsFailure(t *testing.T) {
	mr, client := newTestRedis(t)
	pub, err := NewRedisPublisher(client, "perf:batches", 0)
	require.NoError(t, err)

	mr.SetError("READONLY replica")
	err = pub.Publish(context.Background(), testBatch("b1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b1")
}

func TestNewRedisPublisherValidates(t *testing.T) {
	_, err := NewRedisPublisher(nil, "s", 0)
	assert.Error(t, err)
	_, client := newTestRedis(t)
	_, err = NewRedisPublisher(client, "", 0)
	assert.Error(t, err)
}

func TestBatchRecord(t *testing.T) {
	rec, err := batchRecord("perf-batches", testBatch("b1"))
	require.NoError(t, err)

	assert.Equal(t, "perf-batches", rec.Topic)
	assert.Equal(t, []byte("b1"), rec.Key)
	require.Len(t, rec.Headers, 2)
	assert.Equal(t, "feed", string(rec.Headers[0].Value))
	assert.Equal(t, "2", string(rec.Headers[1].Value))
	assert.True(t, rec.Timestamp.Equal(time.Unix(1700000000, 0)))

	var decoded core.Batch
	require.NoError(t, json.Unmarshal(rec.Value, &decoded))
	assert.Equal(t, "first-paint", decoded.Entries[1].Name)
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "topic")
	assert.Error(t, err)
	_, err = NewKafkaPublisher([]string{"localhost:9092"}, "")
	assert.Error(t, err)
}
