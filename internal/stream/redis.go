package stream

import (
	"context"

	"perf-collector/internal/core"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const defaultStreamMaxLen = 10000

// RedisPublisher appends batches to a capped Redis stream.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher uses maxLen <= 0 as the default cap.
func NewRedisPublisher(client *redis.Client, stream string, maxLen int64) (*RedisPublisher, error) {
	if client == nil {
		return nil, errors.New("nil redis client")
	}
	if stream == "" {
		return nil, errors.New("stream name is required")
	}
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}, nil
}

// Publish implements core.Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, batch *core.Batch) error {
	payload, err := encodeBatch(batch)
	if err != nil {
		return err
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Values: map[string]interface{}{
			"id":      batch.ID,
			"root":    batch.Digest.Root,
			"entries": len(batch.Entries),
			"payload": payload,
		},
	}).Err()
	return errors.Wrapf(err, "appending batch %s to stream %s", batch.ID, p.stream)
}
