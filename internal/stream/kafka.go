package stream

import (
	"context"
	"strconv"

	"perf-collector/internal/core"

	"github.com/pkg/errors"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaPublisher produces one record per batch.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

// NewKafkaPublisher creates a producer for topic. Extra options are appended
// after the defaults.
func NewKafkaPublisher(brokers []string, topic string, opts ...kgo.Opt) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, errors.Wrap(err, "creating kafka client")
	}
	return &KafkaPublisher{client: client, topic: topic}, nil
}

func batchRecord(topic string, batch *core.Batch) (*kgo.Record, error) {
	payload, err := encodeBatch(batch)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(batch.ID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "root", Value: []byte(batch.Digest.Root)},
			{Key: "entries", Value: []byte(strconv.Itoa(len(batch.Entries)))},
		},
		Timestamp: batch.CreatedAt,
	}, nil
}

// Publish implements core.Publisher and waits for the broker ack.
func (p *KafkaPublisher) Publish(ctx context.Context, batch *core.Batch) error {
	rec, err := batchRecord(p.topic, batch)
	if err != nil {
		return err
	}
	return errors.Wrapf(p.client.ProduceSync(ctx, rec).FirstErr(), "producing batch %s to %s", batch.ID, p.topic)
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}
