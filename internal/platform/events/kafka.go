package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Kafka publishes events to a single Kafka topic, keyed by event name so all
// events for one name stay ordered within a partition.
type Kafka struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// KafkaOption configures a Kafka publisher.
type KafkaOption func(*Kafka)

// WithKafkaLogger sets the logger used for async produce failures.
func WithKafkaLogger(logger *slog.Logger) KafkaOption {
	return func(k *Kafka) {
		k.logger = logger
	}
}

// NewKafka connects to the brokers and ensures the topic exists.
func NewKafka(ctx context.Context, brokers []string, topic string, opts ...KafkaOption) (*Kafka, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, 1, 1, nil, topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure topic %s: %w", topic, err)
	}
	// Per-topic failures arrive in the response, not the request error. An
	// existing topic is fine; anything else is a real failure.
	if topicResp, ok := resp[topic]; ok && topicResp.Err != nil && !errors.Is(topicResp.Err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("ensure topic %s: %w", topic, topicResp.Err)
	}

	k := &Kafka{client: client, topic: topic, logger: slog.Default()}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

// Publish produces asynchronously. Broker-side failures are logged by the
// produce callback, not returned: the caller treats publication as
// fire-and-forget either way.
func (k *Kafka) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Name, err)
	}

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(event.Name),
		Value: payload,
	}
	k.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			k.logger.Error("kafka produce failed",
				"event", event.Name,
				"topic", k.topic,
				"error", err,
			)
		}
	})
	return nil
}

// Close flushes pending records and releases the client.
func (k *Kafka) Close(ctx context.Context) error {
	if err := k.client.Flush(ctx); err != nil {
		return fmt.Errorf("flush kafka producer: %w", err)
	}
	k.client.Close()
	return nil
}
