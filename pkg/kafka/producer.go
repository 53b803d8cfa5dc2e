package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

const produceTimeout = 5 * time.Second

// KafkaProducer publishes chat events through a franz-go client. Writes
// are synchronous with a bounded timeout; fire-and-forget semantics live
// with the caller.
type KafkaProducer struct {
	client   *kgo.Client
	logger   *logrus.Logger
	clientID string
}

// NewKafkaProducer connects to the given brokers. Batches are snappy
// compressed and linger briefly so bursts of chat activity coalesce.
func NewKafkaProducer(brokers []string, clientID string, logger *logrus.Logger) (*KafkaProducer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.ProducerBatchMaxBytes(1_000_000),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaProducer{client: client, logger: logger, clientID: clientID}, nil
}

func (p *KafkaProducer) Close() error {
	p.client.Close()
	return nil
}

// ProduceMessage writes one record and waits for the broker ack.
func (p *KafkaProducer) ProduceMessage(topic string, key, value []byte, headers map[string]string) error {
	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), produceTimeout)
	defer cancel()
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// PublishEvent marshals event onto the chat events topic, keyed by
// event ID.
func (p *KafkaProducer) PublishEvent(event *Event) error {
	if event == nil {
		return errors.New("nil event")
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	headers := map[string]string{
		"source":     event.Source,
		"event_type": event.Type,
	}
	if event.ChatID != "" {
		headers["chat_id"] = event.ChatID
	}
	return p.ProduceMessage(EventsTopic, []byte(event.ID), value, headers)
}

func (p *KafkaProducer) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), produceTimeout)
	defer cancel()
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("ping kafka: %w", err)
	}
	return nil
}

// GetClient exposes the underlying client for the shared health check.
func (p *KafkaProducer) GetClient() *kgo.Client {
	return p.client
}
