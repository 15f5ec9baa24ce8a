package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/bookporter/api/internal/services"
)

type kafkaProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// KafkaPublisher produces domain events keyed by order so a partition sees one order's
// events in commit order.
type KafkaPublisher struct {
	client kafkaProducer
	topic  string
}

// NewKafkaPublisher dials the configured brokers.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, errors.New("kafka event publisher: topic is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka event publisher: at least one broker is required")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if id := strings.TrimSpace(cfg.ClientID); id != "" {
		opts = append(opts, kgo.ClientID(id))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka event publisher: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic}, nil
}

// Publish produces the event synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, event services.DomainEvent) error {
	if p == nil || p.client == nil {
		return errors.New("kafka event publisher: not initialised")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := event.OrderID
	if key == "" {
		key = event.BookID
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(key),
		Value: data,
	}
	for name, value := range eventAttributes(event) {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: name, Value: []byte(value)})
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce %s: %w", event.Type, err)
	}
	return nil
}

// Close flushes and releases the client.
func (p *KafkaPublisher) Close() {
	if p != nil && p.client != nil {
		p.client.Close()
	}
}
