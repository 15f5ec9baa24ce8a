// Package events delivers committed domain events to Pub/Sub and Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/bookporter/api/internal/services"
)

// PubSubPublisher publishes domain events to a Pub/Sub topic.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a Pub/Sub backed event publisher. Messages are ordered per
// order when the topic has message ordering enabled.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Publish sends the event and waits for the server acknowledgement.
func (p *PubSubPublisher) Publish(ctx context.Context, event services.DomainEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}
	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: eventAttributes(event)}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = event.OrderID
	}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

func eventAttributes(event services.DomainEvent) map[string]string {
	attrs := make(map[string]string)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "bookId", event.BookID)
	setAttr(attrs, "invoiceId", event.InvoiceID)
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
