package services

import (
	"context"
	"maps"
	"time"
)

const (
	eventOrderCreated       = "order.created"
	eventOrderStatusChanged = "order.status.changed"
	eventOrderPaid          = "order.paid"
	eventInvoiceCreated     = "invoice.created"
	eventBookDeleted        = "book.deleted"
)

// DomainEvent is published after a state change has been committed.
type DomainEvent struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId,omitempty"`
	OrderNumber    string         `json:"orderNumber,omitempty"`
	BookID         string         `json:"bookId,omitempty"`
	InvoiceID      string         `json:"invoiceId,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	Amount         int64          `json:"amount,omitempty"`
	Currency       string         `json:"currency,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// EventPublisher delivers domain events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// eventEmitter publishes best effort: a failed publish is logged and never undoes the
// committed change that produced the event.
type eventEmitter struct {
	publisher EventPublisher
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

func (e eventEmitter) emit(ctx context.Context, event DomainEvent) {
	if e.publisher == nil {
		return
	}
	if event.ID == "" && e.newID != nil {
		event.ID = "evt_" + e.newID()
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger(ctx, "event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
