package events

import (
	"context"
	"errors"

	"github.com/bookporter/api/internal/services"
)

// Multi fans an event out to every configured publisher and joins their errors.
type Multi []services.EventPublisher

// Publish delivers to all publishers even when one fails.
func (m Multi) Publish(ctx context.Context, event services.DomainEvent) error {
	var errs []error
	for _, publisher := range m {
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
