package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/bookporter/api/internal/platform/firestore"
	"github.com/bookporter/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository hands out gap-free sequence numbers using Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDocument]
	now      func() time.Time
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection, nil, nil),
		now:      time.Now,
	}, nil
}

// Next atomically increments the counter and returns the new value. Missing counters start at 1.
func (r *CounterRepository) Next(ctx context.Context, counterID string) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, errors.New("counter repository: counter id is required")
	}

	var next int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		doc := counterDocument{}
		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			if err := snapshot.DataTo(&doc); err != nil {
				return fmt.Errorf("firestore counters decode %s: %w", id, err)
			}
		case codes.NotFound:
		default:
			return err
		}
		doc.CurrentValue++
		doc.UpdatedAt = r.now().UTC()
		next = doc.CurrentValue
		return tx.Set(ref, doc)
	})
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return next, nil
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)
