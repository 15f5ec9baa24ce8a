package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/bookporter/api/internal/platform/firestore"
	"github.com/bookporter/api/internal/repositories"
)

// UnitOfWork runs repository calls inside one Firestore transaction. Firestore retries the
// callback when a concurrent transaction touched the same documents, so the retried attempt
// re-reads current state before validating again.
type UnitOfWork struct {
	provider *pfirestore.Provider
	opts     []pfirestore.TxOption
}

// NewUnitOfWork constructs a transactional boundary on the provider.
func NewUnitOfWork(provider *pfirestore.Provider, opts ...pfirestore.TxOption) *UnitOfWork {
	return &UnitOfWork{provider: provider, opts: opts}
}

func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u == nil || u.provider == nil {
		return errors.New("firestore unit of work not initialised")
	}
	return u.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	}, u.opts...)
}

// Registry bundles the Firestore repositories behind repositories.Registry.
type Registry struct {
	*UnitOfWork

	provider *pfirestore.Provider
	books    *BookRepository
	orders   *OrderRepository
	invoices *InvoiceRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

// NewRegistry builds every Firestore repository on a shared provider. health may be nil.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	books, err := NewBookRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	invoices, err := NewInvoiceRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		UnitOfWork: NewUnitOfWork(provider),
		provider:   provider,
		books:      books,
		orders:     orders,
		invoices:   invoices,
		counters:   counters,
		health:     health,
	}, nil
}

func (r *Registry) Books() repositories.BookRepository       { return r.books }
func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Invoices() repositories.InvoiceRepository { return r.invoices }
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

var _ repositories.Registry = (*Registry)(nil)
