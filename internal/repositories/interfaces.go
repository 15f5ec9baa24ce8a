package repositories

import (
	"context"

	domain "github.com/bookporter/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Books() BookRepository
	Orders() OrderRepository
	Invoices() InvoiceRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations into one atomic read-validate-write boundary.
// Repository calls made with the ctx handed to fn participate in the same transaction, and
// a nested RunInTx joins the outer one. fn may be re-run on contention.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// BookRepository persists catalog listings.
type BookRepository interface {
	Insert(ctx context.Context, book domain.Book) error
	FindByID(ctx context.Context, bookID string) (domain.Book, error)
	List(ctx context.Context, filter BookListFilter) ([]domain.Book, error)
	Delete(ctx context.Context, bookID string) error
}

// OrderRepository persists orders and provides the buyer, seller and book access paths.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	DeleteByBook(ctx context.Context, bookID string) (int, error)
}

// InvoiceRepository stores immutable invoices. Insert fails with a conflict error when an
// invoice with the same ID already exists.
type InvoiceRepository interface {
	Insert(ctx context.Context, invoice domain.Invoice) error
	FindByID(ctx context.Context, invoiceID string) (domain.Invoice, error)
	FindByOrder(ctx context.Context, orderID string) (domain.Invoice, error)
	ListByBuyer(ctx context.Context, filter InvoiceListFilter) (domain.CursorPage[domain.Invoice], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// BookListFilter narrows catalog listings. Results are ordered by CreatedAt descending.
type BookListFilter struct {
	Status   domain.BookStatus
	SellerID string
	Limit    int
}

// OrderListFilter selects orders by one access path. Results are ordered by CreatedAt descending.
type OrderListFilter struct {
	BuyerID    string
	SellerID   string
	BookID     string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// InvoiceListFilter selects a buyer's invoices. Results are ordered by PaidAt descending.
type InvoiceListFilter struct {
	BuyerID    string
	Pagination domain.Pagination
}
