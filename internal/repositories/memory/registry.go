// Package memory provides an in-process repositories.Registry for local runs and tests.
// Units of work hold a registry-wide lock and roll back on error, which serialises
// concurrent transitions the same way Firestore transactions do.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	domain "github.com/bookporter/api/internal/domain"
	"github.com/bookporter/api/internal/platform/pagination"
	"github.com/bookporter/api/internal/repositories"
)

const defaultPageSize = 20

type state struct {
	books    map[string]domain.Book
	orders   map[string]domain.Order
	invoices map[string]domain.Invoice
	counters map[string]int64
}

func newState() *state {
	return &state{
		books:    map[string]domain.Book{},
		orders:   map[string]domain.Order{},
		invoices: map[string]domain.Invoice{},
		counters: map[string]int64{},
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.books {
		out.books[k] = v
	}
	for k, v := range s.orders {
		out.orders[k] = cloneOrder(v)
	}
	for k, v := range s.invoices {
		out.invoices[k] = v
	}
	for k, v := range s.counters {
		out.counters[k] = v
	}
	return out
}

type txKey struct{ r *Registry }

// Registry is a mutex-guarded in-memory implementation of repositories.Registry.
type Registry struct {
	mu     sync.Mutex
	state  *state
	health repositories.HealthRepository
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{state: newState()}
	health, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	}})
	r.health = health
	return r
}

func (r *Registry) Books() repositories.BookRepository       { return bookRepo{r} }
func (r *Registry) Orders() repositories.OrderRepository     { return orderRepo{r} }
func (r *Registry) Invoices() repositories.InvoiceRepository { return invoiceRepo{r} }
func (r *Registry) Counters() repositories.CounterRepository { return counterRepo{r} }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }
func (r *Registry) Close(context.Context) error              { return nil }

// RunInTx executes fn under the registry lock. State changes are discarded when fn fails.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory unit of work: function is required")
	}
	if r.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.state.clone()
	if err := fn(context.WithValue(ctx, txKey{r}, true)); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

func (r *Registry) inTx(ctx context.Context) bool {
	active, _ := ctx.Value(txKey{r}).(bool)
	return active
}

func (r *Registry) with(ctx context.Context, fn func(*state) error) error {
	if !r.inTx(ctx) {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	return fn(r.state)
}

// Error satisfies repositories.RepositoryError.
type Error struct {
	msg      string
	notFound bool
	conflict bool
}

func (e *Error) Error() string       { return e.msg }
func (e *Error) IsNotFound() bool    { return e.notFound }
func (e *Error) IsConflict() bool    { return e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(kind, id string) error {
	return &Error{msg: "memory: " + kind + " " + id + " not found", notFound: true}
}

func conflict(kind, id string) error {
	return &Error{msg: "memory: " + kind + " " + id + " already exists", conflict: true}
}

type bookRepo struct{ r *Registry }

func (b bookRepo) Insert(ctx context.Context, book domain.Book) error {
	return b.r.with(ctx, func(s *state) error {
		if _, ok := s.books[book.ID]; ok {
			return conflict("book", book.ID)
		}
		s.books[book.ID] = book
		return nil
	})
}

func (b bookRepo) FindByID(ctx context.Context, bookID string) (domain.Book, error) {
	var out domain.Book
	err := b.r.with(ctx, func(s *state) error {
		book, ok := s.books[strings.TrimSpace(bookID)]
		if !ok {
			return notFound("book", bookID)
		}
		out = book
		return nil
	})
	return out, err
}

func (b bookRepo) List(ctx context.Context, filter repositories.BookListFilter) ([]domain.Book, error) {
	var out []domain.Book
	err := b.r.with(ctx, func(s *state) error {
		for _, book := range s.books {
			if filter.Status != "" && book.Status != filter.Status {
				continue
			}
			if filter.SellerID != "" && book.SellerID != filter.SellerID {
				continue
			}
			out = append(out, book)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, err
}

func (b bookRepo) Delete(ctx context.Context, bookID string) error {
	return b.r.with(ctx, func(s *state) error {
		delete(s.books, bookID)
		return nil
	})
}

type orderRepo struct{ r *Registry }

func (o orderRepo) Insert(ctx context.Context, order domain.Order) error {
	return o.r.with(ctx, func(s *state) error {
		if _, ok := s.orders[order.ID]; ok {
			return conflict("order", order.ID)
		}
		s.orders[order.ID] = cloneOrder(order)
		return nil
	})
}

func (o orderRepo) Update(ctx context.Context, order domain.Order) error {
	return o.r.with(ctx, func(s *state) error {
		if _, ok := s.orders[order.ID]; !ok {
			return notFound("order", order.ID)
		}
		s.orders[order.ID] = cloneOrder(order)
		return nil
	})
}

func (o orderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var out domain.Order
	err := o.r.with(ctx, func(s *state) error {
		order, ok := s.orders[strings.TrimSpace(orderID)]
		if !ok {
			return notFound("order", orderID)
		}
		out = cloneOrder(order)
		return nil
	})
	return out, err
}

func (o orderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	statuses := map[domain.OrderStatus]bool{}
	for _, status := range filter.Status {
		statuses[status] = true
	}

	var matched []domain.Order
	_ = o.r.with(ctx, func(s *state) error {
		for _, order := range s.orders {
			switch {
			case filter.BuyerID != "" && order.BuyerID != filter.BuyerID:
				continue
			case filter.SellerID != "" && order.SellerID() != filter.SellerID:
				continue
			case filter.BookID != "" && order.Book.BookID != filter.BookID:
				continue
			case len(statuses) > 0 && !statuses[order.Status]:
				continue
			}
			matched = append(matched, cloneOrder(order))
		}
		return nil
	})
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, cursor, filter.Pagination.PageSize, func(o domain.Order) pagination.Cursor {
		return pagination.Cursor{Time: o.CreatedAt, ID: o.ID}
	}), nil
}

func (o orderRepo) DeleteByBook(ctx context.Context, bookID string) (int, error) {
	count := 0
	err := o.r.with(ctx, func(s *state) error {
		for id, order := range s.orders {
			if order.Book.BookID == bookID {
				delete(s.orders, id)
				count++
			}
		}
		return nil
	})
	return count, err
}

type invoiceRepo struct{ r *Registry }

func (i invoiceRepo) Insert(ctx context.Context, invoice domain.Invoice) error {
	return i.r.with(ctx, func(s *state) error {
		if _, ok := s.invoices[invoice.ID]; ok {
			return conflict("invoice", invoice.ID)
		}
		s.invoices[invoice.ID] = invoice
		return nil
	})
}

func (i invoiceRepo) FindByID(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	var out domain.Invoice
	err := i.r.with(ctx, func(s *state) error {
		invoice, ok := s.invoices[invoiceID]
		if !ok {
			return notFound("invoice", invoiceID)
		}
		out = invoice
		return nil
	})
	return out, err
}

func (i invoiceRepo) FindByOrder(ctx context.Context, orderID string) (domain.Invoice, error) {
	return i.FindByID(ctx, domain.InvoiceIDForOrder(orderID))
}

func (i invoiceRepo) ListByBuyer(ctx context.Context, filter repositories.InvoiceListFilter) (domain.CursorPage[domain.Invoice], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Invoice]{}, err
	}
	var matched []domain.Invoice
	_ = i.r.with(ctx, func(s *state) error {
		for _, invoice := range s.invoices {
			if invoice.BuyerID == filter.BuyerID {
				matched = append(matched, invoice)
			}
		}
		return nil
	})
	sort.Slice(matched, func(a, b int) bool {
		if matched[a].PaidAt.Equal(matched[b].PaidAt) {
			return matched[a].ID > matched[b].ID
		}
		return matched[a].PaidAt.After(matched[b].PaidAt)
	})
	return paginate(matched, cursor, filter.Pagination.PageSize, func(inv domain.Invoice) pagination.Cursor {
		return pagination.Cursor{Time: inv.PaidAt, ID: inv.ID}
	}), nil
}

type counterRepo struct{ r *Registry }

func (c counterRepo) Next(ctx context.Context, counterID string) (int64, error) {
	if strings.TrimSpace(counterID) == "" {
		return 0, errors.New("memory counter: counter id is required")
	}
	var next int64
	err := c.r.with(ctx, func(s *state) error {
		s.counters[counterID]++
		next = s.counters[counterID]
		return nil
	})
	return next, err
}

func paginate[T any](sorted []T, cursor pagination.Cursor, pageSize int, key func(T) pagination.Cursor) domain.CursorPage[T] {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	page := domain.CursorPage[T]{Items: []T{}}
	for _, item := range sorted {
		k := key(item)
		if !cursor.After(k.Time, k.ID) {
			continue
		}
		if len(page.Items) == pageSize {
			page.NextPageToken = pagination.EncodeToken(key(page.Items[len(page.Items)-1]))
			break
		}
		page.Items = append(page.Items, item)
	}
	return page
}

func cloneOrder(order domain.Order) domain.Order {
	if order.Payment != nil {
		payment := *order.Payment
		order.Payment = &payment
	}
	return order
}

var _ repositories.Registry = (*Registry)(nil)
