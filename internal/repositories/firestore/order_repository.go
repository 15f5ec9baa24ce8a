package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/bookporter/api/internal/domain"
	pfirestore "github.com/bookporter/api/internal/platform/firestore"
	"github.com/bookporter/api/internal/platform/pagination"
	"github.com/bookporter/api/internal/repositories"
)

const (
	ordersCollection     = "orders"
	defaultOrderPageSize = 20
)

type orderDocument struct {
	OrderNumber   string               `firestore:"orderNumber"`
	Book          bookSnapshotDocument `firestore:"book"`
	BuyerID       string               `firestore:"buyerId"`
	SellerID      string               `firestore:"sellerId"`
	Contact       orderContactDocument `firestore:"contact"`
	Status        string               `firestore:"status"`
	PaymentStatus string               `firestore:"paymentStatus"`
	Payment       *orderPaymentDoc     `firestore:"payment,omitempty"`
	CancelledBy   string               `firestore:"cancelledBy,omitempty"`
	CreatedAt     time.Time            `firestore:"createdAt"`
	UpdatedAt     time.Time            `firestore:"updatedAt"`
	ShippedAt     *time.Time           `firestore:"shippedAt,omitempty"`
	DeliveredAt   *time.Time           `firestore:"deliveredAt,omitempty"`
	CancelledAt   *time.Time           `firestore:"cancelledAt,omitempty"`
}

type bookSnapshotDocument struct {
	BookID     string `firestore:"bookId"`
	Title      string `firestore:"title"`
	Author     string `firestore:"author,omitempty"`
	UnitAmount int64  `firestore:"unitAmount"`
	Currency   string `firestore:"currency"`
	SellerID   string `firestore:"sellerId"`
}

type orderContactDocument struct {
	Name    string `firestore:"name"`
	Email   string `firestore:"email,omitempty"`
	Phone   string `firestore:"phone,omitempty"`
	Address string `firestore:"address,omitempty"`
	Note    string `firestore:"note,omitempty"`
}

type orderPaymentDoc struct {
	Provider      string    `firestore:"provider"`
	ProviderTxnID string    `firestore:"providerTxnId"`
	Amount        int64     `firestore:"amount"`
	Currency      string    `firestore:"currency"`
	PaidAt        time.Time `firestore:"paidAt"`
}

// OrderRepository implements repositories.OrderRepository on the orders collection.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
	}, nil
}

// Insert creates the order document. An existing ID yields a conflict error.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.base.Create(ctx, order.ID, encodeOrder(order))
}

// Update overwrites the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	return r.base.Set(ctx, order.ID, encodeOrder(order))
}

// FindByID loads one order, joining the transaction in ctx when present.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// List returns orders for one buyer, seller, or book ordered by creation time, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders.list: %w", err)
	}
	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = defaultOrderPageSize
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		switch {
		case filter.BuyerID != "":
			q = q.Where("buyerId", "==", filter.BuyerID)
		case filter.SellerID != "":
			q = q.Where("sellerId", "==", filter.SellerID)
		}
		if filter.BookID != "" {
			q = q.Where("book.bookId", "==", filter.BookID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, status := range filter.Status {
				statuses = append(statuses, string(status))
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if cursor.ID != "" {
			q = q.StartAfter(cursor.Time, cursor.ID)
		}
		return q.Limit(limit + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, min(len(docs), limit))}
	for i, doc := range docs {
		if i == limit {
			last := page.Items[len(page.Items)-1]
			page.NextPageToken = pagination.EncodeToken(pagination.Cursor{Time: last.CreatedAt, ID: last.ID})
			break
		}
		page.Items = append(page.Items, decodeOrder(doc.ID, doc.Data))
	}
	return page, nil
}

// DeleteByBook removes every order placed against the book and reports how many were deleted.
func (r *OrderRepository) DeleteByBook(ctx context.Context, bookID string) (int, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return 0, errors.New("order repository: book id is required")
	}
	return r.base.DeleteWhere(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("book.bookId", "==", bookID)
	}, 200)
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber: order.OrderNumber,
		Book: bookSnapshotDocument{
			BookID:     order.Book.BookID,
			Title:      order.Book.Title,
			Author:     order.Book.Author,
			UnitAmount: order.Book.UnitAmount,
			Currency:   order.Book.Currency,
			SellerID:   order.Book.SellerID,
		},
		BuyerID:  order.BuyerID,
		SellerID: order.Book.SellerID,
		Contact: orderContactDocument{
			Name:    order.Contact.Name,
			Email:   order.Contact.Email,
			Phone:   order.Contact.Phone,
			Address: order.Contact.Address,
			Note:    order.Contact.Note,
		},
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		CancelledBy:   order.CancelledBy,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
		ShippedAt:     order.ShippedAt,
		DeliveredAt:   order.DeliveredAt,
		CancelledAt:   order.CancelledAt,
	}
	if order.Payment != nil {
		doc.Payment = &orderPaymentDoc{
			Provider:      order.Payment.Provider,
			ProviderTxnID: order.Payment.ProviderTxnID,
			Amount:        order.Payment.Amount,
			Currency:      order.Payment.Currency,
			PaidAt:        order.Payment.PaidAt.UTC(),
		}
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		Book: domain.BookSnapshot{
			BookID:     doc.Book.BookID,
			Title:      doc.Book.Title,
			Author:     doc.Book.Author,
			UnitAmount: doc.Book.UnitAmount,
			Currency:   doc.Book.Currency,
			SellerID:   doc.Book.SellerID,
		},
		BuyerID: doc.BuyerID,
		Contact: domain.OrderContact{
			Name:    doc.Contact.Name,
			Email:   doc.Contact.Email,
			Phone:   doc.Contact.Phone,
			Address: doc.Contact.Address,
			Note:    doc.Contact.Note,
		},
		Status:        domain.OrderStatus(doc.Status),
		PaymentStatus: domain.PaymentStatus(doc.PaymentStatus),
		CancelledBy:   doc.CancelledBy,
		CreatedAt:     doc.CreatedAt.UTC(),
		UpdatedAt:     doc.UpdatedAt.UTC(),
		ShippedAt:     doc.ShippedAt,
		DeliveredAt:   doc.DeliveredAt,
		CancelledAt:   doc.CancelledAt,
	}
	if order.PaymentStatus == "" {
		order.PaymentStatus = domain.PaymentStatusUnpaid
	}
	if doc.Payment != nil {
		order.Payment = &domain.OrderPayment{
			Provider:      doc.Payment.Provider,
			ProviderTxnID: doc.Payment.ProviderTxnID,
			Amount:        doc.Payment.Amount,
			Currency:      doc.Payment.Currency,
			PaidAt:        doc.Payment.PaidAt.UTC(),
		}
	}
	return order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
