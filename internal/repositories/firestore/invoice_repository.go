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

const invoicesCollection = "invoices"

type invoiceDocument struct {
	OrderID       string    `firestore:"orderId"`
	OrderNumber   string    `firestore:"orderNumber"`
	BuyerID       string    `firestore:"buyerId"`
	SellerID      string    `firestore:"sellerId"`
	BookID        string    `firestore:"bookId"`
	BookTitle     string    `firestore:"bookTitle"`
	Amount        int64     `firestore:"amount"`
	Currency      string    `firestore:"currency"`
	Provider      string    `firestore:"provider"`
	ProviderTxnID string    `firestore:"providerTxnId"`
	PaidAt        time.Time `firestore:"paidAt"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

// InvoiceRepository stores invoices keyed by the order-derived invoice ID. Create-only
// writes make a second invoice for the same order impossible.
type InvoiceRepository struct {
	base *pfirestore.BaseRepository[invoiceDocument]
}

// NewInvoiceRepository constructs a Firestore-backed invoice repository.
func NewInvoiceRepository(provider *pfirestore.Provider) (*InvoiceRepository, error) {
	if provider == nil {
		return nil, errors.New("invoice repository requires firestore provider")
	}
	return &InvoiceRepository{
		base: pfirestore.NewBaseRepository[invoiceDocument](provider, invoicesCollection, nil, nil),
	}, nil
}

func (r *InvoiceRepository) Insert(ctx context.Context, invoice domain.Invoice) error {
	return r.base.Create(ctx, invoice.ID, invoiceDocument{
		OrderID:       invoice.OrderID,
		OrderNumber:   invoice.OrderNumber,
		BuyerID:       invoice.BuyerID,
		SellerID:      invoice.SellerID,
		BookID:        invoice.BookID,
		BookTitle:     invoice.BookTitle,
		Amount:        invoice.Amount,
		Currency:      invoice.Currency,
		Provider:      invoice.Provider,
		ProviderTxnID: invoice.ProviderTxnID,
		PaidAt:        invoice.PaidAt.UTC(),
		CreatedAt:     invoice.CreatedAt.UTC(),
	})
}

func (r *InvoiceRepository) FindByID(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(invoiceID))
	if err != nil {
		return domain.Invoice{}, err
	}
	return decodeInvoice(doc.ID, doc.Data), nil
}

// FindByOrder is a point read on the derived ID so it can run inside a transaction.
func (r *InvoiceRepository) FindByOrder(ctx context.Context, orderID string) (domain.Invoice, error) {
	return r.FindByID(ctx, domain.InvoiceIDForOrder(strings.TrimSpace(orderID)))
}

// ListByBuyer returns a buyer's invoices, most recently paid first.
func (r *InvoiceRepository) ListByBuyer(ctx context.Context, filter repositories.InvoiceListFilter) (domain.CursorPage[domain.Invoice], error) {
	buyerID := strings.TrimSpace(filter.BuyerID)
	if buyerID == "" {
		return domain.CursorPage[domain.Invoice]{}, errors.New("invoice repository: buyer id is required")
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Invoice]{}, fmt.Errorf("invoices.list: %w", err)
	}
	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = defaultOrderPageSize
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("buyerId", "==", buyerID).
			OrderBy("paidAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if cursor.ID != "" {
			q = q.StartAfter(cursor.Time, cursor.ID)
		}
		return q.Limit(limit + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Invoice]{}, err
	}

	page := domain.CursorPage[domain.Invoice]{}
	for i, doc := range docs {
		if i == limit {
			last := page.Items[len(page.Items)-1]
			page.NextPageToken = pagination.EncodeToken(pagination.Cursor{Time: last.PaidAt, ID: last.ID})
			break
		}
		page.Items = append(page.Items, decodeInvoice(doc.ID, doc.Data))
	}
	return page, nil
}

func decodeInvoice(id string, doc invoiceDocument) domain.Invoice {
	return domain.Invoice{
		ID:            id,
		OrderID:       doc.OrderID,
		OrderNumber:   doc.OrderNumber,
		BuyerID:       doc.BuyerID,
		SellerID:      doc.SellerID,
		BookID:        doc.BookID,
		BookTitle:     doc.BookTitle,
		Amount:        doc.Amount,
		Currency:      doc.Currency,
		Provider:      doc.Provider,
		ProviderTxnID: doc.ProviderTxnID,
		PaidAt:        doc.PaidAt.UTC(),
		CreatedAt:     doc.CreatedAt.UTC(),
	}
}

var _ repositories.InvoiceRepository = (*InvoiceRepository)(nil)
