package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/bookporter/api/internal/domain"
	"github.com/bookporter/api/internal/repositories"
)

var (
	// ErrInvoiceNotFound indicates the invoice does not exist or is not visible to the caller.
	ErrInvoiceNotFound = errors.New("invoice: not found")
	// ErrInvoiceInvalidInput signals malformed invoice queries.
	ErrInvoiceInvalidInput = errors.New("invoice: invalid input")
	// ErrInvoiceReceiptUnavailable is returned when no receipt store is configured.
	ErrInvoiceReceiptUnavailable = errors.New("invoice: receipt unavailable")
)

// ReceiptStore archives invoice receipts and issues download links for them.
type ReceiptStore interface {
	Archive(ctx context.Context, invoice Invoice) error
	SignedURL(ctx context.Context, invoice Invoice) (domain.SignedURL, error)
}

// InvoiceProjector derives the invoice for a paid order. Project is idempotent: the invoice
// ID is derived from the order ID and inserted with a create-only write, so at most one
// invoice exists per order no matter how often or how concurrently it runs.
type InvoiceProjector struct {
	invoices repositories.InvoiceRepository
	clock    func() time.Time
}

// NewInvoiceProjector constructs a projector over the invoice repository.
func NewInvoiceProjector(invoices repositories.InvoiceRepository, clock func() time.Time) (*InvoiceProjector, error) {
	if invoices == nil {
		return nil, errors.New("invoice projector: invoice repository is required")
	}
	return &InvoiceProjector{invoices: invoices, clock: utcClock(clock)}, nil
}

// Project returns the order's invoice, creating it when absent. created reports whether this
// call inserted it. It joins the unit of work carried by ctx, if any.
func (p *InvoiceProjector) Project(ctx context.Context, order Order) (Invoice, bool, error) {
	if !order.Paid() || order.Payment == nil {
		return Invoice{}, false, fmt.Errorf("%w: order %s is not paid", ErrInvoiceInvalidInput, order.ID)
	}

	existing, err := p.invoices.FindByOrder(ctx, order.ID)
	switch {
	case err == nil:
		return existing, false, nil
	case !isRepositoryNotFound(err):
		return Invoice{}, false, classifyRepositoryError(err, ErrInvoiceNotFound, nil)
	}

	invoice := Invoice{
		ID:            domain.InvoiceIDForOrder(order.ID),
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		BuyerID:       order.BuyerID,
		SellerID:      order.SellerID(),
		BookID:        order.Book.BookID,
		BookTitle:     order.Book.Title,
		Amount:        order.Payment.Amount,
		Currency:      order.Payment.Currency,
		Provider:      order.Payment.Provider,
		ProviderTxnID: order.Payment.ProviderTxnID,
		PaidAt:        order.Payment.PaidAt,
		CreatedAt:     p.clock(),
	}
	if err := p.invoices.Insert(ctx, invoice); err != nil {
		if isRepositoryConflict(err) {
			existing, findErr := p.invoices.FindByOrder(ctx, order.ID)
			if findErr == nil {
				return existing, false, nil
			}
		}
		return Invoice{}, false, classifyRepositoryError(err, nil, nil)
	}
	return invoice, true, nil
}

// InvoiceServiceDeps bundles collaborators required to construct the invoice service.
type InvoiceServiceDeps struct {
	Invoices repositories.InvoiceRepository
	Receipts ReceiptStore
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type invoiceService struct {
	invoices repositories.InvoiceRepository
	receipts ReceiptStore
	logger   logFunc
}

// NewInvoiceService constructs the read side for invoices.
func NewInvoiceService(deps InvoiceServiceDeps) (InvoiceService, error) {
	if deps.Invoices == nil {
		return nil, errors.New("invoice service: invoice repository is required")
	}
	return &invoiceService{
		invoices: deps.Invoices,
		receipts: deps.Receipts,
		logger:   loggerOrNoop(deps.Logger),
	}, nil
}

func (s *invoiceService) ListInvoices(ctx context.Context, filter InvoiceListFilter) (domain.CursorPage[Invoice], error) {
	filter.BuyerID = strings.TrimSpace(filter.BuyerID)
	if filter.BuyerID == "" {
		return domain.CursorPage[Invoice]{}, fmt.Errorf("%w: buyer id is required", ErrInvoiceInvalidInput)
	}
	page, err := s.invoices.ListByBuyer(ctx, filter)
	if err != nil {
		return domain.CursorPage[Invoice]{}, classifyRepositoryError(err, ErrInvoiceNotFound, nil)
	}
	return page, nil
}

func (s *invoiceService) GetInvoice(ctx context.Context, cmd GetInvoiceCommand) (Invoice, error) {
	invoiceID := strings.TrimSpace(cmd.InvoiceID)
	if invoiceID == "" {
		return Invoice{}, fmt.Errorf("%w: invoice id is required", ErrInvoiceInvalidInput)
	}
	invoice, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		return Invoice{}, classifyRepositoryError(err, ErrInvoiceNotFound, nil)
	}
	if invoice.BuyerID != strings.TrimSpace(cmd.BuyerID) {
		return Invoice{}, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID)
	}
	return invoice, nil
}

func (s *invoiceService) ReceiptURL(ctx context.Context, cmd GetInvoiceCommand) (domain.SignedURL, error) {
	if s.receipts == nil {
		return domain.SignedURL{}, ErrInvoiceReceiptUnavailable
	}
	invoice, err := s.GetInvoice(ctx, cmd)
	if err != nil {
		return domain.SignedURL{}, err
	}
	signed, err := s.receipts.SignedURL(ctx, invoice)
	if err != nil {
		s.logger(ctx, "invoice.receipt.sign_failed", map[string]any{"invoiceId": invoice.ID, "error": err.Error()})
		return domain.SignedURL{}, fmt.Errorf("%w: %v", ErrInvoiceReceiptUnavailable, err)
	}
	return signed, nil
}
