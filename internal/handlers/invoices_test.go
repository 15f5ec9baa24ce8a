package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bookporter/api/internal/domain"
	"github.com/bookporter/api/internal/services"
)

type stubInvoiceService struct {
	listFn    func(context.Context, services.InvoiceListFilter) (domain.CursorPage[services.Invoice], error)
	getFn     func(context.Context, services.GetInvoiceCommand) (services.Invoice, error)
	receiptFn func(context.Context, services.GetInvoiceCommand) (domain.SignedURL, error)
}

func (s *stubInvoiceService) ListInvoices(ctx context.Context, filter services.InvoiceListFilter) (domain.CursorPage[services.Invoice], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Invoice]{}, nil
}

func (s *stubInvoiceService) GetInvoice(ctx context.Context, cmd services.GetInvoiceCommand) (services.Invoice, error) {
	if s.getFn != nil {
		return s.getFn(ctx, cmd)
	}
	return services.Invoice{}, errors.New("not implemented")
}

func (s *stubInvoiceService) ReceiptURL(ctx context.Context, cmd services.GetInvoiceCommand) (domain.SignedURL, error) {
	if s.receiptFn != nil {
		return s.receiptFn(ctx, cmd)
	}
	return domain.SignedURL{}, errors.New("not implemented")
}

func invoiceRouter(h *InvoiceHandlers) chi.Router {
	r := chi.NewRouter()
	r.Route("/me", h.MeRoutes)
	return r
}

func TestInvoiceHandlersListInvoices(t *testing.T) {
	paidNew := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	paidOld := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var captured services.InvoiceListFilter
	svc := &stubInvoiceService{
		listFn: func(_ context.Context, filter services.InvoiceListFilter) (domain.CursorPage[services.Invoice], error) {
			captured = filter
			return domain.CursorPage[services.Invoice]{Items: []services.Invoice{
				{ID: "inv_ord_2", OrderID: "ord_2", BuyerID: "buyer-1", Amount: 2599, Currency: "USD", PaidAt: paidNew},
				{ID: "inv_ord_1", OrderID: "ord_1", BuyerID: "buyer-1", Amount: 1000, Currency: "JPY", PaidAt: paidOld},
			}}, nil
		},
	}
	router := invoiceRouter(NewInvoiceHandlers(svc))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/me/invoices?page_size=2", nil), "buyer-1"))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "buyer-1", captured.BuyerID)
	assert.Equal(t, 2, captured.Pagination.PageSize)

	body := decodeBody(t, rr)
	items, ok := body["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, "inv_ord_2", first["id"])
	assert.Equal(t, "2026-03-02T09:00:00Z", first["paid_at"])
	assert.EqualValues(t, 2599, first["amount"])
}

func TestInvoiceHandlersRejectsInvalidPageSize(t *testing.T) {
	router := invoiceRouter(NewInvoiceHandlers(&stubInvoiceService{}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/me/invoices?page_size=-1", nil), "buyer-1"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInvoiceHandlersGetInvoiceNotFound(t *testing.T) {
	svc := &stubInvoiceService{
		getFn: func(_ context.Context, cmd services.GetInvoiceCommand) (services.Invoice, error) {
			assert.Equal(t, "buyer-2", cmd.BuyerID)
			return services.Invoice{}, services.ErrInvoiceNotFound
		},
	}
	router := invoiceRouter(NewInvoiceHandlers(svc))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/me/invoices/inv_ord_1", nil), "buyer-2"))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "invoice_not_found", decodeBody(t, rr)["error"])
}

func TestInvoiceHandlersReceipt(t *testing.T) {
	expires := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	svc := &stubInvoiceService{
		receiptFn: func(_ context.Context, cmd services.GetInvoiceCommand) (domain.SignedURL, error) {
			if cmd.InvoiceID != "inv_ord_1" {
				return domain.SignedURL{}, services.ErrInvoiceNotFound
			}
			return domain.SignedURL{URL: "https://storage.googleapis.com/receipts/inv_ord_1.txt?sig", Method: http.MethodGet, ExpiresAt: expires}, nil
		},
	}
	router := invoiceRouter(NewInvoiceHandlers(svc))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/me/invoices/inv_ord_1/receipt", nil), "buyer-1"))
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "GET", body["method"])
	assert.Equal(t, "2026-03-02T09:15:00Z", body["expires_at"])

	svc.receiptFn = func(context.Context, services.GetInvoiceCommand) (domain.SignedURL, error) {
		return domain.SignedURL{}, services.ErrInvoiceReceiptUnavailable
	}
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/me/invoices/inv_ord_1/receipt", nil), "buyer-1"))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "5", rr.Header().Get("Retry-After"))
}

func TestInvoiceHandlersRequireIdentity(t *testing.T) {
	router := invoiceRouter(NewInvoiceHandlers(&stubInvoiceService{}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/me/invoices", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
