package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/bookporter/api/internal/domain"
	"github.com/bookporter/api/internal/platform/httpx"
	"github.com/bookporter/api/internal/platform/pagination"
	"github.com/bookporter/api/internal/services"
)

// InvoiceHandlers exposes the caller's invoices, newest payment first.
type InvoiceHandlers struct {
	invoices services.InvoiceService
}

func NewInvoiceHandlers(invoices services.InvoiceService) *InvoiceHandlers {
	return &InvoiceHandlers{invoices: invoices}
}

// MeRoutes registers /me/invoices.
func (h *InvoiceHandlers) MeRoutes(r chi.Router) {
	r.Get("/invoices", h.listInvoices)
	r.Get("/invoices/{invoiceID}", h.getInvoice)
	r.Get("/invoices/{invoiceID}/receipt", h.receipt)
}

func (h *InvoiceHandlers) listInvoices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	params, err := pagination.Parse(r.URL.Query(), pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	page, err := h.invoices.ListInvoices(ctx, services.InvoiceListFilter{
		BuyerID:    identity.UID,
		Pagination: services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]invoiceResponse, 0, len(page.Items))
	for _, inv := range page.Items {
		items = append(items, invoicePayload(inv))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items":           items,
		"next_page_token": page.NextPageToken,
	})
}

func (h *InvoiceHandlers) getInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	inv, err := h.invoices.GetInvoice(ctx, services.GetInvoiceCommand{InvoiceID: chi.URLParam(r, "invoiceID"), BuyerID: identity.UID})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, invoicePayload(inv))
}

func (h *InvoiceHandlers) receipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	signed, err := h.invoices.ReceiptURL(ctx, services.GetInvoiceCommand{InvoiceID: chi.URLParam(r, "invoiceID"), BuyerID: identity.UID})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"url":        signed.URL,
		"method":     signed.Method,
		"expires_at": formatTime(signed.ExpiresAt),
	})
}

type invoiceResponse struct {
	ID            string `json:"id"`
	OrderID       string `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	BookID        string `json:"book_id"`
	BookTitle     string `json:"book_title"`
	SellerID      string `json:"seller_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	AmountDisplay string `json:"amount_display,omitempty"`
	Provider      string `json:"provider"`
	ProviderTxnID string `json:"provider_txn_id"`
	PaidAt        string `json:"paid_at"`
	CreatedAt     string `json:"created_at"`
}

func invoicePayload(inv services.Invoice) invoiceResponse {
	display, _ := domain.FormatMinorUnits(inv.Amount, inv.Currency)
	return invoiceResponse{
		ID:            inv.ID,
		OrderID:       inv.OrderID,
		OrderNumber:   inv.OrderNumber,
		BookID:        inv.BookID,
		BookTitle:     inv.BookTitle,
		SellerID:      inv.SellerID,
		Amount:        inv.Amount,
		Currency:      inv.Currency,
		AmountDisplay: display,
		Provider:      inv.Provider,
		ProviderTxnID: inv.ProviderTxnID,
		PaidAt:        formatTime(inv.PaidAt),
		CreatedAt:     formatTime(inv.CreatedAt),
	}
}
