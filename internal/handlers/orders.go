package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/bookporter/api/internal/domain"
	"github.com/bookporter/api/internal/platform/auth"
	"github.com/bookporter/api/internal/platform/httpx"
	"github.com/bookporter/api/internal/platform/pagination"
	"github.com/bookporter/api/internal/services"
)

const maxOrderBodySize = 8 << 10

// OrderHandlers serves the order lifecycle: placement, reads, status changes, checkout and
// synchronous payment confirmation.
type OrderHandlers struct {
	orders      services.OrderService
	payments    services.PaymentService
	checkout    services.CheckoutService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithIdempotency guards order placement with the given middleware.
func WithIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) { h.idempotency = mw }
}

func NewOrderHandlers(orders services.OrderService, payments services.PaymentService, checkout services.CheckoutService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{orders: orders, payments: payments, checkout: checkout}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers /orders. The caller mounts it behind Firebase authentication.
func (h *OrderHandlers) Routes(r chi.Router) {
	create := http.Handler(http.HandlerFunc(h.createOrder))
	if h.idempotency != nil {
		create = h.idempotency(create)
	}
	r.Method(http.MethodPost, "/", create)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:transition", h.transitionOrder)
	r.Post("/{orderID}/payments:confirm", h.confirmPayment)
	r.Post("/{orderID}/checkout", h.createCheckout)
}

// MeRoutes registers the caller's own order list under /me.
func (h *OrderHandlers) MeRoutes(r chi.Router) {
	r.Get("/orders", h.listMyOrders)
}

// AdminRoutes registers the seller order queue under /admin.
func (h *OrderHandlers) AdminRoutes(r chi.Router) {
	r.Get("/orders", h.listSellerOrders)
}

type orderContactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Note    string `json:"note"`
}

type createOrderRequest struct {
	BookID  string              `json:"book_id"`
	Contact orderContactRequest `json:"contact"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.orders == nil {
		writeUnavailable(ctx, w, "order service")
		return
	}
	var req createOrderRequest
	if err := httpx.DecodeJSON(w, r, &req, maxOrderBodySize); err != nil {
		httpx.WriteError(ctx, w, *err)
		return
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		BuyerID: identity.UID,
		BookID:  req.BookID,
		Contact: services.OrderContact{
			Name:    req.Contact.Name,
			Email:   firstNonEmpty(req.Contact.Email, identity.Email),
			Phone:   req.Contact.Phone,
			Address: req.Contact.Address,
			Note:    req.Contact.Note,
		},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, orderPayload(order))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Actor:   actorFor(identity),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderPayload(order))
}

type transitionOrderRequest struct {
	Status         string `json:"status"`
	ExpectedStatus string `json:"expected_status"`
	Reason         string `json:"reason"`
}

func (h *OrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req transitionOrderRequest
	if err := httpx.DecodeJSON(w, r, &req, maxOrderBodySize); err != nil {
		httpx.WriteError(ctx, w, *err)
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.TransitionOrderCommand{
		OrderID:        chi.URLParam(r, "orderID"),
		TargetStatus:   domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		ExpectedStatus: domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.ExpectedStatus))),
		Actor:          actorFor(identity),
		Reason:         req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderPayload(order))
}

type confirmPaymentRequest struct {
	SessionID string `json:"session_id"`
	Amount    *int64 `json:"amount,omitempty"`
}

func (h *OrderHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.payments == nil {
		writeUnavailable(ctx, w, "payment service")
		return
	}
	var req confirmPaymentRequest
	if err := httpx.DecodeJSON(w, r, &req, maxOrderBodySize); err != nil {
		httpx.WriteError(ctx, w, *err)
		return
	}

	result, err := h.payments.ConfirmCheckout(ctx, services.ConfirmCheckoutCommand{
		OrderID:   chi.URLParam(r, "orderID"),
		SessionID: req.SessionID,
		Amount:    req.Amount,
		Actor:     actorFor(identity),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"order":     orderPayload(result.Order),
		"invoice":   invoicePayload(result.Invoice),
		"duplicate": result.Duplicate,
	})
}

func (h *OrderHandlers) createCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.checkout == nil {
		writeUnavailable(ctx, w, "checkout")
		return
	}
	session, err := h.checkout.CreateCheckout(ctx, services.CreateCheckoutCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Actor:   actorFor(identity),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"session_id":   session.SessionID,
		"provider":     session.Provider,
		"redirect_url": session.RedirectURL,
		"expires_at":   formatTimePtr(session.ExpiresAt),
	})
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	filter, err := orderListFilter(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.BuyerID = identity.UID
	h.writeOrderPage(w, r, filter)
}

// listSellerOrders shows a seller the orders for their own books. Admins may name any
// seller with seller_id, or omit it to see every order.
func (h *OrderHandlers) listSellerOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	filter, err := orderListFilter(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	requested := strings.TrimSpace(r.URL.Query().Get("seller_id"))
	switch {
	case identity.HasRole(auth.RoleAdmin):
		filter.SellerID = requested
	case identity.HasRole(auth.RoleSeller):
		if requested != "" && requested != identity.UID {
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "sellers may only list their own orders", http.StatusForbidden))
			return
		}
		filter.SellerID = identity.UID
	default:
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "seller or admin role required", http.StatusForbidden))
		return
	}
	filter.BookID = strings.TrimSpace(r.URL.Query().Get("book_id"))
	h.writeOrderPage(w, r, filter)
}

func (h *OrderHandlers) writeOrderPage(w http.ResponseWriter, r *http.Request, filter services.OrderListFilter) {
	ctx := r.Context()
	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]orderResponse, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, orderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items":           items,
		"next_page_token": page.NextPageToken,
	})
}

func orderListFilter(r *http.Request) (services.OrderListFilter, error) {
	query := r.URL.Query()
	params, err := pagination.Parse(query, pagination.Options{})
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return services.OrderListFilter{}, errors.New("page_token is invalid")
		}
		return services.OrderListFilter{}, err
	}
	var statuses []domain.OrderStatus
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
				statuses = append(statuses, domain.OrderStatus(part))
			}
		}
	}
	return services.OrderListFilter{
		Status:     statuses,
		Pagination: services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	}, nil
}

type orderBookResponse struct {
	BookID        string `json:"book_id"`
	Title         string `json:"title"`
	Author        string `json:"author,omitempty"`
	SellerID      string `json:"seller_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	AmountDisplay string `json:"amount_display,omitempty"`
}

type orderPaymentResponse struct {
	Provider      string `json:"provider"`
	ProviderTxnID string `json:"provider_txn_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	PaidAt        string `json:"paid_at"`
}

type orderResponse struct {
	ID            string                `json:"id"`
	OrderNumber   string                `json:"order_number"`
	Status        string                `json:"status"`
	PaymentStatus string                `json:"payment_status"`
	BuyerID       string                `json:"buyer_id"`
	Book          orderBookResponse     `json:"book"`
	Contact       orderContactRequest   `json:"contact"`
	Payment       *orderPaymentResponse `json:"payment,omitempty"`
	CancelledBy   string                `json:"cancelled_by,omitempty"`
	CreatedAt     string                `json:"created_at"`
	UpdatedAt     string                `json:"updated_at"`
	ShippedAt     string                `json:"shipped_at,omitempty"`
	DeliveredAt   string                `json:"delivered_at,omitempty"`
	CancelledAt   string                `json:"cancelled_at,omitempty"`
}

func orderPayload(order services.Order) orderResponse {
	display, _ := domain.FormatMinorUnits(order.Book.UnitAmount, order.Book.Currency)
	resp := orderResponse{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		BuyerID:       order.BuyerID,
		Book: orderBookResponse{
			BookID:        order.Book.BookID,
			Title:         order.Book.Title,
			Author:        order.Book.Author,
			SellerID:      order.Book.SellerID,
			Amount:        order.Book.UnitAmount,
			Currency:      order.Book.Currency,
			AmountDisplay: display,
		},
		Contact: orderContactRequest{
			Name:    order.Contact.Name,
			Email:   order.Contact.Email,
			Phone:   order.Contact.Phone,
			Address: order.Contact.Address,
			Note:    order.Contact.Note,
		},
		CancelledBy: order.CancelledBy,
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
		ShippedAt:   formatTimePtr(order.ShippedAt),
		DeliveredAt: formatTimePtr(order.DeliveredAt),
		CancelledAt: formatTimePtr(order.CancelledAt),
	}
	if p := order.Payment; p != nil {
		resp.Payment = &orderPaymentResponse{
			Provider:      p.Provider,
			ProviderTxnID: p.ProviderTxnID,
			Amount:        p.Amount,
			Currency:      p.Currency,
			PaidAt:        formatTime(p.PaidAt),
		}
	}
	return resp
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
