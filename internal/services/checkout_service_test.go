package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/bookporter/api/internal/domain"
	"github.com/bookporter/api/internal/payments"
)

func TestCheckoutService_CreateCheckoutSendsOrderSnapshot(t *testing.T) {
	h := newOrderHarness(t)
	book := h.book(t, "Go in Practice", "25.00")
	order := h.order(t, book.ID)
	expires := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	var captured payments.CheckoutSessionRequest
	gateway := &stubGateway{createFn: func(_ context.Context, _ string, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
		captured = req
		return payments.CheckoutSession{ID: "cs_1", Provider: "stripe", RedirectURL: "https://pay.test/cs_1", ExpiresAt: expires}, nil
	}}
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Orders:     h.registry.Orders(),
		Payments:   gateway,
		SuccessURL: "https://bookporter.test/orders/{ORDER_ID}?paid=1",
		CancelURL:  "https://bookporter.test/orders/{ORDER_ID}",
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}

	session, err := svc.CreateCheckout(context.Background(), CreateCheckoutCommand{OrderID: order.ID, Actor: buyerActor})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if session.RedirectURL != "https://pay.test/cs_1" || session.ExpiresAt == nil || !session.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected session %+v", session)
	}
	if captured.Amount != 2500 || captured.Currency != "USD" || captured.Description != "Go in Practice" {
		t.Fatalf("unexpected request %+v", captured)
	}
	if captured.OrderID != order.ID {
		t.Fatalf("expected order id %s, got %s", order.ID, captured.OrderID)
	}
	if captured.SuccessURL != "https://bookporter.test/orders/"+order.ID+"?paid=1" {
		t.Fatalf("unexpected success url %q", captured.SuccessURL)
	}
	if captured.IdempotencyKey != "checkout:"+order.ID {
		t.Fatalf("unexpected idempotency key %q", captured.IdempotencyKey)
	}
}

func TestCheckoutService_CreateCheckoutRejections(t *testing.T) {
	h := newOrderHarness(t)
	book := h.book(t, "Go in Practice", "25.00")
	gatewayErr := errors.New("dial tcp: timeout")
	gateway := &stubGateway{createFn: func(context.Context, string, payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
		return payments.CheckoutSession{}, gatewayErr
	}}
	svc, err := NewCheckoutService(CheckoutServiceDeps{Orders: h.registry.Orders(), Payments: gateway})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	ctx := context.Background()

	order := h.order(t, book.ID)
	if _, err := svc.CreateCheckout(ctx, CreateCheckoutCommand{OrderID: order.ID, Actor: buyerActor}); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable, got %v", err)
	}
	if _, err := svc.CreateCheckout(ctx, CreateCheckoutCommand{OrderID: order.ID, Actor: sellerActor}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected seller to be forbidden, got %v", err)
	}
	if _, err := svc.CreateCheckout(ctx, CreateCheckoutCommand{OrderID: "ord_missing", Actor: buyerActor}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	cancelled := h.forceStatus(t, h.order(t, book.ID), domain.OrderStatusCancelled)
	if _, err := svc.CreateCheckout(ctx, CreateCheckoutCommand{OrderID: cancelled.ID, Actor: buyerActor}); !errors.Is(err, ErrPaymentOnCancelledOrder) {
		t.Fatalf("expected payment on cancelled order, got %v", err)
	}

	paid := h.order(t, book.ID)
	if _, err := h.confirm(paid, "pi_paid"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := svc.CreateCheckout(ctx, CreateCheckoutCommand{OrderID: paid.ID, Actor: buyerActor}); !errors.Is(err, ErrOrderAlreadyPaid) {
		t.Fatalf("expected already paid, got %v", err)
	}
}
