package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/bookporter/api/internal/domain"
	"github.com/bookporter/api/internal/payments"
)

type stubGateway struct {
	createFn func(context.Context, string, payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	lookupFn func(context.Context, string, payments.LookupRequest) (payments.PaymentDetails, error)
	verifyFn func(string, []byte, string) (payments.Event, error)
}

func (s *stubGateway) CreateCheckoutSession(ctx context.Context, provider string, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	if s.createFn != nil {
		return s.createFn(ctx, provider, req)
	}
	return payments.CheckoutSession{}, errors.New("not implemented")
}

func (s *stubGateway) LookupPayment(ctx context.Context, provider string, req payments.LookupRequest) (payments.PaymentDetails, error) {
	if s.lookupFn != nil {
		return s.lookupFn(ctx, provider, req)
	}
	return payments.PaymentDetails{}, errors.New("not implemented")
}

func (s *stubGateway) VerifyEvent(provider string, payload []byte, signature string) (payments.Event, error) {
	if s.verifyFn != nil {
		return s.verifyFn(provider, payload, signature)
	}
	return payments.Event{}, errors.New("not implemented")
}

// confirmOnlyOrders panics on anything but ConfirmPayment through the nil embedded interface.
type confirmOnlyOrders struct {
	OrderService
	confirmFn func(context.Context, ConfirmPaymentCommand) (ConfirmPaymentResult, error)
}

func (s *confirmOnlyOrders) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (ConfirmPaymentResult, error) {
	return s.confirmFn(ctx, cmd)
}

func completedEvent(orderID, txnID string, amount int64) payments.Event {
	return payments.Event{
		ID:           "evt_" + txnID,
		Type:         payments.EventCheckoutCompleted,
		ProviderType: "checkout.session.completed",
		Payment: payments.PaymentDetails{
			Provider:      "stripe",
			ProviderTxnID: txnID,
			OrderID:       orderID,
			Status:        payments.StatusSucceeded,
			Amount:        amount,
			Currency:      "USD",
			PaidAt:        time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		},
	}
}

func newPaymentService(t *testing.T, h *orderHarness, gateway *stubGateway) PaymentService {
	t.Helper()
	svc, err := NewPaymentService(PaymentServiceDeps{Orders: h.orders, Payments: gateway})
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	return svc
}

func TestPaymentService_WebhookConfirmsCompletedCheckout(t *testing.T) {
	h := newOrderHarness(t)
	book := h.book(t, "Go in Practice", "25.00")
	order := h.order(t, book.ID)

	gateway := &stubGateway{verifyFn: func(provider string, payload []byte, signature string) (payments.Event, error) {
		if provider != "stripe" || string(payload) != `{"raw":true}` || signature != "sig" {
			t.Fatalf("unexpected verify call %s %s %s", provider, payload, signature)
		}
		return completedEvent(order.ID, "pi_1", 2500), nil
	}}
	svc := newPaymentService(t, h, gateway)

	result, err := svc.HandleWebhook(context.Background(), []byte(`{"raw":true}`), "sig")
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if !result.Handled || result.Duplicate || result.OrderID != order.ID {
		t.Fatalf("unexpected result %+v", result)
	}

	stored, err := h.registry.Orders().FindByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if !stored.Paid() || !stored.Payment.PaidAt.Equal(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected paid order with provider timestamp, got %+v", stored.Payment)
	}

	again, err := svc.HandleWebhook(context.Background(), []byte(`{"raw":true}`), "sig")
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !again.Duplicate {
		t.Fatalf("expected redelivery to be reported as duplicate")
	}
	if got := h.invoiceCount(t); got != 1 {
		t.Fatalf("expected one invoice, got %d", got)
	}
}

func TestPaymentService_WebhookRejectsInvalidSignature(t *testing.T) {
	h := newOrderHarness(t)
	called := false
	gateway := &stubGateway{verifyFn: func(string, []byte, string) (payments.Event, error) {
		called = true
		return payments.Event{}, payments.ErrInvalidSignature
	}}
	svc := newPaymentService(t, h, gateway)

	if _, err := svc.HandleWebhook(context.Background(), []byte("{}"), "bad"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if !called {
		t.Fatalf("expected gateway verification")
	}
	if _, err := svc.HandleWebhook(context.Background(), []byte("{}"), ""); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature without header, got %v", err)
	}
}

func TestPaymentService_WebhookIgnoresOtherEvents(t *testing.T) {
	h := newOrderHarness(t)
	book := h.book(t, "Go in Practice", "25.00")
	order := h.order(t, book.ID)

	events := []payments.Event{
		{ID: "evt_other", Type: payments.EventOther, ProviderType: "payment_intent.created"},
		func() payments.Event {
			e := completedEvent(order.ID, "pi_unpaid", 2500)
			e.Payment.Status = payments.StatusPending
			return e
		}(),
		completedEvent("", "pi_orphan", 2500),
	}
	for _, event := range events {
		gateway := &stubGateway{verifyFn: func(string, []byte, string) (payments.Event, error) { return event, nil }}
		svc := newPaymentService(t, h, gateway)
		result, err := svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
		if err != nil {
			t.Fatalf("event %s: unexpected error %v", event.ID, err)
		}
		if result.Handled {
			t.Fatalf("event %s should not be handled", event.ID)
		}
	}

	stored, err := h.registry.Orders().FindByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if stored.Paid() {
		t.Fatalf("ignored events must not change payment status")
	}
}

func TestPaymentService_SellerCancelThenPayment(t *testing.T) {
	h := newOrderHarness(t)
	book := h.book(t, "Go in Practice", "25.00")
	order := h.order(t, book.ID)
	if _, err := h.transition(order, domain.OrderStatusCancelled, sellerActor); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	gateway := &stubGateway{verifyFn: func(string, []byte, string) (payments.Event, error) {
		return completedEvent(order.ID, "pi_late", 2500), nil
	}}
	var logged []string
	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:   h.orders,
		Payments: gateway,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		result, err := svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
		if err != nil {
			t.Fatalf("attempt %d: expected acknowledgement, got %v", attempt, err)
		}
		if result.Handled || result.OrderID != order.ID {
			t.Fatalf("attempt %d: unexpected result %+v", attempt, result)
		}
	}
	if len(logged) != 2 || logged[0] != "payments.webhook.rejected_payment" {
		t.Fatalf("expected rejections to be logged, got %v", logged)
	}
	if got := h.invoiceCount(t); got != 0 {
		t.Fatalf("expected no invoice, got %d", got)
	}
	stored, err := h.registry.Orders().FindByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if stored.Status != domain.OrderStatusCancelled || stored.Paid() {
		t.Fatalf("expected cancelled unpaid order, got %s/%s", stored.Status, stored.PaymentStatus)
	}
}

func TestPaymentService_WebhookAcknowledgesRejectedPayments(t *testing.T) {
	h := newOrderHarness(t)
	book := h.book(t, "Go in Practice", "25.00")
	order := h.order(t, book.ID)

	events := []payments.Event{
		completedEvent(order.ID, "pi_short", 100),
		completedEvent("ord_deleted", "pi_gone", 2500),
	}
	for _, event := range events {
		gateway := &stubGateway{verifyFn: func(string, []byte, string) (payments.Event, error) { return event, nil }}
		svc := newPaymentService(t, h, gateway)
		result, err := svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
		if err != nil {
			t.Fatalf("event %s: expected acknowledgement, got %v", event.ID, err)
		}
		if result.Handled {
			t.Fatalf("event %s should not be handled", event.ID)
		}
	}
	if got := h.invoiceCount(t); got != 0 {
		t.Fatalf("expected no invoice, got %d", got)
	}
}

func TestPaymentService_WebhookSurfacesStorageFailures(t *testing.T) {
	orders := &confirmOnlyOrders{
		confirmFn: func(context.Context, ConfirmPaymentCommand) (ConfirmPaymentResult, error) {
			return ConfirmPaymentResult{}, ErrRepositoryUnavailable
		},
	}
	gateway := &stubGateway{verifyFn: func(string, []byte, string) (payments.Event, error) {
		return completedEvent("ord_1", "pi_1", 2500), nil
	}}
	svc, err := NewPaymentService(PaymentServiceDeps{Orders: orders, Payments: gateway})
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	if _, err := svc.HandleWebhook(context.Background(), []byte("{}"), "sig"); !errors.Is(err, ErrRepositoryUnavailable) {
		t.Fatalf("expected storage failure to surface, got %v", err)
	}
}

func TestPaymentService_ConfirmCheckout(t *testing.T) {
	h := newOrderHarness(t)
	book := h.book(t, "Go in Practice", "25.00")
	order := h.order(t, book.ID)

	details := payments.PaymentDetails{
		Provider:      "stripe",
		SessionID:     "cs_1",
		ProviderTxnID: "pi_1",
		OrderID:       order.ID,
		Status:        payments.StatusSucceeded,
		Amount:        2500,
		Currency:      "USD",
	}
	gateway := &stubGateway{lookupFn: func(_ context.Context, _ string, req payments.LookupRequest) (payments.PaymentDetails, error) {
		if req.SessionID != "cs_1" {
			t.Fatalf("unexpected session %q", req.SessionID)
		}
		return details, nil
	}}
	svc := newPaymentService(t, h, gateway)

	wrongAmount := int64(100)
	_, err := svc.ConfirmCheckout(context.Background(), ConfirmCheckoutCommand{OrderID: order.ID, SessionID: "cs_1", Amount: &wrongAmount, Actor: buyerActor})
	if !errors.Is(err, ErrPaymentAmountMismatch) {
		t.Fatalf("expected amount mismatch, got %v", err)
	}

	_, err = svc.ConfirmCheckout(context.Background(), ConfirmCheckoutCommand{OrderID: order.ID, SessionID: "cs_1", Actor: Actor{ID: "user_other", Kind: ActorUser}})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden for stranger, got %v", err)
	}

	result, err := svc.ConfirmCheckout(context.Background(), ConfirmCheckoutCommand{OrderID: order.ID, SessionID: "cs_1", Actor: buyerActor})
	if err != nil {
		t.Fatalf("confirm checkout: %v", err)
	}
	if result.Invoice.ProviderTxnID != "pi_1" {
		t.Fatalf("unexpected invoice %+v", result.Invoice)
	}

	// The webhook for the same checkout arriving afterwards is a no-op.
	gateway.verifyFn = func(string, []byte, string) (payments.Event, error) {
		return completedEvent(order.ID, "pi_1", 2500), nil
	}
	hook, err := svc.HandleWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("webhook after sync confirm: %v", err)
	}
	if !hook.Duplicate {
		t.Fatalf("expected duplicate after synchronous confirmation")
	}
}

func TestPaymentService_ConfirmCheckoutFailures(t *testing.T) {
	h := newOrderHarness(t)
	book := h.book(t, "Go in Practice", "25.00")
	order := h.order(t, book.ID)

	gateway := &stubGateway{lookupFn: func(context.Context, string, payments.LookupRequest) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{}, payments.ErrGatewayUnavailable
	}}
	svc := newPaymentService(t, h, gateway)
	_, err := svc.ConfirmCheckout(context.Background(), ConfirmCheckoutCommand{OrderID: order.ID, SessionID: "cs_1", Actor: buyerActor})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable, got %v", err)
	}

	gateway.lookupFn = func(context.Context, string, payments.LookupRequest) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{OrderID: order.ID, Status: payments.StatusPending}, nil
	}
	_, err = svc.ConfirmCheckout(context.Background(), ConfirmCheckoutCommand{OrderID: order.ID, SessionID: "cs_1", Actor: buyerActor})
	if !errors.Is(err, ErrPaymentNotCompleted) {
		t.Fatalf("expected payment not completed, got %v", err)
	}

	gateway.lookupFn = func(context.Context, string, payments.LookupRequest) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{OrderID: "ord_other", Status: payments.StatusSucceeded}, nil
	}
	_, err = svc.ConfirmCheckout(context.Background(), ConfirmCheckoutCommand{OrderID: order.ID, SessionID: "cs_1", Actor: buyerActor})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for foreign session, got %v", err)
	}

	gateway.lookupFn = func(context.Context, string, payments.LookupRequest) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{ProviderTxnID: "pi_foreign", Status: payments.StatusSucceeded, Amount: 2500, Currency: "USD"}, nil
	}
	_, err = svc.ConfirmCheckout(context.Background(), ConfirmCheckoutCommand{OrderID: order.ID, SessionID: "cs_2", Actor: buyerActor})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for session without order id, got %v", err)
	}
	stored, err := h.registry.Orders().FindByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if stored.Paid() || h.invoiceCount(t) != 0 {
		t.Fatalf("unmatched session must not settle the order")
	}
}
