package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/bookporter/api/internal/domain"
	"github.com/bookporter/api/internal/payments"
	"github.com/bookporter/api/internal/repositories"
)

var (
	// ErrGatewayUnavailable indicates the payment provider call failed. Callers may retry.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrInvalidSignature indicates a webhook could not be authenticated.
	ErrInvalidSignature = errors.New("payments: invalid signature")
	// ErrPaymentNotCompleted indicates the provider has not captured the checkout yet.
	ErrPaymentNotCompleted = errors.New("payments: payment not completed")
)

// paymentGateway abstracts payments.Manager for easier testing.
type paymentGateway interface {
	CreateCheckoutSession(ctx context.Context, provider string, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	LookupPayment(ctx context.Context, provider string, req payments.LookupRequest) (payments.PaymentDetails, error)
	VerifyEvent(provider string, payload []byte, signature string) (payments.Event, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders     repositories.OrderRepository
	Payments   paymentGateway
	SuccessURL string
	CancelURL  string
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders     repositories.OrderRepository
	payments   paymentGateway
	successURL string
	cancelURL  string
	clock      func() time.Time
	logger     logFunc
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}
	return &checkoutService{
		orders:     deps.Orders,
		payments:   deps.Payments,
		successURL: strings.TrimSpace(deps.SuccessURL),
		cancelURL:  strings.TrimSpace(deps.CancelURL),
		clock:      utcClock(deps.Clock),
		logger:     loggerOrNoop(deps.Logger),
	}, nil
}

func (s *checkoutService) CreateCheckout(ctx context.Context, cmd CreateCheckoutCommand) (CheckoutSession, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return CheckoutSession{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return CheckoutSession{}, classifyRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	switch capacityFor(order, cmd.Actor) {
	case capacityBuyer, capacityAdmin:
	default:
		return CheckoutSession{}, fmt.Errorf("%w: only the buyer may pay for order %s", ErrOrderForbidden, orderID)
	}
	switch {
	case order.Status == domain.OrderStatusCancelled:
		return CheckoutSession{}, fmt.Errorf("%w: %s", ErrPaymentOnCancelledOrder, orderID)
	case order.Paid():
		return CheckoutSession{}, fmt.Errorf("%w: %s", ErrOrderAlreadyPaid, orderID)
	}

	session, err := s.payments.CreateCheckoutSession(ctx, "", payments.CheckoutSessionRequest{
		OrderID:        order.ID,
		Amount:         order.Book.UnitAmount,
		Currency:       order.Book.Currency,
		Description:    order.Book.Title,
		CustomerEmail:  order.Contact.Email,
		SuccessURL:     checkoutURL(s.successURL, order.ID),
		CancelURL:      checkoutURL(s.cancelURL, order.ID),
		Metadata:       map[string]string{"order_number": order.OrderNumber},
		IdempotencyKey: "checkout:" + order.ID,
	})
	if err != nil {
		s.logger(ctx, "checkout.session.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	s.logger(ctx, "checkout.session.created", map[string]any{
		"orderId":   order.ID,
		"sessionId": session.ID,
		"amount":    order.Book.UnitAmount,
	})
	result := CheckoutSession{
		SessionID:   session.ID,
		Provider:    session.Provider,
		RedirectURL: session.RedirectURL,
	}
	if !session.ExpiresAt.IsZero() {
		expires := session.ExpiresAt.UTC()
		result.ExpiresAt = &expires
	}
	return result, nil
}

// checkoutURL substitutes {ORDER_ID} so the storefront can land on the right order.
func checkoutURL(template, orderID string) string {
	return strings.ReplaceAll(template, "{ORDER_ID}", orderID)
}
