package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bookporter/api/internal/payments"
)

const webhookActorID = "payments-webhook"

// PaymentServiceDeps wires the dependencies required by the payment service.
type PaymentServiceDeps struct {
	Orders   OrderService
	Payments paymentGateway
	Provider string
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders   OrderService
	payments paymentGateway
	provider string
	logger   logFunc
}

// NewPaymentService constructs the reconciliation entry points for gateway notifications.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment gateway is required")
	}
	provider := strings.ToLower(strings.TrimSpace(deps.Provider))
	if provider == "" {
		provider = "stripe"
	}
	return &paymentService{
		orders:   deps.Orders,
		payments: deps.Payments,
		provider: provider,
		logger:   loggerOrNoop(deps.Logger),
	}, nil
}

// HandleWebhook verifies the raw body before anything is decoded. Only completed checkouts
// reach ConfirmPayment; every other verified event is acknowledged without side effects.
// Payments the order rejects are logged and acknowledged with Handled unset. Only storage
// and gateway failures surface as errors.
func (s *paymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	if len(payload) == 0 || strings.TrimSpace(signature) == "" {
		s.logger(ctx, "payments.webhook.rejected", map[string]any{"reason": "missing payload or signature"})
		return WebhookResult{}, ErrInvalidSignature
	}
	event, err := s.payments.VerifyEvent(s.provider, payload, signature)
	if err != nil {
		s.logger(ctx, "payments.webhook.rejected", map[string]any{"reason": err.Error()})
		if errors.Is(err, payments.ErrInvalidSignature) {
			return WebhookResult{}, ErrInvalidSignature
		}
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	result := WebhookResult{
		EventID:   event.ID,
		EventType: event.ProviderType,
		OrderID:   event.Payment.OrderID,
	}
	if event.Type != payments.EventCheckoutCompleted {
		s.logger(ctx, "payments.webhook.ignored", map[string]any{"eventId": event.ID, "type": event.ProviderType})
		return result, nil
	}
	if event.Payment.Status != payments.StatusSucceeded {
		s.logger(ctx, "payments.webhook.unpaid", map[string]any{"eventId": event.ID, "orderId": event.Payment.OrderID})
		return result, nil
	}
	if event.Payment.OrderID == "" {
		s.logger(ctx, "payments.webhook.uncorrelated", map[string]any{"eventId": event.ID})
		return result, nil
	}

	confirmed, err := s.orders.ConfirmPayment(ctx, confirmCommandFromDetails(event.Payment, SystemActor(webhookActorID)))
	if err != nil {
		fields := map[string]any{
			"eventId": event.ID,
			"orderId": event.Payment.OrderID,
			"error":   err.Error(),
		}
		// Redelivery cannot change these outcomes.
		if isSettledRejection(err) {
			s.logger(ctx, "payments.webhook.rejected_payment", fields)
			return result, nil
		}
		s.logger(ctx, "payments.webhook.confirm_failed", fields)
		return result, err
	}
	result.Handled = true
	result.Duplicate = confirmed.Duplicate
	return result, nil
}

func (s *paymentService) ConfirmCheckout(ctx context.Context, cmd ConfirmCheckoutCommand) (ConfirmPaymentResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	sessionID := strings.TrimSpace(cmd.SessionID)
	if orderID == "" || sessionID == "" {
		return ConfirmPaymentResult{}, fmt.Errorf("%w: order id and session id are required", ErrOrderInvalidInput)
	}
	order, err := s.orders.GetOrder(ctx, GetOrderCommand{OrderID: orderID, Actor: cmd.Actor})
	if err != nil {
		return ConfirmPaymentResult{}, err
	}

	details, err := s.payments.LookupPayment(ctx, s.provider, payments.LookupRequest{SessionID: sessionID})
	if err != nil {
		return ConfirmPaymentResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if details.OrderID != order.ID {
		return ConfirmPaymentResult{}, fmt.Errorf("%w: checkout %s was not created for order %s", ErrOrderInvalidInput, sessionID, order.ID)
	}
	if details.Status != payments.StatusSucceeded {
		return ConfirmPaymentResult{}, fmt.Errorf("%w: checkout %s is %s", ErrPaymentNotCompleted, sessionID, details.Status)
	}
	if cmd.Amount != nil && *cmd.Amount != details.Amount {
		return ConfirmPaymentResult{}, fmt.Errorf("%w: expected %d got %d", ErrPaymentAmountMismatch, *cmd.Amount, details.Amount)
	}
	details.OrderID = order.ID
	return s.orders.ConfirmPayment(ctx, confirmCommandFromDetails(details, cmd.Actor))
}

func isSettledRejection(err error) bool {
	for _, target := range []error{
		ErrPaymentOnCancelledOrder,
		ErrOrderAlreadyPaid,
		ErrPaymentAmountMismatch,
		ErrOrderNotFound,
		ErrOrderInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func confirmCommandFromDetails(details payments.PaymentDetails, actor Actor) ConfirmPaymentCommand {
	return ConfirmPaymentCommand{
		OrderID:       details.OrderID,
		Provider:      details.Provider,
		ProviderTxnID: details.ProviderTxnID,
		Amount:        details.Amount,
		Currency:      details.Currency,
		PaidAt:        details.PaidAt,
		Actor:         actor,
	}
}
