package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/bookporter/api/internal/platform/httpx"
	"github.com/bookporter/api/internal/platform/requestctx"
	"github.com/bookporter/api/internal/services"
)

const (
	maxWebhookBodySize    = 64 << 10
	stripeSignatureHeader = "Stripe-Signature"
)

// WebhookHandlers receives payment gateway notifications. The body is handed to the gateway
// untouched because signatures cover the exact bytes received.
type WebhookHandlers struct {
	payments services.PaymentService
	outcomes metric.Int64Counter
}

// WebhookOption customises WebhookHandlers.
type WebhookOption func(*WebhookHandlers)

// WithWebhookMeter records one counter increment per delivery, labelled by outcome.
func WithWebhookMeter(meter metric.Meter) WebhookOption {
	return func(h *WebhookHandlers) {
		if meter == nil {
			return
		}
		counter, err := meter.Int64Counter("payments.webhook.deliveries", metric.WithDescription("Payment webhook deliveries by outcome"))
		if err == nil {
			h.outcomes = counter
		}
	}
}

func NewWebhookHandlers(payments services.PaymentService, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{payments: payments}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers /webhooks/*.
func (h *WebhookHandlers) Routes(r chi.Router) {
	r.Post("/stripe", h.stripe)
}

func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx)
	if h.payments == nil {
		h.record(ctx, "unavailable")
		writeUnavailable(ctx, w, "payment service")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.record(ctx, "too_large")
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload too large", http.StatusRequestEntityTooLarge))
			return
		}
		h.record(ctx, "read_failed")
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read webhook payload", http.StatusBadRequest))
		return
	}

	result, err := h.payments.HandleWebhook(ctx, payload, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		if errors.Is(err, services.ErrInvalidSignature) {
			logger.Warn("webhook signature rejected", zap.Error(err), zap.String("remote_ip", r.RemoteAddr))
			h.record(ctx, "invalid_signature")
		} else {
			logger.Error("webhook processing failed", zap.Error(err))
			h.record(ctx, "failed")
		}
		writeServiceError(ctx, w, err)
		return
	}

	outcome := "ignored"
	switch {
	case result.Duplicate:
		outcome = "duplicate"
	case result.Handled:
		outcome = "handled"
	}
	h.record(ctx, outcome)
	logger.Info("webhook processed",
		zap.String("event_id", result.EventID),
		zap.String("event_type", result.EventType),
		zap.String("order_id", result.OrderID),
		zap.String("outcome", outcome),
	)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (h *WebhookHandlers) record(ctx context.Context, outcome string) {
	if h.outcomes == nil {
		return
	}
	h.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
