package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/bookporter/api/internal/platform/httpx"
	"github.com/bookporter/api/internal/platform/requestctx"
	"github.com/bookporter/api/internal/services"
)

type errorMapping struct {
	target  error
	code    string
	status  int
	message string
}

// serviceErrors is ordered: the first sentinel found in the chain decides the response.
var serviceErrors = []errorMapping{
	{services.ErrOrderInvalidInput, "invalid_request", http.StatusBadRequest, ""},
	{services.ErrBookInvalidInput, "invalid_request", http.StatusBadRequest, ""},
	{services.ErrInvoiceInvalidInput, "invalid_request", http.StatusBadRequest, ""},
	{services.ErrOrderNotFound, "order_not_found", http.StatusNotFound, "order not found"},
	{services.ErrBookNotFound, "book_not_found", http.StatusNotFound, "book not found"},
	{services.ErrInvoiceNotFound, "invoice_not_found", http.StatusNotFound, "invoice not found"},
	{services.ErrOrderForbidden, "forbidden", http.StatusForbidden, "not allowed to act on this order"},
	{services.ErrOrderInvalidTransition, "order_invalid_transition", http.StatusConflict, ""},
	{services.ErrPaymentOnCancelledOrder, "payment_on_cancelled_order", http.StatusConflict, "order is cancelled"},
	{services.ErrOrderAlreadyPaid, "order_already_paid", http.StatusConflict, "order is already paid"},
	{services.ErrOrderConflict, "order_conflict", http.StatusConflict, "order was modified concurrently, retry"},
	{services.ErrPaymentNotCompleted, "payment_not_completed", http.StatusConflict, "payment has not completed"},
	{services.ErrPaymentAmountMismatch, "payment_amount_mismatch", http.StatusUnprocessableEntity, "payment amount does not match order"},
	{services.ErrInvalidSignature, "invalid_signature", http.StatusBadRequest, "invalid webhook"},
	{services.ErrGatewayUnavailable, "gateway_unavailable", http.StatusServiceUnavailable, "payment provider unavailable"},
	{services.ErrInvoiceReceiptUnavailable, "receipt_unavailable", http.StatusServiceUnavailable, "receipt unavailable"},
	{services.ErrRepositoryUnavailable, "unavailable", http.StatusServiceUnavailable, "storage temporarily unavailable"},
}

// writeServiceError maps service sentinels to the error envelope. Invalid-input errors echo
// their message; everything else uses a fixed message so internals do not leak.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	for _, m := range serviceErrors {
		if !errors.Is(err, m.target) {
			continue
		}
		message := m.message
		if message == "" {
			message = err.Error()
		}
		e := httpx.NewError(m.code, message, m.status)
		if m.status == http.StatusServiceUnavailable {
			e = e.WithRetryAfter(5)
		}
		if m.status >= http.StatusInternalServerError {
			requestctx.Logger(ctx).Warn("service unavailable", zap.Error(err))
		}
		httpx.WriteError(ctx, w, e)
		return
	}
	requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, what string) {
	httpx.WriteError(ctx, w, httpx.NewError("unavailable", what+" unavailable", http.StatusServiceUnavailable))
}
