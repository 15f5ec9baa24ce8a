package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/status"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc is executed within a Firestore transaction. It may run more than once when
// Firestore retries a contended transaction, so it must not cause external side effects.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

type txContextKey struct{}

// ContextWithTransaction stores the active transaction so repositories can join it.
func ContextWithTransaction(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TransactionFromContext returns the transaction attached by RunTransaction, if any.
func TransactionFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}

// RunTransaction executes fn within a transaction on the provided client. When ctx already
// carries a transaction, fn joins it instead of starting a nested one.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}
	if tx, ok := TransactionFromContext(ctx); ok {
		return fn(ctx, tx)
	}
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx := ctx
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			var cancel context.CancelFunc
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}
	}

	var appErr error
	err := client.RunTransaction(txnCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		appErr = fn(ContextWithTransaction(ctx, tx), tx)
		return appErr
	}, firestore.MaxAttempts(cfg.attempts))
	if err == nil {
		return nil
	}
	// Errors raised by fn itself carry domain meaning; only backend failures are wrapped.
	if appErr != nil && errors.Is(err, appErr) {
		if _, isStatus := status.FromError(appErr); !isStatus {
			return appErr
		}
	}
	return WrapError("transaction", err)
}
