// Package requestctx carries request-scoped values shared by middleware and handlers.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey struct{}
	traceKey  struct{}
)

var nop = zap.NewNop()

// TraceInfo is the trace position of the current request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = nop
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the request logger, or a no-op logger outside a request.
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
			return logger
		}
	}
	return nop
}

// HasLogger reports whether a request logger was installed on ctx.
func HasLogger(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	_, ok := ctx.Value(loggerKey{}).(*zap.Logger)
	return ok
}

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(ctx, traceKey{}, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}
