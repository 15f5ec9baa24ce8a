// Package observability holds the zap logger, request logging, and tracing middleware.
package observability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bookporter/api/internal/platform/requestctx"
)

// NewLogger builds the JSON logger. Field names follow Cloud Logging's structured payload
// conventions so severity and message are picked up without an agent.
func NewLogger(level string) (*zap.Logger, error) {
	atomic := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if level = strings.TrimSpace(level); level != "" {
		if err := atomic.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, fmt.Errorf("observability: invalid log level %q: %w", level, err)
		}
	}

	cfg := zap.Config{
		Level:    atomic,
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "message",
			TimeKey:        "timestamp",
			LevelKey:       "severity",
			CallerKey:      "caller",
			StacktraceKey:  "stacktrace",
			EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// ServiceLogger adapts zap to the func(ctx, event, fields) hooks taken by services and
// providers. The request logger on ctx wins over base so entries keep request fields.
func ServiceLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := base
		if requestctx.HasLogger(ctx) {
			logger = requestctx.Logger(ctx)
		}
		zfields := make([]zap.Field, 0, len(fields)+1)
		zfields = append(zfields, zap.String("event", event))
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		level := zapcore.InfoLevel
		for _, k := range keys {
			v := fields[k]
			if err, ok := v.(error); ok {
				zfields = append(zfields, zap.NamedError(k, err))
				level = zapcore.WarnLevel
				continue
			}
			if k == "error" {
				level = zapcore.WarnLevel
			}
			zfields = append(zfields, zap.Any(k, v))
		}
		if strings.HasSuffix(event, ".failed") {
			level = zapcore.ErrorLevel
		}
		if ce := logger.Check(level, event); ce != nil {
			ce.Write(zfields...)
		}
	}
}

// ErrorField tags err with its chain so wrapped sentinels stay searchable.
func ErrorField(err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T", e))
	}
	return zap.Dict("error", zap.String("message", err.Error()), zap.Strings("chain", chain))
}
