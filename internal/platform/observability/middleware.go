package observability

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bookporter/api/internal/platform/auth"
	"github.com/bookporter/api/internal/platform/httpx"
	"github.com/bookporter/api/internal/platform/requestctx"
)

// RequestLogger installs a request-scoped logger and writes one completion entry per request.
// It must run after middleware.RequestID and TraceMiddleware so their identifiers are attached.
func RequestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			info, _ := requestctx.Trace(ctx)
			fields := []zap.Field{
				zap.String("request_id", middleware.GetReqID(ctx)),
				zap.String("method", SanitizeMethod(r.Method)),
				zap.String("path", clean(r.URL.Path, 180)),
			}
			if info.TraceID != "" {
				fields = append(fields, zap.String("trace_id", info.TraceID))
				if info.ProjectID != "" {
					fields = append(fields, zap.String("logging.googleapis.com/trace", fmt.Sprintf("projects/%s/traces/%s", info.ProjectID, info.TraceID)))
				}
			}
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				fields = append(fields, zap.String("remote_ip", clean(host, 64)))
			}
			logger := base.With(fields...)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(requestctx.WithLogger(ctx, logger)))

			// Route and identity are only known after routing and auth ran.
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routePattern(r)
			done := []zap.Field{
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("latency", time.Since(start)),
				zap.Int("bytes", ww.BytesWritten()),
			}
			if identity, ok := auth.IdentityFromContext(r.Context()); ok {
				done = append(done, zap.String("user_id", SanitizeUserID(identity.UID)))
			}
			span := trace.SpanFromContext(ctx)
			span.SetAttributes(semconv.HTTPResponseStatusCode(status), semconv.HTTPRoute(route))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}

			switch {
			case status >= http.StatusInternalServerError:
				logger.Error("request completed", done...)
			case status >= http.StatusBadRequest:
				logger.Warn("request completed", done...)
			default:
				logger.Info("request completed", done...)
			}
		})
	}
}

// Recoverer converts panics into a 500 JSON error and logs the stack.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			requestctx.Logger(r.Context()).Error("panic recovered",
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			httpx.WriteError(r.Context(), w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
		}()
		next.ServeHTTP(w, r)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return SanitizeRoute(pattern)
		}
	}
	return SanitizeRoute(r.URL.Path)
}
