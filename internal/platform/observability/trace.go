package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bookporter/api/internal/platform/requestctx"
)

// CloudTraceHeader is set by Google front ends: TRACE_ID/SPAN_ID;o=OPTIONS.
const CloudTraceHeader = "X-Cloud-Trace-Context"

var tracer = otel.Tracer("github.com/bookporter/api/http")

// TraceMiddleware continues an incoming Cloud Trace context when present, starts the server
// span, and records the trace identifiers on the request context.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if remote, ok := parseCloudTrace(r.Header.Get(CloudTraceHeader)); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
			}
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
					attribute.String("user_agent.original", r.UserAgent()),
				),
			)
			defer span.End()

			sc := span.SpanContext()
			info := requestctx.TraceInfo{ProjectID: projectID, Sampled: sc.IsSampled()}
			if sc.IsValid() {
				info.TraceID = sc.TraceID().String()
				info.SpanID = sc.SpanID().String()
				w.Header().Set(CloudTraceHeader, formatCloudTrace(sc))
			} else if remote := trace.SpanContextFromContext(ctx); remote.IsValid() {
				// No SDK installed: keep propagating the caller's trace.
				info.TraceID = remote.TraceID().String()
				info.SpanID = remote.SpanID().String()
				info.Sampled = remote.IsSampled()
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithTrace(ctx, info)))
		})
	}
}

// parseCloudTrace accepts a hex trace id and a decimal span id, the format Google emits.
func parseCloudTrace(header string) (trace.SpanContext, bool) {
	traceHex, rest, ok := strings.Cut(strings.TrimSpace(header), "/")
	if !ok {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(strings.ToLower(traceHex))
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanPart, options, _ := strings.Cut(rest, ";")
	spanNum, err := strconv.ParseUint(strings.TrimSpace(spanPart), 10, 64)
	if err != nil || spanNum == 0 {
		return trace.SpanContext{}, false
	}
	var spanID trace.SpanID
	for i := range spanID {
		spanID[7-i] = byte(spanNum >> (8 * i))
	}
	var flags trace.TraceFlags
	if strings.TrimSpace(options) == "o=1" {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

func formatCloudTrace(sc trace.SpanContext) string {
	id := sc.SpanID()
	var span uint64
	for _, b := range id {
		span = span<<8 | uint64(b)
	}
	sampled := 0
	if sc.IsSampled() {
		sampled = 1
	}
	return fmt.Sprintf("%s/%d;o=%d", sc.TraceID(), span, sampled)
}
