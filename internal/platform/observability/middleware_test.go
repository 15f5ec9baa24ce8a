package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bookporter/api/internal/platform/requestctx"
)

func TestRequestLoggerRecordsRouteAndStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	router := chi.NewRouter()
	router.Use(middleware.RequestID, TraceMiddleware("bp-test"), RequestLogger(zap.New(core)))
	router.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		requestctx.Logger(r.Context()).Info("inside")
		w.WriteHeader(http.StatusConflict)
	})

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil)
	req.Header.Set(CloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusConflict, rr.Code)
	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "inside", entries[0].Message)
	assert.NotEmpty(t, entries[0].ContextMap()["request_id"])

	done := entries[1].ContextMap()
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "/orders/{id}", done["route"])
	assert.EqualValues(t, http.StatusConflict, done["status"])
	assert.Equal(t, "105445aa7843bc8bf206b12000100000", done["trace_id"])
}

func TestRecovererWritesJSON(t *testing.T) {
	handler := Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), `"internal_error"`)
}

func TestParseCloudTrace(t *testing.T) {
	sc, ok := parseCloudTrace("105445aa7843bc8bf206b12000100000/2;o=1")
	require.True(t, ok)
	assert.True(t, sc.IsSampled())
	assert.Equal(t, "0000000000000002", sc.SpanID().String())
	assert.Equal(t, "105445aa7843bc8bf206b12000100000/2;o=1", formatCloudTrace(sc))

	for _, header := range []string{"", "abc/1", "105445aa7843bc8bf206b12000100000", "105445aa7843bc8bf206b12000100000/zz"} {
		if _, ok := parseCloudTrace(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}
