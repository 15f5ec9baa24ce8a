package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookporter/api/internal/platform/requestctx"
)

func TestWriteErrorIncludesIdentifiers(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "trace-1"})

	rr := httptest.NewRecorder()
	WriteError(ctx, rr, NewError("gateway_unavailable", "stripe\nunreachable", http.StatusServiceUnavailable).
		WithRetryAfter(5).
		WithDetails(map[string]any{"order_id": "ord_1"}))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "5", rr.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "gateway_unavailable", body["error"])
	assert.Equal(t, "stripe unreachable", body["message"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "trace-1", body["trace_id"])
	assert.Equal(t, "ord_1", body["order_id"])
}

func TestNewErrorClampsStatus(t *testing.T) {
	if got := NewError("x", "y", 200).Status; got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for non-error status, got %d", got)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		BookID string `json:"bookId"`
	}
	cases := map[string]struct {
		body   string
		ctype  string
		limit  int64
		status int
	}{
		"ok":            {body: `{"bookId":"bk_1"}`, status: 0},
		"unknown field": {body: `{"bookId":"bk_1","x":1}`, status: http.StatusBadRequest},
		"empty":         {body: ``, status: http.StatusBadRequest},
		"trailing":      {body: `{"bookId":"a"}{"bookId":"b"}`, status: http.StatusBadRequest},
		"too large":     {body: `{"bookId":"` + strings.Repeat("a", 64) + `"}`, limit: 16, status: http.StatusRequestEntityTooLarge},
		"content type":  {body: `{}`, ctype: "text/plain", status: http.StatusUnsupportedMediaType},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			if tc.ctype != "" {
				req.Header.Set("Content-Type", tc.ctype)
			}
			var dst payload
			err := DecodeJSON(httptest.NewRecorder(), req, &dst, tc.limit)
			if tc.status == 0 {
				require.Nil(t, err)
				assert.Equal(t, "bk_1", dst.BookID)
				return
			}
			require.NotNil(t, err)
			assert.Equal(t, tc.status, err.Status)
		})
	}
}
