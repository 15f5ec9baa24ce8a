package httpx

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/bookporter/api/internal/platform/requestctx"
)

const (
	maxCodeLength    = 64
	maxMessageLength = 400
)

// Error is the JSON error envelope: {"error": code, "message": ..., "status": ...}.
type Error struct {
	Code       string
	Message    string
	Status     int
	RetryAfter int
	Details    map[string]any
}

func NewError(code, message string, status int) Error {
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clip(code, maxCodeLength),
		Message: clip(message, maxMessageLength),
		Status:  status,
	}
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// WithRetryAfter sets the Retry-After header, in seconds, written with the error.
func (e Error) WithRetryAfter(seconds int) Error {
	if seconds > 0 {
		e.RetryAfter = seconds
	}
	return e
}

// WithDetails merges extra top-level fields into the body. Reserved keys are ignored.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WriteError renders err with the request and trace identifiers found on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	body := make(map[string]any, len(err.Details)+5)
	for k, v := range err.Details {
		body[k] = v
	}
	body["error"] = err.Code
	body["message"] = err.Message
	body["status"] = err.Status
	if id := clip(middleware.GetReqID(ctx), 80); id != "" {
		body["request_id"] = id
	}
	if id := requestctx.TraceID(ctx); id != "" {
		body["trace_id"] = id
	}
	if err.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(err.RetryAfter))
	}
	WriteJSON(w, err.Status, body)
}

func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
