package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultBodyLimit caps request bodies decoded by DecodeJSON.
const DefaultBodyLimit int64 = 64 << 10

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// DecodeJSON reads a single JSON object from the request body into dst. Unknown fields and
// trailing data are rejected. The returned error is a 400 or 413 Error.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any, limit int64) *Error {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		e := NewError("invalid_request", "content type must be application/json", http.StatusUnsupportedMediaType)
		return &e
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			e := NewError("payload_too_large", fmt.Sprintf("request body exceeds %d bytes", limit), http.StatusRequestEntityTooLarge)
			return &e
		}
		if errors.Is(err, io.EOF) {
			e := NewError("invalid_request", "request body is required", http.StatusBadRequest)
			return &e
		}
		e := NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest)
		return &e
	}
	if dec.More() {
		e := NewError("invalid_request", "request body must contain a single JSON object", http.StatusBadRequest)
		return &e
	}
	return nil
}
