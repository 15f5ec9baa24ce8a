package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bookporter/api/internal/platform/auth"
	"github.com/bookporter/api/internal/platform/httpx"
	"github.com/bookporter/api/internal/platform/requestctx"
)

const (
	DefaultHeader = "Idempotency-Key"
	ReplayHeader  = "Idempotent-Replayed"

	maxKeyLength  = 255
	maxBodyLength = 1 << 20
)

// Option configures Middleware.
type Option func(*options)

type options struct {
	header   string
	ttl      time.Duration
	required bool
	clock    func() time.Time
}

func WithHeader(name string) Option {
	return func(o *options) {
		if name = strings.TrimSpace(name); name != "" {
			o.header = name
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// Optional lets requests without a key through unguarded.
func Optional() Option {
	return func(o *options) { o.required = false }
}

func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// Middleware guards a mutating route. The first request for a key runs the handler; its
// response is stored unless it was a 5xx, in which case the key is released for a retry.
// Keys are scoped to the caller so two users cannot collide.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	o := options{header: DefaultHeader, ttl: DefaultTTL, required: true, clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(o.header))
			if key == "" {
				if !o.required {
					next.ServeHTTP(w, r)
					return
				}
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", o.header+" header is required", http.StatusBadRequest))
				return
			}
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", o.header+" header is too long", http.StatusBadRequest))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyLength+1))
			if err != nil || len(body) > maxBodyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body could not be read", http.StatusBadRequest))
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			caller := callerID(r)
			scoped := caller + "|" + key
			fingerprint := fingerprintOf(r, caller, body)
			logger := requestctx.Logger(ctx).With(zap.String("idempotency_key", key))

			state, entry, err := store.Begin(ctx, scoped, fingerprint, o.clock().UTC(), o.ttl)
			switch {
			case errors.Is(err, ErrKeyReuse):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was used with a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				logger.Error("idempotency: begin failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "idempotency store unavailable", http.StatusServiceUnavailable).WithRetryAfter(1))
				return
			}

			switch state {
			case StateReplay:
				replay(w, entry)
				return
			case StateInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is in progress", http.StatusConflict).WithRetryAfter(1))
				return
			}

			rec := &capture{header: make(http.Header)}
			func() {
				defer func() {
					if p := recover(); p != nil {
						_ = store.Abandon(ctx, scoped)
						panic(p)
					}
				}()
				next.ServeHTTP(rec, r)
			}()

			if rec.statusCode() >= http.StatusInternalServerError {
				if err := store.Abandon(ctx, scoped); err != nil {
					logger.Warn("idempotency: release failed", zap.Error(err))
				}
			} else if err := store.Complete(ctx, scoped, fingerprint, Response{Status: rec.statusCode(), Header: rec.header, Body: rec.body.Bytes()}, o.clock().UTC(), o.ttl); err != nil {
				// The handler already committed its side effects; still answer the client.
				logger.Error("idempotency: store response failed", zap.Error(err))
				_ = store.Abandon(ctx, scoped)
			}
			rec.flush(w)
		})
	}
}

func callerID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.UID != "" {
		return "user:" + identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(r.Context()); ok && svc.Subject != "" {
		return "svc:" + svc.Subject
	}
	return "anonymous"
}

func fingerprintOf(r *http.Request, caller string, body []byte) string {
	h := sha256.New()
	for _, part := range []string{r.Method, r.URL.Path, r.URL.RawQuery, caller} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, entry Entry) {
	for name, values := range entry.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayHeader, "true")
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(entry.Body)
}

// capture buffers the handler response so it can be stored before the client sees it.
type capture struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
}

func (c *capture) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(p)
}

func (c *capture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *capture) flush(w http.ResponseWriter) {
	for name, values := range c.header {
		w.Header()[name] = values
	}
	w.WriteHeader(c.statusCode())
	_, _ = w.Write(c.body.Bytes())
}
