// Package idempotency replays the first response of a mutating request when a client retries
// it with the same Idempotency-Key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

const DefaultTTL = 24 * time.Hour

// State of a key as seen by Begin.
type State int

const (
	// StateAcquired means the caller owns the key and must Complete or Abandon it.
	StateAcquired State = iota
	// StateReplay means a stored response exists for the key.
	StateReplay
	// StateInFlight means another request holds the key.
	StateInFlight
)

// ErrKeyReuse is returned when a key is presented with a different request fingerprint.
var ErrKeyReuse = errors.New("idempotency: key reused for a different request")

// Entry is what a store keeps per key.
type Entry struct {
	Key         string              `json:"key" firestore:"key"`
	Fingerprint string              `json:"fingerprint" firestore:"fingerprint"`
	Completed   bool                `json:"completed" firestore:"completed"`
	Status      int                 `json:"status,omitempty" firestore:"status"`
	Header      map[string][]string `json:"header,omitempty" firestore:"header"`
	Body        []byte              `json:"body,omitempty" firestore:"body"`
	CreatedAt   time.Time           `json:"createdAt" firestore:"created_at"`
	ExpiresAt   time.Time           `json:"expiresAt" firestore:"expires_at"`
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Response is a captured handler response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store implementations must make Begin atomic: two concurrent callers with the same key get
// exactly one StateAcquired.
type Store interface {
	Begin(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, key string) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

func newEntry(key, fingerprint string, now time.Time, ttl time.Duration) Entry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return Entry{Key: key, Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)}
}

// classify decides the outcome for an existing, unexpired entry.
func classify(existing Entry, fingerprint string) (State, Entry, error) {
	if existing.Fingerprint != fingerprint {
		return 0, Entry{}, ErrKeyReuse
	}
	if existing.Completed {
		return StateReplay, existing, nil
	}
	return StateInFlight, existing, nil
}

func complete(entry Entry, resp Response, now time.Time, ttl time.Duration) Entry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	entry.Completed = true
	entry.Status = resp.Status
	entry.Header = storableHeader(resp.Header)
	entry.Body = append([]byte(nil), resp.Body...)
	entry.ExpiresAt = now.Add(ttl)
	return entry
}

// documentID hashes the scoped key so arbitrary client input is safe as a document or Redis key.
func documentID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

var hopHeaders = map[string]struct{}{
	"Connection": {}, "Content-Length": {}, "Date": {}, "Keep-Alive": {},
	"Set-Cookie": {}, "Transfer-Encoding": {}, "Upgrade": {},
}

func storableHeader(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for name, values := range h {
		name = http.CanonicalHeaderKey(name)
		if _, skip := hopHeaders[name]; skip {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}
