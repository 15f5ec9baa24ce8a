package pagination

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Cursor positions a page after the last item of the previous page. Lists are ordered by
// a timestamp with the document ID as tie-breaker.
type Cursor struct {
	Time time.Time
	ID   string
}

// EncodeToken serialises the cursor into a URL-safe page token.
func EncodeToken(cursor Cursor) string {
	if cursor.ID == "" {
		return ""
	}
	payload := cursor.Time.UTC().Format(time.RFC3339Nano) + "|" + cursor.ID
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// DecodeToken parses a token produced by EncodeToken. An empty token yields a zero cursor.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	rawTime, id, ok := strings.Cut(string(data), "|")
	if !ok || id == "" {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrInvalidPageToken)
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return Cursor{Time: ts, ID: id}, nil
}

// After reports whether an item sorted descending by (ts, id) comes strictly after the cursor.
func (c Cursor) After(ts time.Time, id string) bool {
	if c.ID == "" {
		return true
	}
	if ts.Equal(c.Time) {
		return id < c.ID
	}
	return ts.Before(c.Time)
}
