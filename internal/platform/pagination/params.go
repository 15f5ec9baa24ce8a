package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits page_size.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps page_size to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Params bundles the paging values extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
}

// Options control how Parse behaves for a given handler.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Parse reads page_size and page_token from the query string. The token is validated but
// kept opaque so repositories can decode it themselves.
func Parse(values url.Values, opts Options) (Params, error) {
	pageSize, err := parsePageSize(firstValue(values, "page_size", "pageSize"), opts)
	if err != nil {
		return Params{}, err
	}
	token := strings.TrimSpace(firstValue(values, "page_token", "pageToken"))
	if token != "" {
		if _, err := DecodeToken(token); err != nil {
			return Params{}, err
		}
	}
	return Params{PageSize: pageSize, PageToken: token}, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	defaultPageSize := opts.DefaultPageSize
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	defaultPageSize = min(defaultPageSize, maxPageSize)

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultPageSize, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	return min(value, maxPageSize), nil
}

func firstValue(values url.Values, keys ...string) string {
	for _, key := range keys {
		if v := values.Get(key); v != "" {
			return v
		}
	}
	return ""
}
