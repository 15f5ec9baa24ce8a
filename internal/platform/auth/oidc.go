package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/bookporter/api/internal/platform/httpx"
)

var (
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
)

const defaultJWKSRefreshInterval = 15 * time.Minute

// JWKSCache fetches Google's signing keys on demand and keeps them until the response's
// max-age elapses or an unknown kid shows up.
type JWKSCache struct {
	url      string
	client   *http.Client
	now      func() time.Time
	interval time.Duration

	mu     sync.Mutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time
}

// JWKSOption customises a JWKSCache.
type JWKSOption func(*JWKSCache)

func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:      url,
		client:   &http.Client{Timeout: 5 * time.Second},
		now:      time.Now,
		interval: defaultJWKSRefreshInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the public key for kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.keys) == 0 || !c.now().Before(c.expiry) {
		if err := c.refreshLocked(ctx); err != nil {
			return nil, err
		}
	}
	if jwk, ok := c.keys[kid]; ok {
		return jwk.Key, nil
	}
	// Rotated keys appear before the cached set expires.
	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}
	if jwk, ok := c.keys[kid]; ok {
		return jwk.Key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return c.Key(ctx, kid)
	}
}

func (c *JWKSCache) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	validity := maxAge(resp.Header.Get("Cache-Control"))
	if validity <= 0 {
		validity = c.interval
	}
	c.keys = keys
	c.expiry = c.now().Add(validity)
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		value, ok := strings.CutPrefix(strings.TrimSpace(strings.ToLower(directive)), "max-age=")
		if !ok {
			continue
		}
		if seconds, err := strconv.ParseInt(value, 10, 64); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// ServiceIdentity is the verified caller of an /internal route.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityKey struct{}

func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	return context.WithValue(ctx, serviceIdentityKey{}, identity)
}

func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// OIDCValidator verifies Google-signed OIDC and IAP tokens for service-to-service calls.
type OIDCValidator struct {
	cache    *JWKSCache
	logger   *zap.Logger
	outcomes metric.Int64Counter
}

// NewOIDCValidator wires the validator. meter may be nil.
func NewOIDCValidator(cache *JWKSCache, logger *zap.Logger, meter metric.Meter) *OIDCValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &OIDCValidator{cache: cache, logger: logger}
	if meter != nil {
		counter, err := meter.Int64Counter("auth.oidc.verifications", metric.WithDescription("OIDC verification outcomes"))
		if err != nil {
			logger.Warn("auth: oidc metric unavailable", zap.Error(err))
		} else {
			v.outcomes = counter
		}
	}
	return v
}

// RequireOIDC accepts RS256 tokens from the Authorization header or the IAP assertion header
// whose audience matches and whose issuer is listed.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reject := func(reason string, e httpx.Error) {
				v.record(ctx, reason)
				httpx.WriteError(ctx, w, e)
			}

			if audience == "" || v == nil || v.cache == nil {
				reject("unconfigured", httpx.NewError("verification_unavailable", "oidc verification unavailable", http.StatusServiceUnavailable))
				return
			}
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				raw = strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion"))
			}
			if raw == "" {
				reject("token_missing", httpx.NewError("unauthenticated", "oidc token missing", http.StatusUnauthorized))
				return
			}

			claims := jwt.MapClaims{}
			if _, err := parser.ParseWithClaims(raw, claims, v.cache.keyfunc(ctx)); err != nil {
				if errors.Is(err, ErrJWKSFetchFailed) {
					v.logger.Warn("auth: jwks unavailable", zap.Error(err))
					reject("jwks_unavailable", httpx.NewError("verification_unavailable", "oidc verification unavailable", http.StatusServiceUnavailable))
					return
				}
				reject("token_invalid", httpx.NewError("invalid_token", "oidc token verification failed", http.StatusUnauthorized))
				return
			}

			issuer, _ := claims["iss"].(string)
			if len(issuers) > 0 && !slices.Contains(issuers, issuer) {
				reject("issuer_mismatch", httpx.NewError("invalid_token", "oidc issuer mismatch", http.StatusUnauthorized))
				return
			}
			if !claims.VerifyAudience(audience, true) {
				reject("audience_mismatch", httpx.NewError("invalid_token", "oidc audience mismatch", http.StatusUnauthorized))
				return
			}

			subject, _ := claims["sub"].(string)
			email, _ := claims["email"].(string)
			v.record(ctx, "ok")
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, &ServiceIdentity{
				Subject: subject,
				Email:   email,
				Issuer:  issuer,
			})))
		})
	}
}

func (v *OIDCValidator) record(ctx context.Context, outcome string) {
	if v == nil || v.outcomes == nil {
		return
	}
	v.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
