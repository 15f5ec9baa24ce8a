package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/bookporter/api/internal/platform/httpx"
)

const (
	defaultRoleClaim     = "role"
	defaultVerifyTimeout = 5 * time.Second
)

var (
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns bearer ID tokens into an Identity on the request context.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
}

// Option customises the Authenticator.
type Option func(*Authenticator)

// WithRoleClaim overrides the custom claim holding roles.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, roleClaim: defaultRoleClaim}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid ID token. When roles are given the
// identity must hold at least one of them. Tokens without a role claim act as RoleUser.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized))
				return
			}
			if a == nil || a.verifier == nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authorization service unavailable", http.StatusUnauthorized))
				return
			}

			token, err := a.verifier.VerifyIDToken(r.Context(), raw)
			if err != nil {
				httpx.WriteError(r.Context(), w, verificationError(err))
				return
			}

			identity := &Identity{
				UID:   token.UID,
				Email: stringClaim(token.Claims, "email"),
				Roles: rolesFromClaims(token.Claims, a.roleClaim),
				token: token,
			}
			if len(identity.Roles) == 0 {
				identity.Roles = []string{RoleUser}
			}
			if len(roles) > 0 && !identity.HasAnyRole(roles...) {
				httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "identity does not have required role", http.StatusForbidden))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func verificationError(err error) httpx.Error {
	if errors.Is(err, ErrTokenExpired) || firebaseauth.IsIDTokenExpired(err) {
		return httpx.NewError("token_expired", "firebase id token expired", http.StatusUnauthorized)
	}
	return httpx.NewError("invalid_token", "firebase id token verification failed", http.StatusUnauthorized)
}

// rolesFromClaims accepts a single string, a list, or a {"role": true} map.
func rolesFromClaims(claims map[string]any, key string) []string {
	var roles []string
	add := func(role string) {
		role = normaliseRole(role)
		for _, existing := range roles {
			if existing == role {
				return
			}
		}
		if role != "" {
			roles = append(roles, role)
		}
	}
	switch v := claims[key].(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			add(part)
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case []string:
		for _, s := range v {
			add(s)
		}
	case map[string]any:
		for name, enabled := range v {
			if flag, ok := enabled.(bool); ok && flag {
				add(name)
			}
		}
	}
	return roles
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
