package auth

import (
	"context"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Roles carried in the Firebase "role" custom claim.
const (
	RoleUser   = "user"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// Identity is the authenticated end user behind a request.
type Identity struct {
	UID   string
	Email string
	Roles []string

	token *firebaseauth.Token
}

// Token exposes the decoded Firebase ID token.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity carries role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	for _, r := range i.Roles {
		if role != "" && normaliseRole(r) == role {
			return true
		}
	}
	return false
}

func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

type identityKey struct{}

// WithIdentity stores the identity on ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by the Firebase middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
