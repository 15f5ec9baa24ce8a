package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bookporter/api/internal/platform/auth"
	"github.com/bookporter/api/internal/platform/httpx"
	"github.com/bookporter/api/internal/services"
)

// requireIdentity returns the authenticated user or writes a 401.
func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// actorFor picks the strongest role the identity holds. Ownership is checked by services.
func actorFor(identity *auth.Identity) services.Actor {
	actor := services.Actor{ID: identity.UID, Kind: services.ActorUser}
	switch {
	case identity.HasRole(auth.RoleAdmin):
		actor.Kind = services.ActorAdmin
	case identity.HasRole(auth.RoleSeller):
		actor.Kind = services.ActorSeller
	}
	return actor
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
