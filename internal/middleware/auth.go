package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/AnshRaj112/medconsult-backend/internal/models"
	"github.com/AnshRaj112/medconsult-backend/internal/services"
)

type contextKey string

const actorKey contextKey = "actor"

// ActorResolver turns a session token into the acting participant.
type ActorResolver interface {
	CurrentActor(ctx context.Context, token string) (*models.Actor, error)
}

// RequireActor rejects requests without a valid session and stores the actor
// in the request context. Browsers cannot set headers on a WebSocket
// handshake, so the token may also come in the "token" query parameter.
// A resolver failure other than services.ErrUnauthenticated is reported as
// 503 so clients keep the session and retry.
func RequireActor(resolver ActorResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			actor, err := resolver.CurrentActor(r.Context(), token)
			if err != nil && !errors.Is(err, services.ErrUnauthenticated) {
				writeJSONError(w, http.StatusServiceUnavailable, "Session service unavailable")
				return
			}
			if err != nil || actor == nil {
				writeJSONError(w, http.StatusUnauthorized, "Invalid or expired session")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// BearerToken extracts the session token from the Authorization header or the
// "token" query parameter.
func BearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func WithActor(ctx context.Context, actor *models.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the actor stored by RequireActor, or nil.
func ActorFromContext(ctx context.Context) *models.Actor {
	actor, _ := ctx.Value(actorKey).(*models.Actor)
	return actor
}
