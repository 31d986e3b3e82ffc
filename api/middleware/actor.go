package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/groupbuyhq/fulfillment-backend/pkg/enums"
)

// Trusted headers set by the upstream gateway after authentication. The API
// itself performs no authentication; the actor only attributes actions.
const (
	actorIDHeader   = "X-Actor-Id"
	actorRoleHeader = "X-Actor-Role"
)

type actorCtxKey struct{}

// Actor is the acting user as asserted by the gateway.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// WithActor extracts the acting user from the gateway headers and stores it in
// the request context. Missing or malformed headers leave the request
// actorless rather than rejecting it.
func WithActor() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawID := r.Header.Get(actorIDHeader)
			if rawID == "" {
				next.ServeHTTP(w, r)
				return
			}
			userID, err := uuid.Parse(rawID)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			actor := Actor{
				UserID: userID,
				Role:   enums.ActorRole(r.Header.Get(actorRoleHeader)),
			}
			ctx := context.WithValue(r.Context(), actorCtxKey{}, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext returns the acting user when one was asserted.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorCtxKey{}).(Actor)
	return actor, ok
}
