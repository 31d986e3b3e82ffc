// Package identity abstracts the external identity/permission service that
// maps a messaging-platform identity to an internal user. The lookup is pure
// and side-effect free; the core only consumes its result.
package identity

import (
	"context"

	"github.com/google/uuid"
)

// Binding is the result of resolving a recipient.
type Binding struct {
	UserID             uuid.UUID
	HasDeliveryChannel bool
}

// Resolver looks up the internal user bound to the given subject. A zero
// Binding with nil error means the identity is unknown.
type Resolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (Binding, error)
}
