package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Transport is the out-of-scope delivery primitive. The scheduler only needs
// success or failure; rendering the template is someone else's concern.
type Transport interface {
	Send(ctx context.Context, recipientID uuid.UUID, templateKey string, args json.RawMessage) (bool, error)
}
