package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/groupbuyhq/fulfillment-backend/pkg/errors"
)

const responseBodyReadLimit int64 = 1024

// HTTPResolver looks bindings up over the identity service's REST API.
type HTTPResolver struct {
	httpClient *http.Client
	baseURL    string
}

// HTTPOption configures optional resolver behavior.
type HTTPOption func(*HTTPResolver)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(r *HTTPResolver) {
		if client != nil {
			r.httpClient = client
		}
	}
}

// NewHTTPResolver builds a resolver against the given identity service base URL.
func NewHTTPResolver(baseURL string, timeout time.Duration, opts ...HTTPOption) (*HTTPResolver, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "identity service base URL is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	resolver := &HTTPResolver{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(resolver)
		}
	}
	return resolver, nil
}

// Resolve fetches the delivery binding for the given user. A 404 means the
// identity is unknown and yields a zero Binding without error.
func (r *HTTPResolver) Resolve(ctx context.Context, userID uuid.UUID) (Binding, error) {
	if userID == uuid.Nil {
		return Binding{}, pkgerrors.New(pkgerrors.CodeValidation, "user ID is required")
	}

	endpoint := fmt.Sprintf("%s/v1/users/%s/delivery-binding", r.baseURL, userID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Binding{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build binding request")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return Binding{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute binding request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return Binding{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return Binding{}, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "binding request failed")
	}

	var apiResp struct {
		UserID             uuid.UUID `json:"user_id"`
		HasDeliveryChannel bool      `json:"has_delivery_channel"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return Binding{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode binding response")
	}

	return Binding{
		UserID:             apiResp.UserID,
		HasDeliveryChannel: apiResp.HasDeliveryChannel,
	}, nil
}

// StaticResolver treats every known user as deliverable. It stands in for the
// identity service in dev environments.
type StaticResolver struct{}

func (StaticResolver) Resolve(_ context.Context, userID uuid.UUID) (Binding, error) {
	return Binding{UserID: userID, HasDeliveryChannel: userID != uuid.Nil}, nil
}
