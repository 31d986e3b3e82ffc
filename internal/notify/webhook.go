package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/groupbuyhq/fulfillment-backend/pkg/errors"
	"github.com/groupbuyhq/fulfillment-backend/pkg/logger"
)

const webhookBodyReadLimit int64 = 1024

// WebhookTransport hands finished notifications to the delivery gateway over
// HTTP. The gateway owns template rendering and channel fan-out.
type WebhookTransport struct {
	httpClient *http.Client
	url        string
}

// NewWebhookTransport builds a transport posting to the given gateway URL.
func NewWebhookTransport(url string, timeout time.Duration) (*WebhookTransport, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery gateway URL is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookTransport{
		url:        trimmed,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Send posts one delivery request. A 2xx response means the gateway accepted
// the message; 422 means it rejected the payload and a retry cannot help.
func (t *WebhookTransport) Send(ctx context.Context, recipientID uuid.UUID, templateKey string, args json.RawMessage) (bool, error) {
	payload, err := json.Marshal(struct {
		RecipientID uuid.UUID       `json:"recipient_id"`
		TemplateKey string          `json:"template_key"`
		Args        json.RawMessage `json:"args,omitempty"`
	}{RecipientID: recipientID, TemplateKey: templateKey, Args: args})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal delivery request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build delivery request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute delivery request")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return false, nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, webhookBodyReadLimit))
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "delivery request failed")
	}
}

// LogTransport records deliveries without sending anything. It stands in for
// the gateway in dev environments.
type LogTransport struct {
	Logger *logger.Logger
}

func (t LogTransport) Send(ctx context.Context, recipientID uuid.UUID, templateKey string, _ json.RawMessage) (bool, error) {
	if t.Logger != nil {
		logCtx := t.Logger.WithFields(ctx, map[string]any{
			"recipient_id": recipientID.String(),
			"template_key": templateKey,
		})
		t.Logger.Info(logCtx, "delivery gateway not configured, logging notification")
	}
	return true, nil
}
