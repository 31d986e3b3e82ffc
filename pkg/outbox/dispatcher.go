package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/groupbuyhq/fulfillment-backend/pkg/db/models"
	"github.com/groupbuyhq/fulfillment-backend/pkg/logger"
)

const (
	defaultBatchSize      = 50
	defaultDeliveryBudget = 10
)

// Subscriber consumes dispatched domain events. Returning an error leaves the
// event unpublished so a later cycle retries it.
type Subscriber interface {
	HandleEvent(ctx context.Context, event models.OutboxEvent) error
}

// Dispatcher drains pending outbox rows and fans them out to subscribers in
// insertion order. An event that keeps failing is retried until its delivery
// budget runs out, after which the claim query stops returning it.
type Dispatcher struct {
	repo        *Repository
	subscribers []Subscriber
	batchSize   int
	maxAttempts int
	logg        *logger.Logger

	now func() time.Time
}

func NewDispatcher(repo *Repository, batchSize, maxAttempts int, logg *logger.Logger, subscribers ...Subscriber) (*Dispatcher, error) {
	if repo == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultDeliveryBudget
	}
	return &Dispatcher{
		repo:        repo,
		subscribers: subscribers,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		logg:        logg,
		now:         time.Now,
	}, nil
}

// DispatchPending processes one batch of pending events and returns the
// number successfully published.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	rows, err := d.repo.ClaimPending(ctx, d.batchSize, d.maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("claim pending: %w", err)
	}

	published := 0
	for _, row := range rows {
		if err := d.deliver(ctx, row); err != nil {
			if markErr := d.repo.MarkFailed(ctx, row.ID, err); markErr != nil && d.logg != nil {
				d.logg.Error(ctx, "failed to record outbox delivery failure", markErr)
			}
			if d.logg != nil {
				logCtx := d.logg.WithFields(ctx, map[string]any{
					"event_id":   row.ID.String(),
					"event_type": row.EventType,
					"attempt":    row.AttemptCount + 1,
				})
				if row.AttemptCount+1 >= d.maxAttempts {
					d.logg.Error(logCtx, "outbox event parked after exhausting delivery budget", err)
				} else {
					d.logg.Error(logCtx, "outbox event delivery failed", err)
				}
			}
			continue
		}
		if err := d.repo.MarkPublished(ctx, row.ID, d.now().UTC()); err != nil {
			return published, fmt.Errorf("mark published: %w", err)
		}
		published++
	}
	return published, nil
}

func (d *Dispatcher) deliver(ctx context.Context, row models.OutboxEvent) error {
	for _, sub := range d.subscribers {
		if err := sub.HandleEvent(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
