package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/groupbuyhq/fulfillment-backend/internal/identity"
	"github.com/groupbuyhq/fulfillment-backend/pkg/config"
	"github.com/groupbuyhq/fulfillment-backend/pkg/db"
	"github.com/groupbuyhq/fulfillment-backend/pkg/db/models"
	"github.com/groupbuyhq/fulfillment-backend/pkg/enums"
	"github.com/groupbuyhq/fulfillment-backend/pkg/errors"
	"github.com/groupbuyhq/fulfillment-backend/pkg/logger"
	"github.com/groupbuyhq/fulfillment-backend/pkg/outbox"
)

// SuppressionStore is the slice of the redis client the scheduler needs for
// short-lived duplicate-trigger markers.
type SuppressionStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	SuppressionKey(scope, id string) string
}

// templateByEvent maps notifiable events to their message template.
var templateByEvent = map[enums.EventType]string{
	enums.EventOrderCreated:          "order_created",
	enums.EventOrderShipped:          "order_shipped",
	enums.EventShipmentMarkedShipped: "shipment_marked_shipped",
	enums.EventParentCompleted:       "order_parent_completed",
}

// Service schedules notification attempts from domain events and drives the
// delivery/retry loop. Delivery is at most once per (subject, event): a sent
// marker is permanent and later triggers for the same pair are no-ops.
type Service struct {
	repo      Repository
	store     SuppressionStore
	resolver  identity.Resolver
	transport Transport
	cfg       config.NotifyConfig
	logg      *logger.Logger

	now func() time.Time
}

type ServiceParams struct {
	Repo      Repository
	Store     SuppressionStore
	Resolver  identity.Resolver
	Transport Transport
	Config    config.NotifyConfig
	Logger    *logger.Logger
}

func NewService(p ServiceParams) *Service {
	return &Service{
		repo:      p.Repo,
		store:     p.Store,
		resolver:  p.Resolver,
		transport: p.Transport,
		cfg:       p.Config,
		logg:      p.Logger,
		now:       time.Now,
	}
}

// HandleEvent enqueues a notification attempt for notifiable domain events.
// It implements outbox.Subscriber.
func (s *Service) HandleEvent(ctx context.Context, event models.OutboxEvent) error {
	templateKey, ok := templateByEvent[event.EventType]
	if !ok {
		return nil
	}

	now := s.now().UTC()

	if event.EventType == enums.EventShipmentMarkedShipped && s.store != nil {
		key := s.store.SuppressionKey(string(event.EventType), event.AggregateID.String())
		fresh, err := s.store.SetNX(ctx, key, now.Format(time.RFC3339), s.cfg.SuppressionTTL)
		if err != nil {
			// The attempt row's unique index is the durable guard; losing the
			// redis marker only costs one extra lookup.
			s.logg.Warn(ctx, "suppression marker write failed: "+err.Error())
		} else if !fresh {
			return nil
		}
	}

	recipient, args, err := decodePayload(event.Payload)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "decoding event payload")
	}

	attempt := &models.NotificationAttempt{
		ID:            uuid.New(),
		SubjectType:   event.AggregateType,
		SubjectID:     event.AggregateID,
		Event:         event.EventType,
		RecipientID:   recipient,
		TemplateKey:   templateKey,
		Args:          args,
		TriggerAt:     now,
		NextAttemptAt: ptrTime(now.Add(s.cfg.Backoff[0])),
		Status:        enums.NotificationStatusScheduled,
	}
	if err := s.repo.CreateAttempt(ctx, attempt); err != nil {
		if db.IsUniqueViolation(err, "ux_notification_subject_event") {
			return nil
		}
		return errors.Wrap(errors.CodeInternal, err, "creating notification attempt")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"subject_id": event.AggregateID.String(),
		"event_type": event.EventType,
	})
	s.logg.Info(logCtx, "notification attempt scheduled")
	return nil
}

// RunDue processes one batch of attempts whose next_attempt_at has passed.
// It returns the number of notifications delivered.
func (s *Service) RunDue(ctx context.Context) (int, error) {
	now := s.now().UTC()
	rows, err := s.repo.FindDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, errors.Wrap(errors.CodeInternal, err, "loading due notifications")
	}

	delivered := 0
	for i := range rows {
		attempt := rows[i]
		if attempt.SentAt != nil {
			continue
		}
		if s.processOne(ctx, &attempt, now) {
			delivered++
		}
	}
	return delivered, nil
}

func (s *Service) processOne(ctx context.Context, attempt *models.NotificationAttempt, now time.Time) bool {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"attempt_id":  attempt.ID.String(),
		"subject_id":  attempt.SubjectID.String(),
		"event_type":  attempt.Event,
		"attempt_num": attempt.AttemptCount + 1,
	})

	recipient, err := s.recipientFor(ctx, attempt)
	if err != nil {
		// An unresolved recipient counts as a failed attempt and follows the
		// same schedule; the binding may appear before the retries run out.
		s.logg.Warn(logCtx, "notification recipient unavailable: "+err.Error())
		s.retryOrFail(logCtx, attempt, err.Error())
		return false
	}

	ok, sendErr := s.transport.Send(ctx, recipient, attempt.TemplateKey, attempt.Args)
	if sendErr == nil && ok {
		marked, markErr := s.repo.MarkSent(ctx, attempt.ID, now, attempt.AttemptCount+1)
		if markErr != nil {
			s.logg.Error(logCtx, "failed to record notification delivery", markErr)
			return false
		}
		if marked {
			s.logg.Info(logCtx, "notification delivered")
		}
		return marked
	}

	reason := "transport declined delivery"
	if sendErr != nil {
		reason = sendErr.Error()
	}
	s.retryOrFail(logCtx, attempt, reason)
	return false
}

// recipientFor resolves the user to notify, preferring the recipient captured
// at enqueue time.
func (s *Service) recipientFor(ctx context.Context, attempt *models.NotificationAttempt) (uuid.UUID, error) {
	if attempt.RecipientID == nil || *attempt.RecipientID == uuid.Nil {
		return uuid.Nil, errors.New(errors.CodeValidation, "attempt has no recipient")
	}
	binding, err := s.resolver.Resolve(ctx, *attempt.RecipientID)
	if err != nil {
		return uuid.Nil, errors.Wrap(errors.CodeDependency, err, "resolving recipient")
	}
	if binding.UserID == uuid.Nil || !binding.HasDeliveryChannel {
		return uuid.Nil, errors.New(errors.CodeNotFound, "recipient has no delivery channel")
	}
	return binding.UserID, nil
}

// retryOrFail advances the schedule. Offsets are anchored on trigger_at, so a
// slow worker converges on the same wall-clock plan as a fast one.
func (s *Service) retryOrFail(ctx context.Context, attempt *models.NotificationAttempt, reason string) {
	attemptNum := attempt.AttemptCount + 1
	if attemptNum >= s.cfg.MaxAttempts() {
		s.failPermanently(ctx, attempt, reason)
		return
	}

	next := attempt.TriggerAt.Add(s.cfg.Backoff[attemptNum])
	err := s.repo.UpdateAttempt(ctx, attempt.ID, map[string]any{
		"status":          enums.NotificationStatusRetrying,
		"attempt_count":   attemptNum,
		"next_attempt_at": next,
		"last_error":      reason,
	})
	if err != nil {
		s.logg.Error(ctx, "failed to schedule notification retry", err)
		return
	}
	s.logg.Warn(ctx, "notification attempt failed, retry scheduled")
}

func (s *Service) failPermanently(ctx context.Context, attempt *models.NotificationAttempt, reason string) {
	err := s.repo.UpdateAttempt(ctx, attempt.ID, map[string]any{
		"status":          enums.NotificationStatusFailed,
		"attempt_count":   attempt.AttemptCount + 1,
		"next_attempt_at": nil,
		"last_error":      reason,
	})
	if err != nil {
		s.logg.Error(ctx, "failed to mark notification failed", err)
		return
	}
	s.logg.Warn(ctx, "notification attempt exhausted: "+reason)
}

// Cleanup prunes terminal attempts older than the retention period.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.cfg.RetentionPeriod)
	removed, err := s.repo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(errors.CodeInternal, err, "pruning notification attempts")
	}
	if removed > 0 {
		s.logg.Info(s.logg.WithField(ctx, "removed", removed), "pruned terminal notification attempts")
	}
	return removed, nil
}

// decodePayload extracts the recipient and template args from the stored
// envelope. Every notifiable event carries customer_id in its data.
func decodePayload(payload json.RawMessage) (*uuid.UUID, []byte, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, nil, err
	}
	var data struct {
		CustomerID uuid.UUID `json:"customer_id"`
	}
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, nil, err
	}
	if data.CustomerID == uuid.Nil {
		return nil, []byte(envelope.Data), nil
	}
	recipient := data.CustomerID
	return &recipient, []byte(envelope.Data), nil
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

var _ outbox.Subscriber = (*Service)(nil)
