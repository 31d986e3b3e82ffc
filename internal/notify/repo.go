package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/groupbuyhq/fulfillment-backend/pkg/db/models"
	"github.com/groupbuyhq/fulfillment-backend/pkg/enums"
)

// Repository defines persistence for notification delivery attempts.
type Repository interface {
	FindAttempt(ctx context.Context, subjectType enums.AggregateType, subjectID uuid.UUID, event enums.EventType) (*models.NotificationAttempt, error)
	CreateAttempt(ctx context.Context, attempt *models.NotificationAttempt) error
	UpdateAttempt(ctx context.Context, id uuid.UUID, updates map[string]any) error
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time, attemptCount int) (bool, error)
	FindDue(ctx context.Context, now time.Time, limit int) ([]models.NotificationAttempt, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a notification repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindAttempt(ctx context.Context, subjectType enums.AggregateType, subjectID uuid.UUID, event enums.EventType) (*models.NotificationAttempt, error) {
	var attempt models.NotificationAttempt
	err := r.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ? AND event = ?", subjectType, subjectID, event).
		First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *repository) CreateAttempt(ctx context.Context, attempt *models.NotificationAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *repository) UpdateAttempt(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.NotificationAttempt{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// MarkSent writes the permanent sent marker. The sent_at guard keeps a racing
// worker from recording a second delivery.
func (r *repository) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time, attemptCount int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.NotificationAttempt{}).
		Where("id = ? AND sent_at IS NULL", id).
		Updates(map[string]any{
			"status":          enums.NotificationStatusSent,
			"sent_at":         sentAt,
			"attempt_count":   attemptCount,
			"next_attempt_at": nil,
			"last_error":      nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindDue(ctx context.Context, now time.Time, limit int) ([]models.NotificationAttempt, error) {
	var rows []models.NotificationAttempt
	err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.NotificationStatus{
			enums.NotificationStatusScheduled,
			enums.NotificationStatusRetrying,
		}).
		Where("next_attempt_at IS NOT NULL AND next_attempt_at <= ?", now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ?", []enums.NotificationStatus{
			enums.NotificationStatusSent,
			enums.NotificationStatusFailed,
		}).
		Where("updated_at < ?", cutoff).
		Delete(&models.NotificationAttempt{})
	return res.RowsAffected, res.Error
}
