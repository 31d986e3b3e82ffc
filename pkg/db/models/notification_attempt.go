package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/groupbuyhq/fulfillment-backend/pkg/enums"
)

// NotificationAttempt tracks at-most-once delivery for a (subject, event)
// pair. TriggerAt is written once on first enqueue; a non-nil SentAt is the
// permanent sent marker that turns duplicate triggers into no-ops.
type NotificationAttempt struct {
	ID            uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	SubjectType   enums.AggregateType      `gorm:"column:subject_type;type:text;not null;uniqueIndex:ux_notification_subject_event,priority:1"`
	SubjectID     uuid.UUID                `gorm:"column:subject_id;type:uuid;not null;uniqueIndex:ux_notification_subject_event,priority:2"`
	Event         enums.EventType          `gorm:"column:event;type:text;not null;uniqueIndex:ux_notification_subject_event,priority:3"`
	RecipientID   *uuid.UUID               `gorm:"column:recipient_id;type:uuid"`
	TemplateKey   string                   `gorm:"column:template_key;not null"`
	Args          []byte                   `gorm:"column:args;type:jsonb"`
	TriggerAt     time.Time                `gorm:"column:trigger_at;not null"`
	NextAttemptAt *time.Time               `gorm:"column:next_attempt_at;index"`
	AttemptCount  int                      `gorm:"column:attempt_count;not null;default:0"`
	Status        enums.NotificationStatus `gorm:"column:status;type:text;not null;default:'scheduled'"`
	LastError     *string                  `gorm:"column:last_error"`
	SentAt        *time.Time               `gorm:"column:sent_at"`
	CreatedAt     time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// Terminal reports whether no further delivery attempt will be made.
func (a *NotificationAttempt) Terminal() bool {
	return a.Status == enums.NotificationStatusSent || a.Status == enums.NotificationStatusFailed
}
