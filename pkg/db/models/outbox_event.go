package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/groupbuyhq/fulfillment-backend/pkg/enums"
)

// OutboxEvent represents an append-only domain event emitted inside the
// business transaction and dispatched asynchronously.
type OutboxEvent struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	EventType     enums.EventType     `gorm:"column:event_type;type:text;not null"`
	AggregateType enums.AggregateType `gorm:"column:aggregate_type;type:text;not null"`
	AggregateID   uuid.UUID           `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage     `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time          `gorm:"column:published_at;index"`
	AttemptCount  int                 `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string             `gorm:"column:last_error"`
}
