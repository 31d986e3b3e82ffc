package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/groupbuyhq/fulfillment-backend/pkg/enums"
)

// OrderStatusHistory is the append-only audit log of status transitions,
// including forced corrections recorded as abnormal.
type OrderStatusHistory struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	Field     enums.StatusField `gorm:"column:field;type:text;not null"`
	OldStatus string            `gorm:"column:old_status;not null"`
	NewStatus string            `gorm:"column:new_status;not null"`
	Reason    string            `gorm:"column:reason;not null;default:''"`
	Abnormal  bool              `gorm:"column:abnormal;not null;default:false"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
}
