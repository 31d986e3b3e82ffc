package models

import (
	"time"

	"github.com/google/uuid"
)

// ShipmentLine binds a shipped quantity to its order line. Immutable once
// created; rows are only removed when a merge destroys the source shipment.
type ShipmentLine struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ShipmentID  uuid.UUID `gorm:"column:shipment_id;type:uuid;not null;index"`
	OrderID     uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	OrderLineID uuid.UUID `gorm:"column:order_line_id;type:uuid;not null;index"`
	ProductID   uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Quantity    int       `gorm:"column:quantity;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}
