package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderLine is one product within an order. Quantity is immutable after
// placement; only the allocated/shipped counters mutate. At all times
// allocated + shipped <= quantity.
type OrderLine struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID      uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID    uuid.UUID       `gorm:"column:product_id;type:uuid;not null;index"`
	Quantity     int             `gorm:"column:quantity;not null"`
	AllocatedQty int             `gorm:"column:allocated_qty;not null;default:0"`
	ShippedQty   int             `gorm:"column:shipped_qty;not null;default:0"`
	UnitPrice    decimal.Decimal `gorm:"column:unit_price;type:numeric(14,2);not null;default:0"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// PendingQty is derived, never stored.
func (l *OrderLine) PendingQty() int {
	return l.Quantity - l.AllocatedQty - l.ShippedQty
}
