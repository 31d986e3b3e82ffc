package models

import (
	"time"

	"github.com/google/uuid"
)

// ProductStock is the per-product aggregate: quantity physically obtained and
// quantity reserved across all order lines. allocated <= purchased always.
type ProductStock struct {
	ProductID    uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	PurchasedQty int       `gorm:"column:purchased_qty;not null;default:0"`
	AllocatedQty int       `gorm:"column:allocated_qty;not null;default:0"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// AvailableQty is derived, never stored.
func (s *ProductStock) AvailableQty() int {
	return s.PurchasedQty - s.AllocatedQty
}
