package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/groupbuyhq/fulfillment-backend/pkg/enums"
)

// Shipment is a physical dispatch unit. It transitions forward through its
// status enum and is never reopened; merging replaces source shipments with a
// new combined one.
type Shipment struct {
	ID                  uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	ShipmentNumber      string               `gorm:"column:shipment_number;uniqueIndex:ux_shipments_number;not null"`
	CustomerID          uuid.UUID            `gorm:"column:customer_id;type:uuid;not null;index"`
	SellerID            uuid.UUID            `gorm:"column:seller_id;type:uuid;not null"`
	Status              enums.ShipmentStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	ShippingMethod      *string              `gorm:"column:shipping_method"`
	ShippedAt           *time.Time           `gorm:"column:shipped_at"`
	EstimatedDeliveryAt *time.Time           `gorm:"column:estimated_delivery_at"`
	Lines               []ShipmentLine       `gorm:"foreignKey:ShipmentID;constraint:OnDelete:CASCADE"`
	CreatedAt           time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
