package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/groupbuyhq/fulfillment-backend/pkg/enums"
)

// Order is a purchase record. A split order always references its parent and
// represents a subset of the parent's lines carved out for independent
// fulfillment; a normal order never carries a parent id.
type Order struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	InvoiceRef        string                  `gorm:"column:invoice_ref;not null"`
	Kind              enums.OrderKind         `gorm:"column:kind;type:text;not null;default:'normal'"`
	ParentID          *uuid.UUID              `gorm:"column:parent_id;type:uuid"`
	CustomerID        uuid.UUID               `gorm:"column:customer_id;type:uuid;not null"`
	SellerID          *uuid.UUID              `gorm:"column:seller_id;type:uuid"`
	PaymentStatus     enums.PaymentStatus     `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	ShippingStatus    enums.ShippingStatus    `gorm:"column:shipping_status;type:text;not null;default:'pending'"`
	FulfillmentStatus enums.FulfillmentStatus `gorm:"column:fulfillment_status;type:text;not null;default:'pending'"`
	Currency          string                  `gorm:"column:currency;type:text;not null;default:'USD'"`
	TotalAmount       decimal.Decimal         `gorm:"column:total_amount;type:numeric(14,2);not null;default:0"`
	Lines             []OrderLine             `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// Shippable reports whether the order may still produce shipments.
func (o *Order) Shippable() bool {
	return !enums.TerminalShippingStatus(o.ShippingStatus)
}
