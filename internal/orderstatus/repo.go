package orderstatus

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/groupbuyhq/fulfillment-backend/pkg/db/models"
	"github.com/groupbuyhq/fulfillment-backend/pkg/enums"
)

// Repository defines persistence operations for order status state.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindSplitChildren(ctx context.Context, parentID uuid.UUID) ([]models.Order, error)
	CountUnshippedSiblings(ctx context.Context, parentID uuid.UUID) (int64, error)
	UpdateStatusField(ctx context.Context, orderID uuid.UUID, field enums.StatusField, value string) error
	CreateHistory(ctx context.Context, entry *models.OrderStatusHistory) error
	ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an order status repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindSplitChildren(ctx context.Context, parentID uuid.UUID) ([]models.Order, error) {
	var children []models.Order
	err := r.db.WithContext(ctx).
		Where("parent_id = ? AND kind = ?", parentID, enums.OrderKindSplit).
		Order("created_at ASC").
		Find(&children).Error
	if err != nil {
		return nil, err
	}
	return children, nil
}

func (r *repository) CountUnshippedSiblings(ctx context.Context, parentID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("parent_id = ? AND kind = ?", parentID, enums.OrderKindSplit).
		Where("shipping_status <> ?", enums.ShippingStatusShipped).
		Count(&count).Error
	return count, err
}

func (r *repository) UpdateStatusField(ctx context.Context, orderID uuid.UUID, field enums.StatusField, value string) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update(string(field), value).Error
}

func (r *repository) CreateHistory(ctx context.Context, entry *models.OrderStatusHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	var entries []models.OrderStatusHistory
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
