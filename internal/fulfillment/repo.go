package fulfillment

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/groupbuyhq/fulfillment-backend/pkg/db/models"
)

// Repository defines persistence operations for order-level fulfillment.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindOrderLines(ctx context.Context, orderID uuid.UUID) ([]models.OrderLine, error)
	UpdateLineCounters(ctx context.Context, lineID uuid.UUID, allocatedQty, shippedQty int) error
	FindProductOwner(ctx context.Context, productID uuid.UUID) (uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a fulfillment repository bound to the provided DB.
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

func (r *repository) FindOrderLines(ctx context.Context, orderID uuid.UUID) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repository) UpdateLineCounters(ctx context.Context, lineID uuid.UUID, allocatedQty, shippedQty int) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderLine{}).
		Where("id = ?", lineID).
		Updates(map[string]any{
			"allocated_qty": allocatedQty,
			"shipped_qty":   shippedQty,
		}).Error
}

func (r *repository) FindProductOwner(ctx context.Context, productID uuid.UUID) (uuid.UUID, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Select("id", "owner_id").
		Where("id = ?", productID).
		First(&product).Error
	if err != nil {
		return uuid.Nil, err
	}
	return product.OwnerID, nil
}
