package allocation

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/groupbuyhq/fulfillment-backend/pkg/db/models"
)

// Repository defines persistence operations for stock allocation.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindStockForUpdate(ctx context.Context, productID uuid.UUID) (*models.ProductStock, error)
	FindEligibleLines(ctx context.Context, productID uuid.UUID, orderIDs []uuid.UUID) ([]models.OrderLine, error)
	UpdateLineAllocated(ctx context.Context, lineID uuid.UUID, allocatedQty int) error
	UpdateStockAllocated(ctx context.Context, productID uuid.UUID, allocatedQty int) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an allocation repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindStockForUpdate locks the product aggregate row so concurrent
// allocations against the same product serialize. sqlite has no row locks;
// there the transaction itself serializes writers.
func (r *repository) FindStockForUpdate(ctx context.Context, productID uuid.UUID) (*models.ProductStock, error) {
	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var stock models.ProductStock
	err := query.
		Where("product_id = ?", productID).
		First(&stock).Error
	if err != nil {
		return nil, err
	}
	return &stock, nil
}

// FindEligibleLines loads the candidate orders' lines for the product in
// stable order: order creation time first, then order id as the documented
// deterministic tie-break, then line creation order.
func (r *repository) FindEligibleLines(ctx context.Context, productID uuid.UUID, orderIDs []uuid.UUID) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := r.db.WithContext(ctx).
		Joins("JOIN orders ON orders.id = order_lines.order_id").
		Where("order_lines.product_id = ?", productID).
		Where("order_lines.order_id IN ?", orderIDs).
		Order("orders.created_at ASC").
		Order("orders.id ASC").
		Order("order_lines.created_at ASC").
		Order("order_lines.id ASC").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repository) UpdateLineAllocated(ctx context.Context, lineID uuid.UUID, allocatedQty int) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderLine{}).
		Where("id = ?", lineID).
		Update("allocated_qty", allocatedQty).Error
}

func (r *repository) UpdateStockAllocated(ctx context.Context, productID uuid.UUID, allocatedQty int) error {
	return r.db.WithContext(ctx).
		Model(&models.ProductStock{}).
		Where("product_id = ?", productID).
		Update("allocated_qty", allocatedQty).Error
}
