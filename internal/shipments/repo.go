package shipments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/groupbuyhq/fulfillment-backend/pkg/db/models"
)

// Repository defines persistence operations for shipments and their lines.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateShipment(ctx context.Context, shipment *models.Shipment) error
	CreateLines(ctx context.Context, lines []models.ShipmentLine) error
	FindShipment(ctx context.Context, id uuid.UUID) (*models.Shipment, error)
	FindShipments(ctx context.Context, ids []uuid.UUID) ([]models.Shipment, error)
	UpdateShipment(ctx context.Context, id uuid.UUID, updates map[string]any) error
	DeleteShipment(ctx context.Context, id uuid.UUID) error
	DeleteShipments(ctx context.Context, ids []uuid.UUID) error
	MaxSeqForPrefix(ctx context.Context, prefix string) (int, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a shipments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateShipment(ctx context.Context, shipment *models.Shipment) error {
	return r.db.WithContext(ctx).Create(shipment).Error
}

func (r *repository) CreateLines(ctx context.Context, lines []models.ShipmentLine) error {
	if len(lines) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&lines).Error
}

func (r *repository) FindShipment(ctx context.Context, id uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("id = ?", id).
		First(&shipment).Error
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *repository) FindShipments(ctx context.Context, ids []uuid.UUID) ([]models.Shipment, error) {
	var rows []models.Shipment
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("id IN ?", ids).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) UpdateShipment(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Shipment{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) DeleteShipment(ctx context.Context, id uuid.UUID) error {
	return r.DeleteShipments(ctx, []uuid.UUID{id})
}

func (r *repository) DeleteShipments(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).
		Where("shipment_id IN ?", ids).
		Delete(&models.ShipmentLine{}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&models.Shipment{}).Error
}

// MaxSeqForPrefix returns the highest sequence issued for the given day
// prefix, or 0 when none exists yet. The sequence is compared numerically;
// a string MAX would rank "-9" above "-10".
func (r *repository) MaxSeqForPrefix(ctx context.Context, prefix string) (int, error) {
	var seq *int
	err := r.db.WithContext(ctx).
		Model(&models.Shipment{}).
		Where("shipment_number LIKE ?", prefix+"-%").
		Select("MAX(CAST(SUBSTR(shipment_number, ?) AS INTEGER))", len(prefix)+2).
		Scan(&seq).Error
	if err != nil || seq == nil {
		return 0, err
	}
	return *seq, nil
}
