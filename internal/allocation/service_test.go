package allocation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/groupbuyhq/fulfillment-backend/pkg/db/models"
	"github.com/groupbuyhq/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/groupbuyhq/fulfillment-backend/pkg/errors"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:allocation_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Product{},
		&models.ProductStock{},
		&models.Order{},
		&models.OrderLine{},
	))
	return db
}

func seedOrderWithLine(t *testing.T, db *gorm.DB, productID uuid.UUID, qty int, createdAt time.Time) (uuid.UUID, uuid.UUID) {
	t.Helper()
	order := models.Order{
		ID:         uuid.New(),
		InvoiceRef: "INV-" + uuid.NewString()[:8],
		Kind:       enums.OrderKindNormal,
		CustomerID: uuid.New(),
		CreatedAt:  createdAt,
	}
	require.NoError(t, db.Create(&order).Error)
	line := models.OrderLine{
		ID:        uuid.New(),
		OrderID:   order.ID,
		ProductID: productID,
		Quantity:  qty,
	}
	require.NoError(t, db.Create(&line).Error)
	return order.ID, line.ID
}

func newService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(NewRepository(db), gormTxRunner{db: db}, nil)
	require.NoError(t, err)
	return svc
}

func TestAllocateDistributesToAllLines(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	productID := uuid.New()
	require.NoError(t, db.Create(&models.ProductStock{ProductID: productID, PurchasedQty: 10}).Error)

	base := time.Now().Add(-time.Hour)
	orderA, lineA := seedOrderWithLine(t, db, productID, 4, base)
	orderB, lineB := seedOrderWithLine(t, db, productID, 5, base.Add(time.Minute))

	svc := newService(t, db)
	result, err := svc.Allocate(ctx, productID, []uuid.UUID{orderA, orderB})
	require.NoError(t, err)

	assert.Equal(t, 9, result.UnitsAllocated)
	assert.Equal(t, 9, result.AllocatedQty)
	assert.Equal(t, 1, result.AvailableQty)
	require.Len(t, result.Lines, 2)
	assert.Equal(t, lineA, result.Lines[0].OrderLineID)
	assert.Equal(t, 4, result.Lines[0].Allocated)
	assert.Equal(t, lineB, result.Lines[1].OrderLineID)
	assert.Equal(t, 5, result.Lines[1].Allocated)

	var stock models.ProductStock
	require.NoError(t, db.First(&stock, "product_id = ?", productID).Error)
	assert.Equal(t, 9, stock.AllocatedQty)

	var la, lb models.OrderLine
	require.NoError(t, db.First(&la, "id = ?", lineA).Error)
	require.NoError(t, db.First(&lb, "id = ?", lineB).Error)
	assert.Equal(t, 4, la.AllocatedQty)
	assert.Equal(t, 5, lb.AllocatedQty)
}

func TestAllocateWalksLinesInCreationOrder(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	productID := uuid.New()
	require.NoError(t, db.Create(&models.ProductStock{ProductID: productID, PurchasedQty: 7}).Error)

	base := time.Now().Add(-time.Hour)
	// Seed out of order; allocation must follow creation time, not input order.
	orderLate, _ := seedOrderWithLine(t, db, productID, 3, base.Add(10*time.Minute))
	orderEarly, lineEarly := seedOrderWithLine(t, db, productID, 4, base)

	svc := newService(t, db)
	result, err := svc.Allocate(ctx, productID, []uuid.UUID{orderLate, orderEarly})
	require.NoError(t, err)

	require.Len(t, result.Lines, 2)
	assert.Equal(t, lineEarly, result.Lines[0].OrderLineID)
	assert.Equal(t, orderEarly, result.Lines[0].OrderID)
	assert.Equal(t, orderLate, result.Lines[1].OrderID)
}

func TestAllocateNoStock(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	productID := uuid.New()
	require.NoError(t, db.Create(&models.ProductStock{ProductID: productID, PurchasedQty: 5, AllocatedQty: 5}).Error)
	orderID, _ := seedOrderWithLine(t, db, productID, 2, time.Now())

	svc := newService(t, db)
	_, err := svc.Allocate(ctx, productID, []uuid.UUID{orderID})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNoStock))
}

func TestAllocateInsufficientStockLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	productID := uuid.New()
	require.NoError(t, db.Create(&models.ProductStock{ProductID: productID, PurchasedQty: 5}).Error)

	base := time.Now().Add(-time.Hour)
	orderA, lineA := seedOrderWithLine(t, db, productID, 4, base)
	orderB, lineB := seedOrderWithLine(t, db, productID, 5, base.Add(time.Minute))

	svc := newService(t, db)
	_, err := svc.Allocate(ctx, productID, []uuid.UUID{orderA, orderB})
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 9, details["total_needed"])
	assert.Equal(t, 5, details["available_qty"])

	// No partial allocation persisted.
	var stock models.ProductStock
	require.NoError(t, db.First(&stock, "product_id = ?", productID).Error)
	assert.Equal(t, 0, stock.AllocatedQty)

	var la, lb models.OrderLine
	require.NoError(t, db.First(&la, "id = ?", lineA).Error)
	require.NoError(t, db.First(&lb, "id = ?", lineB).Error)
	assert.Equal(t, 0, la.AllocatedQty)
	assert.Equal(t, 0, lb.AllocatedQty)
}

func TestAllocateSkipsFullySatisfiedLines(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	productID := uuid.New()
	require.NoError(t, db.Create(&models.ProductStock{ProductID: productID, PurchasedQty: 10, AllocatedQty: 4}).Error)

	base := time.Now().Add(-time.Hour)
	orderA, lineA := seedOrderWithLine(t, db, productID, 4, base)
	require.NoError(t, db.Model(&models.OrderLine{}).Where("id = ?", lineA).
		Update("allocated_qty", 4).Error)
	orderB, lineB := seedOrderWithLine(t, db, productID, 5, base.Add(time.Minute))

	svc := newService(t, db)
	result, err := svc.Allocate(ctx, productID, []uuid.UUID{orderA, orderB})
	require.NoError(t, err)

	assert.Equal(t, 5, result.UnitsAllocated)
	require.Len(t, result.Lines, 1)
	assert.Equal(t, lineB, result.Lines[0].OrderLineID)
}

func TestAllocateCapsPartiallyShippedLines(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	productID := uuid.New()
	require.NoError(t, db.Create(&models.ProductStock{ProductID: productID, PurchasedQty: 10}).Error)

	// Half the line already shipped; only the open remainder may be granted,
	// otherwise allocated+shipped would exceed the line quantity.
	orderID, lineID := seedOrderWithLine(t, db, productID, 4, time.Now().Add(-time.Hour))
	require.NoError(t, db.Model(&models.OrderLine{}).Where("id = ?", lineID).
		Update("shipped_qty", 2).Error)

	svc := newService(t, db)
	result, err := svc.Allocate(ctx, productID, []uuid.UUID{orderID})
	require.NoError(t, err)

	assert.Equal(t, 2, result.UnitsAllocated)
	require.Len(t, result.Lines, 1)
	assert.Equal(t, 2, result.Lines[0].Allocated)
	assert.Equal(t, 0, result.Lines[0].PendingQty)

	var line models.OrderLine
	require.NoError(t, db.First(&line, "id = ?", lineID).Error)
	assert.LessOrEqual(t, line.AllocatedQty+line.ShippedQty, line.Quantity)
	assert.Equal(t, 2, line.AllocatedQty)
}

func TestAllocateValidation(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newService(t, db)

	_, err := svc.Allocate(context.Background(), uuid.Nil, []uuid.UUID{uuid.New()})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = svc.Allocate(context.Background(), uuid.New(), nil)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = svc.Allocate(context.Background(), uuid.New(), []uuid.UUID{uuid.Nil})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
