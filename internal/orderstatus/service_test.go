package orderstatus

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/groupbuyhq/fulfillment-backend/pkg/db/models"
	"github.com/groupbuyhq/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/groupbuyhq/fulfillment-backend/pkg/errors"
	"github.com/groupbuyhq/fulfillment-backend/pkg/outbox"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:orderstatus_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Order{},
		&models.OrderStatusHistory{},
		&models.OutboxEvent{},
	))
	return db
}

func newService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	emitter := outbox.NewService(outbox.NewRepository(db), nil)
	svc, err := NewService(NewRepository(db), gormTxRunner{db: db}, emitter, nil)
	require.NoError(t, err)
	return svc
}

func seedOrder(t *testing.T, db *gorm.DB, mutate func(*models.Order)) uuid.UUID {
	t.Helper()
	order := models.Order{
		ID:                uuid.New(),
		InvoiceRef:        "INV-" + uuid.NewString()[:8],
		Kind:              enums.OrderKindNormal,
		CustomerID:        uuid.New(),
		PaymentStatus:     enums.PaymentStatusPending,
		ShippingStatus:    enums.ShippingStatusPending,
		FulfillmentStatus: enums.FulfillmentStatusPending,
		Currency:          "USD",
	}
	if mutate != nil {
		mutate(&order)
	}
	require.NoError(t, db.Create(&order).Error)
	return order.ID
}

func seedSplitChild(t *testing.T, db *gorm.DB, parentID uuid.UUID, shipping enums.ShippingStatus) uuid.UUID {
	t.Helper()
	return seedOrder(t, db, func(o *models.Order) {
		o.Kind = enums.OrderKindSplit
		o.ParentID = &parentID
		o.ShippingStatus = shipping
	})
}

func loadOrder(t *testing.T, db *gorm.DB, id uuid.UUID) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, db.First(&order, "id = ?", id).Error)
	return order
}

func TestTransitionUpdatesStatusAndHistory(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()
	orderID := seedOrder(t, db, nil)

	err := svc.ApplyTransition(ctx, TransitionInput{
		OrderID:   orderID,
		Field:     enums.StatusFieldPayment,
		NewStatus: string(enums.PaymentStatusPaid),
		Reason:    "payment captured",
	})
	require.NoError(t, err)

	order := loadOrder(t, db, orderID)
	assert.Equal(t, enums.PaymentStatusPaid, order.PaymentStatus)

	entries, err := svc.History(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, enums.StatusFieldPayment, entries[0].Field)
	assert.Equal(t, string(enums.PaymentStatusPending), entries[0].OldStatus)
	assert.Equal(t, string(enums.PaymentStatusPaid), entries[0].NewStatus)
	assert.Equal(t, "payment captured", entries[0].Reason)
	assert.False(t, entries[0].Abnormal)
}

func TestTransitionSameValueIsNoOp(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()
	orderID := seedOrder(t, db, nil)

	err := svc.ApplyTransition(ctx, TransitionInput{
		OrderID:   orderID,
		Field:     enums.StatusFieldPayment,
		NewStatus: string(enums.PaymentStatusPending),
	})
	require.NoError(t, err)

	entries, err := svc.History(ctx, orderID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTransitionBackwardShippingFlaggedAbnormal(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()
	orderID := seedOrder(t, db, func(o *models.Order) {
		o.ShippingStatus = enums.ShippingStatusShipped
	})

	err := svc.ApplyTransition(ctx, TransitionInput{
		OrderID:   orderID,
		Field:     enums.StatusFieldShipping,
		NewStatus: string(enums.ShippingStatusPreparing),
		Reason:    "carrier returned the parcel",
	})
	require.NoError(t, err)

	order := loadOrder(t, db, orderID)
	assert.Equal(t, enums.ShippingStatusPreparing, order.ShippingStatus)

	entries, err := svc.History(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Abnormal)
}

func TestTransitionValidation(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()

	err := svc.ApplyTransition(ctx, TransitionInput{
		OrderID:   uuid.New(),
		Field:     enums.StatusFieldPayment,
		NewStatus: "gifted",
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	err = svc.ApplyTransition(ctx, TransitionInput{
		OrderID:   uuid.New(),
		Field:     enums.StatusFieldPayment,
		NewStatus: string(enums.PaymentStatusPaid),
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestApplyTransitionPropagatesDownward(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()

	parentID := seedOrder(t, db, nil)
	childA := seedSplitChild(t, db, parentID, enums.ShippingStatusPending)
	childB := seedSplitChild(t, db, parentID, enums.ShippingStatusPreparing)
	cancelled := seedSplitChild(t, db, parentID, enums.ShippingStatusCancelled)

	err := svc.ApplyTransition(ctx, TransitionInput{
		OrderID:   parentID,
		Field:     enums.StatusFieldPayment,
		NewStatus: string(enums.PaymentStatusRefunded),
		Reason:    "full refund issued",
	})
	require.NoError(t, err)

	assert.Equal(t, enums.PaymentStatusRefunded, loadOrder(t, db, parentID).PaymentStatus)
	assert.Equal(t, enums.PaymentStatusRefunded, loadOrder(t, db, childA).PaymentStatus)
	assert.Equal(t, enums.PaymentStatusRefunded, loadOrder(t, db, childB).PaymentStatus)
	// Terminal children are left alone.
	assert.Equal(t, enums.PaymentStatusPending, loadOrder(t, db, cancelled).PaymentStatus)

	// Each propagated child carries its own history entry.
	entries, err := svc.History(ctx, childA)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Reason, parentID.String())
}

func TestApplyTransitionShippingNotPropagated(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()

	parentID := seedOrder(t, db, nil)
	childID := seedSplitChild(t, db, parentID, enums.ShippingStatusPending)

	err := svc.ApplyTransition(ctx, TransitionInput{
		OrderID:   parentID,
		Field:     enums.StatusFieldShipping,
		NewStatus: string(enums.ShippingStatusPreparing),
	})
	require.NoError(t, err)

	// Shipping state of children is driven by their own shipments.
	assert.Equal(t, enums.ShippingStatusPending, loadOrder(t, db, childID).ShippingStatus)
}

func TestCompleteParentIfDone(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()

	parentID := seedOrder(t, db, nil)
	childA := seedSplitChild(t, db, parentID, enums.ShippingStatusShipped)
	childB := seedSplitChild(t, db, parentID, enums.ShippingStatusPreparing)

	// One sibling still unshipped: nothing happens.
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.CompleteParentIfDone(ctx, tx, childA)
	}))
	assert.Equal(t, enums.ShippingStatusPending, loadOrder(t, db, parentID).ShippingStatus)

	// Last sibling ships: parent completes and the completion event is queued.
	require.NoError(t, db.Model(&models.Order{}).Where("id = ?", childB).
		Update("shipping_status", enums.ShippingStatusShipped).Error)
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.CompleteParentIfDone(ctx, tx, childB)
	}))
	assert.Equal(t, enums.ShippingStatusCompleted, loadOrder(t, db, parentID).ShippingStatus)

	var events []models.OutboxEvent
	require.NoError(t, db.Where("event_type = ?", enums.EventParentCompleted).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, parentID, events[0].AggregateID)

	// Re-running for an already completed parent is a no-op.
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.CompleteParentIfDone(ctx, tx, childA)
	}))
	require.NoError(t, db.Where("event_type = ?", enums.EventParentCompleted).Find(&events).Error)
	assert.Len(t, events, 1)

	entries, err := svc.History(ctx, parentID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(enums.ShippingStatusCompleted), entries[0].NewStatus)
}

func TestCompleteParentIgnoresNormalOrders(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()

	orderID := seedOrder(t, db, func(o *models.Order) {
		o.ShippingStatus = enums.ShippingStatusShipped
	})
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.CompleteParentIfDone(ctx, tx, orderID)
	}))

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}
