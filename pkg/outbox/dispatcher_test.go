package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/groupbuyhq/fulfillment-backend/pkg/db/models"
	"github.com/groupbuyhq/fulfillment-backend/pkg/enums"
)

type fakeSubscriber struct {
	mu     sync.Mutex
	seen   []uuid.UUID
	errFor map[uuid.UUID]error
}

func (f *fakeSubscriber) HandleEvent(_ context.Context, event models.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errFor[event.ID]; ok {
		return err
	}
	f.seen = append(f.seen, event.ID)
	return nil
}

func (f *fakeSubscriber) seenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:outbox_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.OutboxEvent{}))
	return db
}

func seedEvent(t *testing.T, db *gorm.DB, createdAt time.Time) models.OutboxEvent {
	t.Helper()
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderShipped,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		CreatedAt:     createdAt,
	}
	require.NoError(t, db.Create(&event).Error)
	return event
}

func TestDispatchPendingPublishesInOrder(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	base := time.Now().UTC()
	first := seedEvent(t, db, base)
	second := seedEvent(t, db, base.Add(time.Millisecond))

	sub := &fakeSubscriber{}
	d, err := NewDispatcher(NewRepository(db), 50, 3, nil, sub)
	require.NoError(t, err)

	published, err := d.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, published)
	require.Equal(t, []uuid.UUID{first.ID, second.ID}, sub.seen)

	var row models.OutboxEvent
	require.NoError(t, db.First(&row, "id = ?", first.ID).Error)
	require.NotNil(t, row.PublishedAt)
	assert.Nil(t, row.LastError)
}

func TestDispatchPendingRetriesFailedEvent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	event := seedEvent(t, db, time.Now().UTC())

	sub := &fakeSubscriber{errFor: map[uuid.UUID]error{event.ID: errors.New("downstream unavailable")}}
	d, err := NewDispatcher(NewRepository(db), 50, 3, nil, sub)
	require.NoError(t, err)

	published, err := d.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, published)

	var row models.OutboxEvent
	require.NoError(t, db.First(&row, "id = ?", event.ID).Error)
	assert.Nil(t, row.PublishedAt)
	assert.Equal(t, 1, row.AttemptCount)
	require.NotNil(t, row.LastError)
	assert.Contains(t, *row.LastError, "downstream unavailable")

	// Subscriber recovers and the next cycle delivers the same event.
	sub.errFor = nil
	published, err = d.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, published)
	assert.Equal(t, 1, sub.seenCount())
}

func TestDispatchPendingParksExhaustedEvent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	base := time.Now().UTC()
	broken := seedEvent(t, db, base)
	healthy := seedEvent(t, db, base.Add(time.Millisecond))

	sub := &fakeSubscriber{errFor: map[uuid.UUID]error{broken.ID: errors.New("poison payload")}}
	d, err := NewDispatcher(NewRepository(db), 50, 2, nil, sub)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := d.DispatchPending(context.Background())
		require.NoError(t, err)
	}

	var row models.OutboxEvent
	require.NoError(t, db.First(&row, "id = ?", broken.ID).Error)
	assert.Nil(t, row.PublishedAt)
	assert.Equal(t, 2, row.AttemptCount)

	// The healthy event behind it was still delivered.
	var healthyRow models.OutboxEvent
	require.NoError(t, db.First(&healthyRow, "id = ?", healthy.ID).Error)
	require.NotNil(t, healthyRow.PublishedAt)
}
