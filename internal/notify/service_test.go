package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/groupbuyhq/fulfillment-backend/internal/identity"
	"github.com/groupbuyhq/fulfillment-backend/pkg/config"
	"github.com/groupbuyhq/fulfillment-backend/pkg/db/models"
	"github.com/groupbuyhq/fulfillment-backend/pkg/enums"
	"github.com/groupbuyhq/fulfillment-backend/pkg/logger"
	"github.com/groupbuyhq/fulfillment-backend/pkg/outbox"
)

type fakeTransport struct {
	mu       sync.Mutex
	sends    []uuid.UUID
	accepted bool
	err      error
}

func (f *fakeTransport) Send(_ context.Context, recipientID uuid.UUID, _ string, _ json.RawMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, recipientID)
	return f.accepted, f.err
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

type fakeSuppressionStore struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newFakeSuppressionStore() *fakeSuppressionStore {
	return &fakeSuppressionStore{keys: map[string]struct{}{}}
}

func (f *fakeSuppressionStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.keys[key]; exists {
		return false, nil
	}
	f.keys[key] = struct{}{}
	return true, nil
}

func (f *fakeSuppressionStore) SuppressionKey(scope, id string) string {
	return "gb:suppress:" + scope + ":" + id
}

type fakeResolver struct {
	bindings map[uuid.UUID]identity.Binding
	err      error
}

func (f *fakeResolver) Resolve(_ context.Context, userID uuid.UUID) (identity.Binding, error) {
	if f.err != nil {
		return identity.Binding{}, f.err
	}
	if binding, ok := f.bindings[userID]; ok {
		return binding, nil
	}
	return identity.Binding{}, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:notify_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.NotificationAttempt{}))
	return db
}

func testConfig() config.NotifyConfig {
	return config.NotifyConfig{
		Backoff:         []time.Duration{60 * time.Second, 120 * time.Second, 300 * time.Second},
		BatchSize:       50,
		SuppressionTTL:  5 * time.Minute,
		RetentionPeriod: 30 * 24 * time.Hour,
	}
}

type testEnv struct {
	db        *gorm.DB
	svc       *Service
	transport *fakeTransport
	resolver  *fakeResolver
	store     *fakeSuppressionStore
	now       time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	transport := &fakeTransport{accepted: true}
	resolver := &fakeResolver{bindings: map[uuid.UUID]identity.Binding{}}
	store := newFakeSuppressionStore()
	svc := NewService(ServiceParams{
		Repo:      NewRepository(db),
		Store:     store,
		Resolver:  resolver,
		Transport: transport,
		Config:    testConfig(),
		Logger:    logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	env := &testEnv{
		db:        db,
		svc:       svc,
		transport: transport,
		resolver:  resolver,
		store:     store,
		now:       time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
	svc.now = func() time.Time { return env.now }
	return env
}

func (e *testEnv) allowRecipient(id uuid.UUID) {
	e.resolver.bindings[id] = identity.Binding{UserID: id, HasDeliveryChannel: true}
}

func outboxEvent(t *testing.T, eventType enums.EventType, aggregateType enums.AggregateType, subjectID, customerID uuid.UUID) models.OutboxEvent {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"customer_id": customerID.String(),
		"order_ids":   []string{uuid.NewString()},
	})
	require.NoError(t, err)
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   subjectID,
		Payload:       payload,
	}
}

func (e *testEnv) loadAttempt(t *testing.T, subjectID uuid.UUID) models.NotificationAttempt {
	t.Helper()
	var attempt models.NotificationAttempt
	require.NoError(t, e.db.First(&attempt, "subject_id = ?", subjectID).Error)
	return attempt
}

func TestHandleEventSchedulesAttempt(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	orderID := uuid.New()
	customerID := uuid.New()
	event := outboxEvent(t, enums.EventOrderShipped, enums.AggregateOrder, orderID, customerID)

	require.NoError(t, env.svc.HandleEvent(context.Background(), event))

	attempt := env.loadAttempt(t, orderID)
	assert.Equal(t, enums.NotificationStatusScheduled, attempt.Status)
	assert.Equal(t, "order_shipped", attempt.TemplateKey)
	assert.Equal(t, 0, attempt.AttemptCount)
	require.NotNil(t, attempt.RecipientID)
	assert.Equal(t, customerID, *attempt.RecipientID)
	assert.True(t, attempt.TriggerAt.Equal(env.now))
	require.NotNil(t, attempt.NextAttemptAt)
	assert.True(t, attempt.NextAttemptAt.Equal(env.now.Add(60*time.Second)))
	assert.Nil(t, attempt.SentAt)
}

func TestHandleEventDuplicateTriggerIsNoOp(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	orderID := uuid.New()
	event := outboxEvent(t, enums.EventOrderShipped, enums.AggregateOrder, orderID, uuid.New())

	require.NoError(t, env.svc.HandleEvent(context.Background(), event))
	require.NoError(t, env.svc.HandleEvent(context.Background(), event))

	var count int64
	require.NoError(t, env.db.Model(&models.NotificationAttempt{}).
		Where("subject_id = ?", orderID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestHandleEventIgnoresNonNotifiableEvents(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	event := outboxEvent(t, enums.EventType("stock.replenished"), enums.AggregateOrder, uuid.New(), uuid.New())

	require.NoError(t, env.svc.HandleEvent(context.Background(), event))

	var count int64
	require.NoError(t, env.db.Model(&models.NotificationAttempt{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestHandleEventOrderCreatedSchedulesAttempt(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	orderID := uuid.New()
	event := outboxEvent(t, enums.EventOrderCreated, enums.AggregateOrder, orderID, uuid.New())

	require.NoError(t, env.svc.HandleEvent(context.Background(), event))

	attempt := env.loadAttempt(t, orderID)
	assert.Equal(t, enums.NotificationStatusScheduled, attempt.Status)
	assert.Equal(t, "order_created", attempt.TemplateKey)
}

func TestHandleEventShipmentSuppression(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	shipmentID := uuid.New()
	event := outboxEvent(t, enums.EventShipmentMarkedShipped, enums.AggregateShipment, shipmentID, uuid.New())

	// Marker already present, e.g. written by another replica moments ago.
	key := env.store.SuppressionKey(string(enums.EventShipmentMarkedShipped), shipmentID.String())
	_, err := env.store.SetNX(context.Background(), key, "1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, env.svc.HandleEvent(context.Background(), event))

	var count int64
	require.NoError(t, env.db.Model(&models.NotificationAttempt{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)

	// A different shipment gets through and leaves its own marker.
	other := outboxEvent(t, enums.EventShipmentMarkedShipped, enums.AggregateShipment, uuid.New(), uuid.New())
	require.NoError(t, env.svc.HandleEvent(context.Background(), other))
	require.NoError(t, env.db.Model(&models.NotificationAttempt{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRunDueDeliversAndMarksSent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	orderID := uuid.New()
	customerID := uuid.New()
	env.allowRecipient(customerID)
	event := outboxEvent(t, enums.EventOrderShipped, enums.AggregateOrder, orderID, customerID)
	require.NoError(t, env.svc.HandleEvent(context.Background(), event))

	// Before the backoff elapses nothing is due.
	delivered, err := env.svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 0, env.transport.sendCount())

	env.now = env.now.Add(61 * time.Second)
	delivered, err = env.svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, env.transport.sendCount())

	attempt := env.loadAttempt(t, orderID)
	assert.Equal(t, enums.NotificationStatusSent, attempt.Status)
	assert.Equal(t, 1, attempt.AttemptCount)
	require.NotNil(t, attempt.SentAt)
	assert.Nil(t, attempt.NextAttemptAt)

	// A later cycle never re-sends.
	env.now = env.now.Add(time.Hour)
	delivered, err = env.svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 1, env.transport.sendCount())
}

func TestRunDueBackoffAnchoredOnTrigger(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	orderID := uuid.New()
	customerID := uuid.New()
	env.allowRecipient(customerID)
	env.transport.accepted = false
	env.transport.err = errors.New("messaging gateway unavailable")

	trigger := env.now
	event := outboxEvent(t, enums.EventOrderShipped, enums.AggregateOrder, orderID, customerID)
	require.NoError(t, env.svc.HandleEvent(context.Background(), event))

	// First attempt fails; the retry lands at trigger+120s regardless of when
	// the worker actually ran.
	env.now = trigger.Add(90 * time.Second)
	_, err := env.svc.RunDue(context.Background())
	require.NoError(t, err)

	attempt := env.loadAttempt(t, orderID)
	assert.Equal(t, enums.NotificationStatusRetrying, attempt.Status)
	assert.Equal(t, 1, attempt.AttemptCount)
	require.NotNil(t, attempt.NextAttemptAt)
	assert.True(t, attempt.NextAttemptAt.Equal(trigger.Add(120*time.Second)))
	require.NotNil(t, attempt.LastError)
	assert.Contains(t, *attempt.LastError, "gateway unavailable")

	// Second failure schedules the final attempt at trigger+300s.
	env.now = trigger.Add(130 * time.Second)
	_, err = env.svc.RunDue(context.Background())
	require.NoError(t, err)
	attempt = env.loadAttempt(t, orderID)
	assert.Equal(t, 2, attempt.AttemptCount)
	require.NotNil(t, attempt.NextAttemptAt)
	assert.True(t, attempt.NextAttemptAt.Equal(trigger.Add(300*time.Second)))

	// Third failure exhausts the schedule.
	env.now = trigger.Add(301 * time.Second)
	_, err = env.svc.RunDue(context.Background())
	require.NoError(t, err)
	attempt = env.loadAttempt(t, orderID)
	assert.Equal(t, enums.NotificationStatusFailed, attempt.Status)
	assert.Equal(t, 3, attempt.AttemptCount)
	assert.Nil(t, attempt.NextAttemptAt)
	assert.Nil(t, attempt.SentAt)
	assert.Equal(t, 3, env.transport.sendCount())

	// Exhausted attempts never come due again.
	env.now = trigger.Add(time.Hour)
	delivered, err := env.svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 3, env.transport.sendCount())
}

func TestRunDueUnresolvedRecipientRetriesThenFails(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	orderID := uuid.New()
	trigger := env.now
	// Recipient never registered with the resolver; each attempt burns one
	// slot of the schedule rather than failing outright.
	event := outboxEvent(t, enums.EventOrderShipped, enums.AggregateOrder, orderID, uuid.New())
	require.NoError(t, env.svc.HandleEvent(context.Background(), event))

	env.now = trigger.Add(90 * time.Second)
	delivered, err := env.svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)

	attempt := env.loadAttempt(t, orderID)
	assert.Equal(t, enums.NotificationStatusRetrying, attempt.Status)
	assert.Equal(t, 1, attempt.AttemptCount)
	require.NotNil(t, attempt.NextAttemptAt)
	assert.True(t, attempt.NextAttemptAt.Equal(trigger.Add(120*time.Second)))
	require.NotNil(t, attempt.LastError)
	assert.Contains(t, *attempt.LastError, "delivery channel")

	env.now = trigger.Add(130 * time.Second)
	_, err = env.svc.RunDue(context.Background())
	require.NoError(t, err)
	attempt = env.loadAttempt(t, orderID)
	assert.Equal(t, enums.NotificationStatusRetrying, attempt.Status)
	assert.Equal(t, 2, attempt.AttemptCount)

	env.now = trigger.Add(301 * time.Second)
	_, err = env.svc.RunDue(context.Background())
	require.NoError(t, err)
	attempt = env.loadAttempt(t, orderID)
	assert.Equal(t, enums.NotificationStatusFailed, attempt.Status)
	assert.Equal(t, 3, attempt.AttemptCount)
	assert.Nil(t, attempt.NextAttemptAt)

	// The transport was never reached.
	assert.Equal(t, 0, env.transport.sendCount())
}

func TestRunDueLateBindingDeliversWithinSchedule(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	orderID := uuid.New()
	customerID := uuid.New()
	trigger := env.now
	event := outboxEvent(t, enums.EventOrderShipped, enums.AggregateOrder, orderID, customerID)
	require.NoError(t, env.svc.HandleEvent(context.Background(), event))

	env.now = trigger.Add(90 * time.Second)
	_, err := env.svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, enums.NotificationStatusRetrying, env.loadAttempt(t, orderID).Status)

	// The binding shows up before the schedule runs out.
	env.allowRecipient(customerID)
	env.now = trigger.Add(130 * time.Second)
	delivered, err := env.svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, enums.NotificationStatusSent, env.loadAttempt(t, orderID).Status)
}

func TestCleanupPrunesOldTerminalAttempts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	old := env.now.Add(-60 * 24 * time.Hour)
	sentAt := old

	stale := models.NotificationAttempt{
		ID:          uuid.New(),
		SubjectType: enums.AggregateOrder,
		SubjectID:   uuid.New(),
		Event:       enums.EventOrderShipped,
		TemplateKey: "order_shipped",
		TriggerAt:   old,
		Status:      enums.NotificationStatusSent,
		SentAt:      &sentAt,
	}
	require.NoError(t, env.db.Create(&stale).Error)
	require.NoError(t, env.db.Model(&stale).UpdateColumn("updated_at", old).Error)

	next := env.now.Add(time.Minute)
	live := models.NotificationAttempt{
		ID:            uuid.New(),
		SubjectType:   enums.AggregateOrder,
		SubjectID:     uuid.New(),
		Event:         enums.EventOrderShipped,
		TemplateKey:   "order_shipped",
		TriggerAt:     env.now,
		NextAttemptAt: &next,
		Status:        enums.NotificationStatusScheduled,
	}
	require.NoError(t, env.db.Create(&live).Error)

	removed, err := env.svc.Cleanup(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	var count int64
	require.NoError(t, env.db.Model(&models.NotificationAttempt{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
