package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goredis "github.com/redis/go-redis/v9"
)

type fakeLockStore struct {
	values map[string]string
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{values: map[string]string{}}
}

func (f *fakeLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, exists := f.values[key]; exists {
		return false, nil
	}
	f.values[key] = value.(string)
	return true, nil
}

func (f *fakeLockStore) Get(_ context.Context, key string) (string, error) {
	value, exists := f.values[key]
	if !exists {
		return "", goredis.Nil
	}
	return value, nil
}

func (f *fakeLockStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.values, key)
	}
	return nil
}

func TestRedisLockMutualExclusion(t *testing.T) {
	t.Parallel()

	store := newFakeLockStore()
	ctx := context.Background()

	first, err := NewRedisLock(store, "gb:lock:notify", time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "gb:lock:notify", time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, second.Release(ctx))
	_, held := store.values["gb:lock:notify"]
	assert.True(t, held, "release by a non-owner must not free the lock")

	require.NoError(t, first.Release(ctx))
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRedisLock(nil, "key", time.Minute)
	assert.Error(t, err)

	_, err = NewRedisLock(newFakeLockStore(), "", time.Minute)
	assert.Error(t, err)
}
