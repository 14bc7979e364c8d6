package runlock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

func TestMemoryLockSingleFlight(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	lock := NewMemory(func() time.Time { return now })
	ctx := context.Background()

	unlock, err := lock.TryLock(ctx, "sync", time.Hour)
	require.NoError(t, err)

	_, err = lock.TryLock(ctx, "sync", time.Hour)
	require.ErrorIs(t, err, catalog.ErrRunInProgress)

	_, err = lock.TryLock(ctx, "other", time.Hour)
	require.NoError(t, err, "keys are independent")

	require.NoError(t, unlock(ctx))
	_, err = lock.TryLock(ctx, "sync", time.Hour)
	require.NoError(t, err)
}

func TestMemoryLockExpires(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	lock := NewMemory(func() time.Time { return now })
	ctx := context.Background()

	staleUnlock, err := lock.TryLock(ctx, "sync", time.Minute)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = lock.TryLock(ctx, "sync", time.Minute)
	require.NoError(t, err, "expired hold must not block")

	require.NoError(t, staleUnlock(ctx))
	_, err = lock.TryLock(ctx, "sync", time.Minute)
	require.ErrorIs(t, err, catalog.ErrRunInProgress, "a stale unlock must not release the new hold")
}

type fakeRedisLock struct {
	held     map[string]string
	released []string
}

func (f *fakeRedisLock) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, ok := f.held[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.held[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedisLock) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	if f.held[keys[0]] == args[0].(string) {
		delete(f.held, keys[0])
		f.released = append(f.released, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisLock(t *testing.T) {
	t.Parallel()

	client := &fakeRedisLock{held: map[string]string{}}
	lock := NewRedis(client, "catalog:lock:")
	ctx := context.Background()

	unlock, err := lock.TryLock(ctx, "sync", time.Hour)
	require.NoError(t, err)

	_, err = lock.TryLock(ctx, "sync", time.Hour)
	require.ErrorIs(t, err, catalog.ErrRunInProgress)

	require.NoError(t, unlock(ctx))
	require.Equal(t, []string{"catalog:lock:sync"}, client.released)

	_, err = lock.TryLock(ctx, "sync", time.Hour)
	require.NoError(t, err)
}
