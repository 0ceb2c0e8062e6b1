package locking_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/testinfra"
	"github.com/Ramsey-B/fern/pkg/locking"
)

func exerciseLocker(t *testing.T, locker locking.RunLocker) {
	t.Helper()
	ctx := context.Background()
	key := locking.KeyFor(uuid.New())

	lease, err := locker.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = locker.TryAcquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, locking.ErrLocked)

	other, err := locker.TryAcquire(ctx, locking.KeyFor(uuid.New()), time.Minute)
	require.NoError(t, err, "different configurations do not contend")
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))

	again, err := locker.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryLocker(t *testing.T) {
	exerciseLocker(t, locking.NewMemoryLocker())
}

func TestMemoryLocker_ExpiredLeaseIsTakenOver(t *testing.T) {
	locker := locking.NewMemoryLocker()
	ctx := context.Background()

	stale, err := locker.TryAcquire(ctx, "k", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	fresh, err := locker.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, stale.Release(ctx), locking.ErrNotHeld)
	require.NoError(t, fresh.Release(ctx))
}

func TestFileLocker(t *testing.T) {
	locker, err := locking.NewFileLocker(t.TempDir())
	require.NoError(t, err)
	exerciseLocker(t, locker)
}

func TestRedisLocker(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	addr := os.Getenv("FERN_TEST_REDIS_ADDR")
	if addr == "" {
		testinfra.Require(t)
		var err error
		addr, err = testinfra.StartRedis(context.Background(), t)
		require.NoError(t, err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	exerciseLocker(t, locking.NewRedisLockerFromClient(rdb, "fern:test:lock:", logger))
}
