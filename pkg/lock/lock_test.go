package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rexliu/davmark/pkg/kv"
)

func newTestLock(store kv.Store) *Lock {
	l := New(store, nil)
	l.settle = 5 * time.Millisecond
	return l
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	l := newTestLock(kv.NewMemory())

	id, ok, err := l.Acquire(ctx, "manual")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, id)

	rec, found, err := l.Status(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "manual", rec.Holder)
	require.Equal(t, id, rec.LockID)

	_, ok, err = l.Acquire(ctx, "auto")
	require.NoError(t, err)
	require.False(t, ok, "held lock is not stolen")

	released, err := l.Release(ctx, "auto", "")
	require.NoError(t, err)
	require.False(t, released, "other holder cannot release")

	released, err = l.Release(ctx, "manual", id)
	require.NoError(t, err)
	require.True(t, released)

	released, err = l.Release(ctx, "manual", id)
	require.NoError(t, err)
	require.False(t, released, "release without a lock is a no-op")
}

func TestConcurrentAcquireAtMostOneWins(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		l := New(store, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := l.Acquire(ctx, "auto")
			require.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, wins.Load(), int32(1))

	shared := newTestLock(kv.NewMemory())
	wins.Store(0)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := shared.Acquire(ctx, "scheduled"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func TestExpiredLockIsTakenOver(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	now := time.Date(2026, 1, 27, 12, 0, 0, 0, time.UTC)

	stale := newTestLock(store)
	stale.now = func() time.Time { return now }
	_, ok, err := stale.Acquire(ctx, "scheduled")
	require.NoError(t, err)
	require.True(t, ok)

	fresh := newTestLock(store)
	fresh.now = func() time.Time { return now.Add(59 * time.Second) }
	_, ok, err = fresh.Acquire(ctx, "manual")
	require.NoError(t, err)
	require.False(t, ok)

	fresh.now = func() time.Time { return now.Add(DefaultTimeout) }
	_, ok, err = fresh.Acquire(ctx, "manual")
	require.NoError(t, err)
	require.True(t, ok, "expired lock is taken over without release")

	rec, _, err := fresh.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, "manual", rec.Holder)
}

func TestStaleReleaseKeepsNewerLock(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	now := time.Date(2026, 1, 27, 12, 0, 0, 0, time.UTC)

	first := newTestLock(store)
	first.now = func() time.Time { return now }
	older, ok, err := first.Acquire(ctx, "auto")
	require.NoError(t, err)
	require.True(t, ok)

	// Same holder category, new lock after the first one expired.
	second := newTestLock(store)
	second.now = func() time.Time { return now.Add(2 * DefaultTimeout) }
	newer, ok, err := second.Acquire(ctx, "auto")
	require.NoError(t, err)
	require.True(t, ok)

	released, err := first.Release(ctx, "auto", older)
	require.NoError(t, err)
	require.False(t, released, "strict release must not clear a newer lock")

	rec, found, err := first.Status(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, newer, rec.LockID)

	released, err = second.Release(ctx, "auto", newer)
	require.NoError(t, err)
	require.True(t, released)
}

func TestStaleReleaseOnSharedLock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 27, 12, 0, 0, 0, time.UTC)
	l := newTestLock(kv.NewMemory())
	l.now = func() time.Time { return now }

	slow, ok, err := l.Acquire(ctx, "auto")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * DefaultTimeout)
	takeover, ok, err := l.Acquire(ctx, "auto")
	require.NoError(t, err)
	require.True(t, ok, "expired lock is taken over")
	require.NotEqual(t, slow, takeover)

	released, err := l.Release(ctx, "auto", slow)
	require.NoError(t, err)
	require.False(t, released, "late release of the expired lock")

	rec, found, err := l.Status(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, takeover, rec.LockID)

	_, ok, err = l.Acquire(ctx, "manual")
	require.NoError(t, err)
	require.False(t, ok, "newer lock still excludes other triggers")

	released, err = l.Release(ctx, "auto", takeover)
	require.NoError(t, err)
	require.True(t, released)
}

func TestDegradedReleaseMatchesHolderOnly(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()

	owner := newTestLock(store)
	_, ok, err := owner.Acquire(ctx, "manual")
	require.NoError(t, err)
	require.True(t, ok)

	// A restarted process lost the lockId.
	restarted := newTestLock(store)
	released, err := restarted.Release(ctx, "auto", "")
	require.NoError(t, err)
	require.False(t, released)

	released, err = restarted.Release(ctx, "manual", "")
	require.NoError(t, err)
	require.True(t, released)

	locked, err := owner.Locked(ctx)
	require.NoError(t, err)
	require.False(t, locked)
}

func TestAcquireHonoursContext(t *testing.T) {
	l := New(kv.NewMemory(), nil)
	l.settle = time.Second
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := l.Acquire(ctx, "manual")
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, ok)

	_, found, err := l.Status(context.Background())
	require.NoError(t, err)
	require.False(t, found, "unverified record is removed")
}
