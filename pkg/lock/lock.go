// Package lock implements the sync lock: a mutual-exclusion record kept in
// the durable key-value store.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rexliu/davmark/pkg/kv"
)

const (
	// Key is the durable store key holding the lock record.
	Key = "syncLock"
	// DefaultTimeout is the age after which a lock may be taken over.
	DefaultTimeout = 60 * time.Second
	// DefaultSettle is the pause between writing a lock and verifying it.
	DefaultSettle = 50 * time.Millisecond
)

// Record is the persisted lock.
type Record struct {
	Holder    string `json:"holder"`
	Timestamp int64  `json:"timestamp"`
	LockID    string `json:"lockId"`
}

// Age returns how long ago the record was written.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(r.Timestamp))
}

// Lock acquires and releases the record. Callers keep the lockId returned
// by Acquire and hand it back to Release; a caller that lost it releases by
// holder alone.
type Lock struct {
	store   kv.Store
	timeout time.Duration
	settle  time.Duration
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger

	mu sync.Mutex
}

// New returns a Lock over store.
func New(store kv.Store, logger *slog.Logger) *Lock {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Lock{
		store:   store,
		timeout: DefaultTimeout,
		settle:  DefaultSettle,
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  logger,
	}
}

// Acquire tries to take the lock for holder and returns the lockId it won.
// It never waits for a held lock.
func (l *Lock) Acquire(ctx context.Context, holder string) (string, bool, error) {
	id, ok, err := l.write(ctx, holder)
	if err != nil || !ok {
		return "", false, err
	}

	select {
	case <-time.After(l.settle):
	case <-ctx.Done():
		l.abandon(context.WithoutCancel(ctx), id)
		return "", false, ctx.Err()
	}

	current, found, err := l.Status(ctx)
	if err != nil {
		return "", false, err
	}
	if !found || current.LockID != id {
		l.logger.Info("lock lost to concurrent writer", "holder", holder)
		return "", false, nil
	}
	return id, true, nil
}

// write performs the read-check-write half of Acquire under the instance
// mutex so callers sharing a Lock never interleave between read and write.
func (l *Lock) write(ctx context.Context, holder string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, found, err := l.Status(ctx)
	if err != nil {
		return "", false, err
	}
	now := l.now()
	if found {
		age := current.Age(now)
		if age < l.timeout {
			return "", false, nil
		}
		l.logger.Warn("taking over expired lock",
			"holder", holder, "previousHolder", current.Holder, "age", age, "recovered", true)
	}
	rec := Record{Holder: holder, Timestamp: now.UnixMilli(), LockID: l.newID()}
	if err := kv.SetJSON(ctx, l.store, Key, rec); err != nil {
		return "", false, fmt.Errorf("write lock: %w", err)
	}
	return rec.LockID, true, nil
}

// abandon removes a record this instance wrote but never verified.
func (l *Lock) abandon(ctx context.Context, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	current, found, err := l.Status(ctx)
	if err != nil || !found || current.LockID != id {
		return
	}
	if err := l.store.Remove(ctx, Key); err != nil {
		l.logger.Warn("remove abandoned lock failed", "err", err)
	}
}

// Release clears the lock if holder owns it. With a lockId the stored one
// must match exactly, so an operation whose lock expired and was taken over
// leaves the newer lock alone. An empty lockId compares the holder only. It
// reports whether a record was removed.
func (l *Lock) Release(ctx context.Context, holder, lockID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, found, err := l.Status(ctx)
	if err != nil || !found {
		return false, err
	}
	if current.Holder != holder {
		l.logger.Warn("refusing release: holder mismatch", "holder", holder, "stored", current.Holder)
		return false, nil
	}
	if lockID != "" && lockID != current.LockID {
		l.logger.Warn("refusing release: lock was re-acquired", "holder", holder)
		return false, nil
	}
	if err := l.store.Remove(ctx, Key); err != nil {
		return false, fmt.Errorf("remove lock: %w", err)
	}
	return true, nil
}

// Status returns the stored record.
func (l *Lock) Status(ctx context.Context) (Record, bool, error) {
	var rec Record
	found, err := kv.GetJSON(ctx, l.store, Key, &rec)
	if err != nil {
		return Record{}, false, fmt.Errorf("read lock: %w", err)
	}
	return rec, found, nil
}

// Locked reports whether an unexpired lock is held by anyone.
func (l *Lock) Locked(ctx context.Context) (bool, error) {
	rec, found, err := l.Status(ctx)
	if err != nil || !found {
		return false, err
	}
	return rec.Age(l.now()) < l.timeout, nil
}
