// Package snapshot keeps local rollback points of the bookmark tree.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rexliu/davmark/pkg/bookmark"
	"github.com/rexliu/davmark/pkg/core"
	"github.com/rexliu/davmark/pkg/kv"
)

const (
	// Key is the durable store key holding all snapshots.
	Key = "snapshots"
	// DefaultCapacity is the number of snapshots kept.
	DefaultCapacity = 10
	// DefaultReason labels snapshots created without an explicit reason.
	DefaultReason = "auto-backup"
)

// ErrNotFound is returned when no snapshot has the requested id.
var ErrNotFound = errors.New("snapshot: not found")

// Snapshot is one stored copy of the tree.
type Snapshot struct {
	ID        string          `json:"id"`
	Tree      []bookmark.Node `json:"tree"`
	Count     int             `json:"count"`
	Reason    string          `json:"reason"`
	Timestamp int64           `json:"timestamp"`
}

// Store is a capacity-bounded log of snapshots. Entries are kept in
// creation order; the oldest is evicted first.
type Store struct {
	kv       kv.Store
	capacity int
	now      func() time.Time

	mu sync.Mutex
}

// NewStore returns a Store keeping at most capacity snapshots.
func NewStore(store kv.Store, capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{kv: store, capacity: capacity, now: time.Now}
}

// Create appends a snapshot of tree and evicts the oldest entries over capacity.
func (s *Store) Create(ctx context.Context, tree []bookmark.Node, count int, reason string) (Snapshot, error) {
	if reason == "" {
		reason = DefaultReason
	}
	snap := Snapshot{
		ID:        core.NewSnapshotID(),
		Tree:      tree,
		Count:     count,
		Reason:    reason,
		Timestamp: s.now().UnixMilli(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	all = append(all, snap)
	if over := len(all) - s.capacity; over > 0 {
		all = all[over:]
	}
	if err := s.save(ctx, all); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Latest returns the newest snapshot.
func (s *Store) Latest(ctx context.Context) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load(ctx)
	if err != nil || len(all) == 0 {
		return Snapshot{}, false, err
	}
	return all[len(all)-1], true, nil
}

// All returns every snapshot, newest first.
func (s *Store) All(ctx context.Context) ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	slices.Reverse(all)
	return all, nil
}

// Get returns the snapshot with id.
func (s *Store) Get(ctx context.Context, id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	i := slices.IndexFunc(all, func(snap Snapshot) bool { return snap.ID == id })
	if i < 0 {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return all[i], nil
}

// Delete removes the snapshot with id. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load(ctx)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(all, func(snap Snapshot) bool { return snap.ID == id })
	return s.save(ctx, kept)
}

// DeleteAll removes every snapshot.
func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Remove(ctx, Key)
}

// Count returns the number of stored snapshots.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load(ctx)
	return len(all), err
}

func (s *Store) load(ctx context.Context) ([]Snapshot, error) {
	var all []Snapshot
	if _, err := kv.GetJSON(ctx, s.kv, Key, &all); err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	return all, nil
}

func (s *Store) save(ctx context.Context, all []Snapshot) error {
	if err := kv.SetJSON(ctx, s.kv, Key, all); err != nil {
		return fmt.Errorf("save snapshots: %w", err)
	}
	return nil
}
