// Package cache keeps short-lived copies of remote listings and the latest
// backup document in the session store.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rexliu/davmark/pkg/kv"
	"github.com/rexliu/davmark/pkg/webdav"
)

// DefaultTTL is how long an entry stays fresh.
const DefaultTTL = 30 * time.Second

// Kind names one cache entry.
type Kind string

const (
	KindLatestBackup Kind = "latestBackup"
	KindBackupList   Kind = "backupList"
)

// Latest is the newest remote backup file with its decoded JSON document.
type Latest struct {
	File     webdav.FileInfo `json:"file"`
	Document json.RawMessage `json:"document"`
}

type latestEntry struct {
	Latest
	CachedAt int64 `json:"cachedAt"`
}

type listEntry struct {
	Files    []webdav.FileInfo `json:"files"`
	CachedAt int64             `json:"cachedAt"`
}

// Cache is a read-through cache. A Cache built without a store is disabled:
// every read misses and every write is dropped.
type Cache struct {
	store  kv.Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// New returns a cache over store. store may be nil.
func New(store kv.Store, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{store: store, ttl: ttl, now: time.Now, logger: logger}
}

// Enabled reports whether a backing store is present.
func (c *Cache) Enabled() bool { return c != nil && c.store != nil }

// LatestBackup returns the cached latest backup if it is still fresh.
func (c *Cache) LatestBackup(ctx context.Context) (Latest, bool) {
	var e latestEntry
	if !c.read(ctx, KindLatestBackup, &e, func() int64 { return e.CachedAt }) {
		return Latest{}, false
	}
	return e.Latest, true
}

// SetLatestBackup stores v.
func (c *Cache) SetLatestBackup(ctx context.Context, v Latest) {
	c.write(ctx, KindLatestBackup, latestEntry{Latest: v, CachedAt: c.now().UnixMilli()})
}

// BackupList returns the cached backup listing if it is still fresh.
func (c *Cache) BackupList(ctx context.Context) ([]webdav.FileInfo, bool) {
	var e listEntry
	if !c.read(ctx, KindBackupList, &e, func() int64 { return e.CachedAt }) {
		return nil, false
	}
	return e.Files, true
}

// SetBackupList stores files.
func (c *Cache) SetBackupList(ctx context.Context, files []webdav.FileInfo) {
	c.write(ctx, KindBackupList, listEntry{Files: files, CachedAt: c.now().UnixMilli()})
}

// Invalidate drops the named entries, or both when kinds is empty.
func (c *Cache) Invalidate(ctx context.Context, kinds ...Kind) {
	if !c.Enabled() {
		return
	}
	if len(kinds) == 0 {
		kinds = []Kind{KindLatestBackup, KindBackupList}
	}
	keys := make([]string, len(kinds))
	for i, k := range kinds {
		keys[i] = string(k)
	}
	if err := c.store.Remove(ctx, keys...); err != nil {
		c.logger.Warn("cache invalidate failed", "keys", keys, "err", err)
	}
}

func (c *Cache) read(ctx context.Context, kind Kind, out any, cachedAt func() int64) bool {
	if !c.Enabled() {
		return false
	}
	found, err := kv.GetJSON(ctx, c.store, string(kind), out)
	if err != nil {
		c.logger.Warn("cache read failed", "key", kind, "err", err)
		return false
	}
	if !found {
		return false
	}
	age := c.now().Sub(time.UnixMilli(cachedAt()))
	if age >= c.ttl {
		if err := c.store.Remove(ctx, string(kind)); err != nil {
			c.logger.Warn("cache evict failed", "key", kind, "err", err)
		}
		return false
	}
	return true
}

func (c *Cache) write(ctx context.Context, kind Kind, v any) {
	if !c.Enabled() {
		return
	}
	if err := kv.SetJSON(ctx, c.store, string(kind), v); err != nil {
		c.logger.Warn("cache write failed", "key", kind, "err", err)
	}
}
