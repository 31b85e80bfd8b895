package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rexliu/davmark/pkg/kv"
	"github.com/rexliu/davmark/pkg/webdav"
)

func TestCacheFreshAndStale(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	c := New(store, 30*time.Second, nil)
	now := time.Date(2026, 1, 27, 14, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	latest := Latest{
		File:     webdav.FileInfo{Name: "bookmarks_20260127_140000_edge_2_v1.json.gz", Path: "/b/bookmarks_20260127_140000_edge_2_v1.json.gz"},
		Document: json.RawMessage(`{"data":[]}`),
	}
	c.SetLatestBackup(ctx, latest)
	c.SetBackupList(ctx, []webdav.FileInfo{latest.File})

	got, ok := c.LatestBackup(ctx)
	require.True(t, ok)
	require.Equal(t, latest.File.Path, got.File.Path)
	require.JSONEq(t, `{"data":[]}`, string(got.Document))

	now = now.Add(29 * time.Second)
	files, ok := c.BackupList(ctx)
	require.True(t, ok)
	require.Len(t, files, 1)

	now = now.Add(time.Second)
	_, ok = c.LatestBackup(ctx)
	require.False(t, ok, "entry at TTL is stale")
	_, present := store.Snapshot()[string(KindLatestBackup)]
	require.False(t, present, "stale entry is evicted")
}

func TestCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	c := New(store, time.Minute, nil)
	c.SetLatestBackup(ctx, Latest{})
	c.SetBackupList(ctx, nil)

	c.Invalidate(ctx, KindBackupList)
	_, ok := c.BackupList(ctx)
	require.False(t, ok)
	_, ok = c.LatestBackup(ctx)
	require.True(t, ok)

	c.Invalidate(ctx)
	_, ok = c.LatestBackup(ctx)
	require.False(t, ok)
}

func TestDisabledCacheAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	c := New(nil, time.Minute, nil)
	require.False(t, c.Enabled())
	c.SetLatestBackup(ctx, Latest{})
	c.SetBackupList(ctx, []webdav.FileInfo{{Name: "x"}})
	c.Invalidate(ctx)
	_, ok := c.LatestBackup(ctx)
	require.False(t, ok)
	_, ok = c.BackupList(ctx)
	require.False(t, ok)
}
