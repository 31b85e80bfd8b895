package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rexliu/davmark/pkg/bookmark"
	"github.com/rexliu/davmark/pkg/config"
	"github.com/rexliu/davmark/pkg/core"
	"github.com/rexliu/davmark/pkg/ipc"
	"github.com/rexliu/davmark/pkg/kv"
	"github.com/rexliu/davmark/pkg/scheduler"
	"github.com/rexliu/davmark/pkg/snapshot"
	"github.com/rexliu/davmark/pkg/storage/sqlite"
	"github.com/rexliu/davmark/pkg/syncer"
)

func newTestDaemon(t *testing.T) *daemon {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlite.Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Init(context.Background()))

	logger := slog.New(slog.DiscardHandler)
	d := &daemon{
		profileDir: dir,
		cfg:        config.DefaultProfile("test"),
		store:      store,
		snapshots:  snapshot.NewStore(store.KV(), 5),
		sched:      scheduler.New(logger),
		changes:    newChangeHub(logger),
		logger:     logger,
	}
	t.Cleanup(d.sched.Stop)
	require.NoError(t, d.setupSync(kv.NewMemory()))
	return d
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestApplyOpsJournalsAndPublishes(t *testing.T) {
	d := newTestDaemon(t)
	events := d.changes.subscribe()
	defer d.changes.unsubscribe(events)
	ctx := context.Background()

	_, rpcErr := d.handleApplyOps(ctx, raw(t, map[string]any{
		"ops": []map[string]any{{"type": "add_bookmark", "parentId": core.BarID, "title": "Go", "url": "https://go.dev"}},
	}))
	require.Nil(t, rpcErr)

	select {
	case ev := <-events:
		require.Equal(t, "ipc", ev.Source)
	case <-time.After(time.Second):
		t.Fatal("no change event")
	}

	data, err := os.ReadFile(d.snapshotPath())
	require.NoError(t, err)
	var tree []bookmark.Node
	require.NoError(t, json.Unmarshal(data, &tree))
	require.Equal(t, 1, bookmark.CountBookmarks(tree))
}

func TestApplyOpsRejectsInvalidBatch(t *testing.T) {
	d := newTestDaemon(t)
	_, rpcErr := d.handleApplyOps(context.Background(), raw(t, map[string]any{
		"ops": []map[string]any{{"type": "delete_node", "nodeId": core.BarID}},
	}))
	require.NotNil(t, rpcErr)
	require.Equal(t, ipc.CodeValidationFailed, rpcErr.Code)
	require.Contains(t, rpcErr.Message, "root immutable")

	_, rpcErr = d.handleApplyOps(context.Background(), raw(t, map[string]any{"ops": []any{}}))
	require.Equal(t, ipc.CodeInvalidRequest, rpcErr.Code)
}

func TestSyncHandlersNeedRemote(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()
	for name, h := range map[string]ipc.HandlerFunc{
		"push":    d.handleSyncPush,
		"pull":    d.handleSyncPull,
		"smart":   d.handleSyncSmart,
		"test":    d.handleRemoteTest,
		"backups": d.handleBackupsList,
	} {
		t.Run(name, func(t *testing.T) {
			_, rpcErr := h(ctx, nil)
			require.NotNil(t, rpcErr)
			require.Equal(t, ipc.CodeRemoteNotConfigured, rpcErr.Code)
		})
	}

	res, rpcErr := d.handleSyncStatus(ctx, nil)
	require.Nil(t, rpcErr)
	require.Equal(t, map[string]any{"configured": false}, res)
}

func TestSnapshotRestoreWithoutRemote(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()

	tree, err := d.store.GetTree(ctx)
	require.NoError(t, err)
	snap, err := d.snapshots.Create(ctx, tree, 0, "manual")
	require.NoError(t, err)

	_, err = d.store.Create(ctx, core.OtherID, bookmark.Node{Title: "later", URL: "https://example.com/later"})
	require.NoError(t, err)

	out, rpcErr := d.handleSnapshotRestore(ctx, raw(t, map[string]string{"id": snap.ID}))
	require.Nil(t, rpcErr)
	res := out.(syncer.Result)
	require.True(t, res.Success, res.Message)
	require.Equal(t, syncer.ActionRestored, res.Action)

	after, err := d.store.GetTree(ctx)
	require.NoError(t, err)
	require.Zero(t, bookmark.CountBookmarks(after))

	_, rpcErr = d.handleSnapshotRestore(ctx, raw(t, map[string]string{"id": "missing"}))
	require.Equal(t, ipc.CodeNotFound, rpcErr.Code)
}

func TestDecodeSyncParams(t *testing.T) {
	p, rpcErr := decodeSyncParams(nil)
	require.Nil(t, rpcErr)
	require.Empty(t, p.Trigger)

	p, rpcErr = decodeSyncParams(json.RawMessage(`{"trigger":"auto","mode":"merge"}`))
	require.Nil(t, rpcErr)
	require.Equal(t, syncer.TriggerAuto, p.Trigger)
	require.Equal(t, syncer.PullMerge, p.Mode)

	_, rpcErr = decodeSyncParams(json.RawMessage(`{"trigger":"cron"}`))
	require.Equal(t, ipc.CodeInvalidRequest, rpcErr.Code)
	_, rpcErr = decodeSyncParams(json.RawMessage(`{"mode":"replace"}`))
	require.Equal(t, ipc.CodeInvalidRequest, rpcErr.Code)
}

func TestChangeHubDropsForSlowSubscriber(t *testing.T) {
	hub := newChangeHub(slog.New(slog.DiscardHandler))
	ch := hub.subscribe()
	for range cap(ch) + 5 {
		hub.publish(changeEvent{Source: "file"})
	}
	require.Len(t, ch, cap(ch))
	ev := <-ch
	require.False(t, ev.At.IsZero())

	hub.unsubscribe(ch)
	hub.unsubscribe(ch)
	_, open := <-drain(ch)
	require.False(t, open)
}

func drain(ch chan changeEvent) chan changeEvent {
	for len(ch) > 0 {
		<-ch
	}
	return ch
}

func TestWatchStorePublishesDatabaseWrites(t *testing.T) {
	d := newTestDaemon(t)
	events := d.changes.subscribe()
	defer d.changes.unsubscribe(events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop, err := d.watchStore(ctx, d.store.Path())
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(filepath.Join(d.profileDir, "unrelated.txt"), []byte("x"), 0o600))
	_, err = d.store.Create(context.Background(), core.BarID, bookmark.Node{Title: "x", URL: "https://example.com"})
	require.NoError(t, err)

	select {
	case ev := <-events:
		require.Equal(t, "file", ev.Source)
	case <-time.After(5 * time.Second):
		t.Fatal("no change event from watcher")
	}
}

func TestWriteSnapshotReplacesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, writeSnapshot(path, []string{"a"}))
	require.NoError(t, writeSnapshot(path, []string{"b"}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `["b"]`, string(data))
	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}
