package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rexliu/davmark/pkg/bookmark"
	"github.com/rexliu/davmark/pkg/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return store
}

func TestStoreApplyOps(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	ops := []core.Op{
		core.AddFolderOp{ParentID: core.BarID, Title: "Projects"},
		core.AddBookmarkOp{ParentID: core.BarID, Title: "Example", URL: "https://example.com"},
	}
	tree, err := store.ApplyOps(ctx, ops)
	if err != nil {
		t.Fatalf("apply ops: %v", err)
	}
	if len(tree.Nodes) != 6 {
		t.Fatalf("expected 6 nodes, got %d", len(tree.Nodes))
	}

	folderID, bookmarkID := findByTitle(tree, "Projects"), findByTitle(tree, "Example")
	if folderID == "" || bookmarkID == "" {
		t.Fatal("missing inserted nodes")
	}

	moveTree, err := store.ApplyOps(ctx, []core.Op{
		core.MoveNodeOp{NodeID: bookmarkID, NewParentID: folderID},
	})
	if err != nil {
		t.Fatalf("move apply: %v", err)
	}
	parent := moveTree.Nodes[bookmarkID].ParentID
	if parent == nil || *parent != folderID {
		t.Fatalf("expected bookmark parent %s, got %v", folderID, parent)
	}
}

func TestSeededLayout(t *testing.T) {
	store := openTestStore(t)
	nested, err := store.GetTree(context.Background())
	if err != nil {
		t.Fatalf("get tree: %v", err)
	}
	if len(nested) != 1 || nested[0].ID != core.RootID {
		t.Fatalf("unexpected root %+v", nested)
	}
	var types []string
	for _, f := range nested[0].Children {
		types = append(types, f.FolderType)
		if !bookmark.IsSystemRootFolder(f) {
			t.Fatalf("%s not recognised as system root", f.ID)
		}
	}
	want := []string{bookmark.FolderTypeBar, bookmark.FolderTypeOther, bookmark.FolderTypeMobile}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, types)
		}
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("re-init: %v", err)
	}
}

func TestCreateChildrenAndRemove(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	clock := time.UnixMilli(1_700_000_000_000)
	store.now = func() time.Time { return clock }

	if lm, err := store.LastModified(ctx); err != nil || !lm.IsZero() {
		t.Fatalf("fresh store lastModified = %v, %v", lm, err)
	}

	folderID, err := store.Create(ctx, core.OtherID, bookmark.Node{Title: "Reading"})
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}
	clock = clock.Add(time.Second)
	if _, err := store.Create(ctx, folderID, bookmark.Node{Title: "Go", URL: "https://go.dev"}); err != nil {
		t.Fatalf("create bookmark: %v", err)
	}
	if _, err := store.Create(ctx, folderID, bookmark.Node{Title: "Blog", URL: "https://go.dev/blog"}); err != nil {
		t.Fatalf("create bookmark: %v", err)
	}
	lm, err := store.LastModified(ctx)
	if err != nil || !lm.Equal(clock) {
		t.Fatalf("expected lastModified %v, got %v (%v)", clock, lm, err)
	}

	kids, err := store.GetChildren(ctx, folderID)
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(kids) != 2 || kids[0].Title != "Go" || kids[1].Title != "Blog" || *kids[1].Index != 1 {
		t.Fatalf("unexpected children %+v", kids)
	}

	if _, err := store.Create(ctx, core.RootID, bookmark.Node{Title: "x"}); !errors.Is(err, core.ErrInvalidParent) {
		t.Fatalf("expected ErrInvalidParent under root, got %v", err)
	}
	if _, err := store.Create(ctx, kids[0].ID, bookmark.Node{Title: "x"}); !errors.Is(err, core.ErrInvalidParent) {
		t.Fatalf("expected ErrInvalidParent under bookmark, got %v", err)
	}

	if err := store.RemoveTree(ctx, folderID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.RemoveTree(ctx, folderID); err != nil {
		t.Fatalf("second remove must be a no-op: %v", err)
	}
	if err := store.RemoveTree(ctx, core.BarID); !errors.Is(err, core.ErrRootImmutable) {
		t.Fatalf("expected ErrRootImmutable, got %v", err)
	}
	tree, err := store.LoadTree(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tree.Nodes) != 4 {
		t.Fatalf("expected descendants removed, %d nodes left", len(tree.Nodes))
	}
}

func TestInsertBetweenRebalances(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	zero := 0
	one := 1
	if _, err := store.ApplyOps(ctx, []core.Op{
		core.AddBookmarkOp{ParentID: core.BarID, Title: "a", URL: "https://a.example"},
		core.AddBookmarkOp{ParentID: core.BarID, Title: "c", URL: "https://c.example"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for i := 0; i < 60; i++ {
		if _, err := store.ApplyOps(ctx, []core.Op{
			core.AddBookmarkOp{ParentID: core.BarID, Title: "b", URL: "https://b.example", Index: &one},
		}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if _, err := store.ApplyOps(ctx, []core.Op{
		core.AddBookmarkOp{ParentID: core.BarID, Title: "first", URL: "https://first.example", Index: &zero},
	}); err != nil {
		t.Fatalf("insert first: %v", err)
	}
	kids, err := store.GetChildren(ctx, core.BarID)
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(kids) != 63 || kids[0].Title != "first" || kids[1].Title != "a" || kids[62].Title != "c" {
		t.Fatalf("order broken: first=%s second=%s last=%s", kids[0].Title, kids[1].Title, kids[len(kids)-1].Title)
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if _, err := store.ApplyOps(ctx, []core.Op{
		core.AddBookmarkOp{ParentID: core.BarID, Title: "Go Docs", URL: "https://go.dev/doc"},
		core.AddBookmarkOp{ParentID: core.BarID, Title: "Rust", URL: "https://rust-lang.org"},
		core.AddBookmarkOp{ParentID: core.BarID, Title: "100% pure", URL: "https://pure.example"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	matches, err := store.Search(ctx, "GO.DEV", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 || matches[0].Title != "Go Docs" {
		t.Fatalf("unexpected matches %+v", matches)
	}
	matches, err = store.Search(ctx, "%", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 || matches[0].Title != "100% pure" {
		t.Fatalf("wildcard not escaped: %+v", matches)
	}
}

func TestKV(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	kv := store.KV()

	if err := kv.Set(ctx, map[string][]byte{"syncLock": []byte(`{"holder":"manual"}`), "syncState": []byte(`{}`)}); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := kv.Get(ctx, "syncLock", "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 || string(got["syncLock"]) != `{"holder":"manual"}` {
		t.Fatalf("unexpected values %v", got)
	}
	if err := kv.Remove(ctx, "syncLock"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, err = kv.Get(ctx, "syncLock", "syncState", "schemaVersion")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := got["syncLock"]; ok {
		t.Fatal("removed key still present")
	}
	if _, ok := got["schemaVersion"]; ok {
		t.Fatal("internal meta keys must not leak through KV")
	}
}

func findByTitle(tree core.Tree, title string) string {
	for id, node := range tree.Nodes {
		if node.Title == title {
			return id
		}
	}
	return ""
}
