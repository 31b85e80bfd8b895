// Package merge reconciles incoming bookmark trees into the local tree store.
package merge

import (
	"context"
	"log/slog"

	"github.com/rexliu/davmark/pkg/bookmark"
)

// TreeStore is the part of the local tree store the merger writes through.
type TreeStore interface {
	GetChildren(ctx context.Context, id string) ([]bookmark.Node, error)
	Create(ctx context.Context, parentID string, node bookmark.Node) (string, error)
}

// Stats counts what a merge did.
type Stats struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Created += o.Created
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

// Merger applies incoming nodes to a TreeStore without creating duplicates.
type Merger struct {
	store  TreeStore
	logger *slog.Logger
}

// New returns a Merger writing to store.
func New(store TreeStore, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Merger{store: store, logger: logger}
}

// MergeNodes reconciles incoming into the children of parentID. Bookmarks
// match existing bookmarks by normalized URL, folders match existing folders
// by title. Matched bookmarks are left alone, matched folders are merged
// recursively and anything unmatched is created. A node that fails to
// create is logged and skipped.
func (m *Merger) MergeNodes(ctx context.Context, parentID string, incoming []bookmark.Node) (Stats, error) {
	var stats Stats
	for _, node := range incoming {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		existing, err := m.store.GetChildren(ctx, parentID)
		if err != nil {
			return stats, err
		}
		if node.IsBookmark() {
			if hasBookmark(existing, node.URL) {
				stats.Skipped++
				continue
			}
			m.create(ctx, parentID, node, &stats)
			continue
		}
		if folder, ok := findFolder(existing, node.Title); ok {
			sub, err := m.MergeNodes(ctx, folder.ID, node.Children)
			stats.Add(sub)
			if err != nil {
				return stats, err
			}
			continue
		}
		id, ok := m.create(ctx, parentID, node, &stats)
		if !ok {
			continue
		}
		sub, err := m.CreateChildren(ctx, id, node.Children)
		stats.Add(sub)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// CreateChildren creates nodes and all of their descendants under parentID
// without looking for matches.
func (m *Merger) CreateChildren(ctx context.Context, parentID string, nodes []bookmark.Node) (Stats, error) {
	var stats Stats
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		id, ok := m.create(ctx, parentID, node, &stats)
		if !ok || !node.IsFolder() {
			continue
		}
		sub, err := m.CreateChildren(ctx, id, node.Children)
		stats.Add(sub)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (m *Merger) create(ctx context.Context, parentID string, node bookmark.Node, stats *Stats) (string, bool) {
	id, err := m.store.Create(ctx, parentID, bookmark.Node{Title: node.Title, URL: node.URL})
	if err != nil {
		stats.Failed++
		m.logger.Warn("skipping node that failed to create",
			"parent", parentID, "title", node.Title, "url", node.URL, "err", err)
		return "", false
	}
	stats.Created++
	return id, true
}

func hasBookmark(nodes []bookmark.Node, url string) bool {
	want := bookmark.NormalizeURL(url)
	for _, n := range nodes {
		if n.IsBookmark() && bookmark.NormalizeURL(n.URL) == want {
			return true
		}
	}
	return false
}

func findFolder(nodes []bookmark.Node, title string) (bookmark.Node, bool) {
	for _, n := range nodes {
		if n.IsFolder() && n.Title == title {
			return n, true
		}
	}
	return bookmark.Node{}, false
}
