package core

import (
	"cmp"
	"slices"

	"github.com/rexliu/davmark/pkg/bookmark"
)

// Bookmarks converts the flat tree into the nested form used for sync,
// returning a single-element slice holding the root.
func (t Tree) Bookmarks() []bookmark.Node {
	rootID := t.RootID
	if rootID == "" {
		rootID = RootID
	}
	root, ok := t.Nodes[rootID]
	if !ok {
		return nil
	}
	return []bookmark.Node{t.nest(root, nil)}
}

func (t Tree) nest(n Node, index *int) bookmark.Node {
	out := bookmark.Node{
		ID:         n.ID,
		Title:      n.Title,
		FolderType: n.FolderType,
		Index:      index,
	}
	if n.ParentID != nil {
		out.ParentID = *n.ParentID
	}
	if n.Kind == KindBookmark {
		if n.URL != nil {
			out.URL = *n.URL
		}
		return out
	}
	kids := t.orderedChildren(n.ID)
	out.Children = make([]bookmark.Node, 0, len(kids))
	for i, child := range kids {
		out.Children = append(out.Children, t.nest(child, &i))
	}
	return out
}

func (t Tree) orderedChildren(id string) []Node {
	var kids []Node
	if ids, ok := t.Children[id]; ok {
		kids = make([]Node, 0, len(ids))
		for _, cid := range ids {
			if c, ok := t.Nodes[cid]; ok {
				kids = append(kids, c)
			}
		}
	} else {
		for _, c := range t.Nodes {
			if c.ParentID != nil && *c.ParentID == id {
				kids = append(kids, c)
			}
		}
	}
	slices.SortStableFunc(kids, func(a, b Node) int {
		if c := cmp.Compare(a.Ord, b.Ord); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return kids
}
