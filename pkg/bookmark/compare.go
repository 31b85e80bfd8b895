package bookmark

import (
	"slices"
	"strconv"
)

// CountBookmarks returns the number of bookmark leaves in the trees.
func CountBookmarks(nodes []Node) int {
	total := 0
	for _, n := range nodes {
		if n.IsBookmark() {
			total++
			continue
		}
		total += CountBookmarks(n.Children)
	}
	return total
}

// ExtractSignatures flattens the trees into canonical tokens in traversal
// order: "B|<fingerprint>" per bookmark and "F|<title>|<childCount>" per
// folder. System root folders contribute only through their children.
// Bookmarks without a fingerprint are hashed on the fly.
func ExtractSignatures(nodes []Node) []string {
	var out []string
	var walk func([]Node)
	walk = func(list []Node) {
		for _, n := range list {
			if n.IsBookmark() {
				fp := n.Fingerprint
				if fp == "" {
					fp = Digest(n.URL, n.Title)
				}
				out = append(out, "B|"+fp)
				continue
			}
			if !IsSystemRootFolder(n) {
				out = append(out, "F|"+n.Title+"|"+strconv.Itoa(len(n.Children)))
			}
			walk(n.Children)
		}
	}
	walk(nodes)
	return out
}

// SignaturesEqual reports whether two trees are structurally identical.
func SignaturesEqual(a, b []Node) bool {
	return slices.Equal(ExtractSignatures(a), ExtractSignatures(b))
}
