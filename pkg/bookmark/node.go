// Package bookmark holds the portable bookmark tree and the pure functions the
// sync engine runs over it: URL normalization, system folder matching,
// fingerprints, indexes and structural signatures.
package bookmark

// Folder types for browser-native root folders.
const (
	FolderTypeBar    = "bookmarks-bar"
	FolderTypeOther  = "other"
	FolderTypeMobile = "mobile"
	FolderTypeMenu   = "menu"
)

// Node is a folder or bookmark in a portable tree. A node with a URL is a
// bookmark leaf; a node without one is a folder.
type Node struct {
	Title       string `json:"title"`
	URL         string `json:"url,omitempty"`
	Children    []Node `json:"children,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	ID          string `json:"id,omitempty"`
	FolderType  string `json:"folderType,omitempty"`
	ParentID    string `json:"parentId,omitempty"`
	Index       *int   `json:"index,omitempty"`
}

// IsFolder reports whether n is a folder.
func (n Node) IsFolder() bool {
	return n.URL == ""
}

// IsBookmark reports whether n is a bookmark leaf.
func (n Node) IsBookmark() bool {
	return n.URL != ""
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	out := n
	if n.Index != nil {
		idx := *n.Index
		out.Index = &idx
	}
	if n.Children != nil {
		out.Children = make([]Node, len(n.Children))
		for i, child := range n.Children {
			out.Children[i] = child.Clone()
		}
	}
	return out
}
