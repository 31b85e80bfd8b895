package core

// NodeKind enumerates supported node types.
type NodeKind string

const (
	KindFolder   NodeKind = "folder"
	KindBookmark NodeKind = "bookmark"
)

// Fixed ids of the root and the system folders seeded in every profile.
const (
	RootID      = "0"
	BarID       = "1"
	OtherID     = "2"
	MobileID    = "3"
	TreeVersion = "2"
)

// SystemFolder describes one seeded folder under the root.
type SystemFolder struct {
	ID         string
	Title      string
	FolderType string
}

// SystemFolders lists the folders seeded under RootID, in order.
var SystemFolders = []SystemFolder{
	{ID: BarID, Title: "Bookmarks bar", FolderType: "bookmarks-bar"},
	{ID: OtherID, Title: "Other bookmarks", FolderType: "other"},
	{ID: MobileID, Title: "Mobile bookmarks", FolderType: "mobile"},
}

// IsSystemID reports whether id is the root or a seeded system folder.
func IsSystemID(id string) bool {
	if id == RootID {
		return true
	}
	for _, f := range SystemFolders {
		if f.ID == id {
			return true
		}
	}
	return false
}

// Node represents a folder or bookmark in the tree.
type Node struct {
	ID         string   `json:"id"`
	Kind       NodeKind `json:"kind"`
	Title      string   `json:"title"`
	URL        *string  `json:"url,omitempty"`
	ParentID   *string  `json:"parentId"`
	FolderType string   `json:"folderType,omitempty"`
	Ord        float64  `json:"ord"`
	CreatedAt  int64    `json:"createdAt"`
	UpdatedAt  int64    `json:"updatedAt"`
}

// Tree contains a snapshot of the bookmark forest.
type Tree struct {
	Version  string              `json:"version"`
	RootID   string              `json:"rootId"`
	Nodes    map[string]Node     `json:"nodes"`
	Children map[string][]string `json:"children,omitempty"`
}

// Op represents a mutation that can be applied to the tree.
type Op interface {
	isOp()
}

// AddFolderOp creates a folder under ParentID.
type AddFolderOp struct {
	ParentID string `json:"parentId"`
	Title    string `json:"title"`
	Index    *int   `json:"index,omitempty"`
}

func (AddFolderOp) isOp() {}

// AddBookmarkOp creates a bookmark under ParentID.
type AddBookmarkOp struct {
	ParentID string `json:"parentId"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Index    *int   `json:"index,omitempty"`
}

func (AddBookmarkOp) isOp() {}

// RenameNodeOp renames an existing node.
type RenameNodeOp struct {
	NodeID string `json:"nodeId"`
	Title  string `json:"title"`
}

func (RenameNodeOp) isOp() {}

// MoveNodeOp moves a node to a new parent/index.
type MoveNodeOp struct {
	NodeID      string `json:"nodeId"`
	NewParentID string `json:"newParentId"`
	NewIndex    *int   `json:"newIndex,omitempty"`
}

func (MoveNodeOp) isOp() {}

// DeleteNodeOp removes a node and its descendants.
type DeleteNodeOp struct {
	NodeID    string `json:"nodeId"`
	Recursive bool   `json:"recursive"`
}

func (DeleteNodeOp) isOp() {}

// UpdateBookmarkOp updates bookmark metadata.
type UpdateBookmarkOp struct {
	NodeID string  `json:"nodeId"`
	Title  *string `json:"title,omitempty"`
	URL    *string `json:"url,omitempty"`
}

func (UpdateBookmarkOp) isOp() {}

// SaveSessionOp creates a folder with tab captures.
type SaveSessionOp struct {
	ParentID string `json:"parentId"`
	Title    string `json:"title"`
	Tabs     []Tab  `json:"tabs"`
	Index    *int   `json:"index,omitempty"`
}

func (SaveSessionOp) isOp() {}

// Tab represents a browser tab capture.
type Tab struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}
