package core

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrInvalidParent indicates a parent that does not exist or is not a folder.
	ErrInvalidParent = errors.New("invalid parent")
	// ErrCycleDetected indicates a move that would introduce a cycle.
	ErrCycleDetected = errors.New("cycle detected")
	// ErrRootImmutable indicates an operation touched the root or a system folder.
	ErrRootImmutable = errors.New("root immutable")
	// ErrInvalidNode indicates the referenced node does not exist or is wrong type.
	ErrInvalidNode = errors.New("invalid node")
	// ErrInvalidIndex indicates a provided index is out of range.
	ErrInvalidIndex = errors.New("invalid index")
	// ErrInvalidURL indicates URL validation failure.
	ErrInvalidURL = errors.New("invalid url")
	// ErrFolderNotEmpty indicates a non-recursive delete of a folder with children.
	ErrFolderNotEmpty = errors.New("folder not empty")
)

// URLSchemes are the schemes accepted for bookmark URLs. Trees pulled from
// other browsers carry bookmarklets and local files, so the list is wider
// than http and https.
var URLSchemes = map[string]bool{
	"http":       true,
	"https":      true,
	"ftp":        true,
	"file":       true,
	"javascript": true,
	"chrome":     true,
	"edge":       true,
	"about":      true,
	"place":      true,
}

// OpError reports which op of a batch failed validation.
type OpError struct {
	Index int
	Op    string
	ID    string
	Err   error
}

func (e *OpError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("op %d (%s) on %s: %v", e.Index, e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("op %d (%s): %v", e.Index, e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// ValidateOps checks a batch against tree before it reaches storage. Ops are
// applied to a scratch copy in order, so later ops see earlier moves and
// deletes.
func ValidateOps(tree Tree, ops []Op) error {
	state := newTreeState(tree)
	for i, op := range ops {
		if err := state.check(op); err != nil {
			name, id := describeOp(op)
			return &OpError{Index: i, Op: name, ID: id, Err: err}
		}
	}
	return nil
}

func describeOp(op Op) (string, string) {
	switch v := op.(type) {
	case AddFolderOp:
		return "add_folder", v.ParentID
	case AddBookmarkOp:
		return "add_bookmark", v.ParentID
	case RenameNodeOp:
		return "rename_node", v.NodeID
	case MoveNodeOp:
		return "move_node", v.NodeID
	case DeleteNodeOp:
		return "delete_node", v.NodeID
	case UpdateBookmarkOp:
		return "update_bookmark", v.NodeID
	case SaveSessionOp:
		return "save_session", v.ParentID
	default:
		return fmt.Sprintf("%T", op), ""
	}
}

func (s *treeState) check(op Op) error {
	switch v := op.(type) {
	case AddFolderOp:
		return s.checkInsert(v.ParentID, v.Index)
	case AddBookmarkOp:
		if err := s.checkInsert(v.ParentID, v.Index); err != nil {
			return err
		}
		return ValidateURL(v.URL)
	case RenameNodeOp:
		_, err := s.mutable(v.NodeID)
		return err
	case MoveNodeOp:
		node, err := s.mutable(v.NodeID)
		if err != nil {
			return err
		}
		if err := s.checkInsert(v.NewParentID, v.NewIndex); err != nil {
			return err
		}
		if s.isDescendant(v.NewParentID, node.ID) {
			return ErrCycleDetected
		}
		s.detach(node.ID)
		node.ParentID = &v.NewParentID
		s.children[v.NewParentID] = append(s.children[v.NewParentID], node.ID)
		return nil
	case DeleteNodeOp:
		node, err := s.mutable(v.NodeID)
		if err != nil {
			return err
		}
		if node.Kind == KindFolder && !v.Recursive && len(s.children[node.ID]) > 0 {
			return ErrFolderNotEmpty
		}
		s.detach(node.ID)
		delete(s.nodes, node.ID)
		return nil
	case UpdateBookmarkOp:
		node, err := s.mutable(v.NodeID)
		if err != nil {
			return err
		}
		if node.Kind != KindBookmark {
			return ErrInvalidNode
		}
		if v.URL != nil {
			return ValidateURL(*v.URL)
		}
		return nil
	case SaveSessionOp:
		if err := s.checkInsert(v.ParentID, v.Index); err != nil {
			return err
		}
		for _, tab := range v.Tabs {
			if err := ValidateURL(tab.URL); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.New("unsupported op")
	}
}

// ValidateURL accepts absolute URLs with a scheme from URLSchemes.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return ErrInvalidURL
	}
	parsed, err := url.Parse(raw)
	if err != nil || !URLSchemes[strings.ToLower(parsed.Scheme)] {
		return ErrInvalidURL
	}
	return nil
}

type treeState struct {
	nodes    map[string]*Node
	children map[string][]string
}

func newTreeState(tree Tree) *treeState {
	s := &treeState{
		nodes:    make(map[string]*Node, len(tree.Nodes)),
		children: make(map[string][]string),
	}
	for id, node := range tree.Nodes {
		n := node
		s.nodes[id] = &n
	}
	for _, node := range s.nodes {
		if node.ParentID != nil {
			s.children[*node.ParentID] = append(s.children[*node.ParentID], node.ID)
		}
	}
	return s
}

// checkInsert requires a non-root folder parent and an index within its
// children.
func (s *treeState) checkInsert(parentID string, index *int) error {
	node, ok := s.nodes[parentID]
	if !ok || parentID == RootID || node.Kind != KindFolder {
		return ErrInvalidParent
	}
	if index != nil && (*index < 0 || *index > len(s.children[parentID])) {
		return ErrInvalidIndex
	}
	return nil
}

// mutable returns the node with id unless it is missing or a system folder.
func (s *treeState) mutable(id string) (*Node, error) {
	node, ok := s.nodes[id]
	if !ok {
		return nil, ErrInvalidNode
	}
	if IsSystemID(id) {
		return nil, ErrRootImmutable
	}
	return node, nil
}

func (s *treeState) isDescendant(candidate, ancestor string) bool {
	for {
		if candidate == ancestor {
			return true
		}
		node, ok := s.nodes[candidate]
		if !ok || node.ParentID == nil {
			return false
		}
		candidate = *node.ParentID
	}
}

func (s *treeState) detach(id string) {
	node := s.nodes[id]
	if node == nil || node.ParentID == nil {
		return
	}
	siblings := s.children[*node.ParentID]
	for i, child := range siblings {
		if child == id {
			s.children[*node.ParentID] = append(siblings[:i:i], siblings[i+1:]...)
			return
		}
	}
}
