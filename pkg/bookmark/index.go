package bookmark

// GlobalIndex is a set of lookup tables over one tree. It is built per
// operation and never persisted.
type GlobalIndex struct {
	ByFingerprint map[string][]*Node
	ByURL         map[string][]*Node
	// FolderByPath is keyed by folder title only; same-named folders in
	// different branches collide and the last one visited wins.
	FolderByPath map[string]*Node
}

// BuildGlobalIndex walks the trees once. The returned pointers alias the
// nodes in the given slice.
func BuildGlobalIndex(nodes []Node) *GlobalIndex {
	idx := &GlobalIndex{
		ByFingerprint: make(map[string][]*Node),
		ByURL:         make(map[string][]*Node),
		FolderByPath:  make(map[string]*Node),
	}
	stack := make([]*Node, 0, len(nodes))
	for i := range nodes {
		stack = append(stack, &nodes[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.IsBookmark() {
			if n.Fingerprint != "" {
				idx.ByFingerprint[n.Fingerprint] = append(idx.ByFingerprint[n.Fingerprint], n)
			}
			key := NormalizeURL(n.URL)
			idx.ByURL[key] = append(idx.ByURL[key], n)
			continue
		}
		if n.Title != "" {
			idx.FolderByPath[n.Title] = n
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, &n.Children[i])
		}
	}
	return idx
}

// HasFingerprint reports whether a bookmark with fingerprint fp is indexed.
func (g *GlobalIndex) HasFingerprint(fp string) bool {
	return len(g.ByFingerprint[fp]) > 0
}
