package bookmark

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns the fingerprint of a bookmark. Callers must not assume
// fingerprints are unique.
func Digest(url, title string) string {
	sum := sha256.Sum256([]byte(NormalizeURL(url) + "\x00" + title))
	return hex.EncodeToString(sum[:])
}

// AssignFingerprints returns a portable copy of the trees where every
// bookmark carries its fingerprint. Local ids are dropped except on system
// root folders, which must stay identifiable across browsers.
func AssignFingerprints(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, assign(n))
	}
	return out
}

func assign(n Node) Node {
	out := Node{Title: n.Title}
	if n.IsBookmark() {
		out.URL = n.URL
		out.Fingerprint = Digest(n.URL, n.Title)
		return out
	}
	if IsSystemRootFolder(n) {
		out.ID = n.ID
		out.FolderType = systemFolderType(n)
	}
	out.Children = make([]Node, 0, len(n.Children))
	for _, child := range n.Children {
		out.Children = append(out.Children, assign(child))
	}
	return out
}
