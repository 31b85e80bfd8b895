package bookmark

import (
	"strings"
	"unicode"
)

// Root sentinel ids used by Chromium- and Firefox-family browsers.
const (
	ChromiumRootID   = "0"
	ChromiumBarID    = "1"
	ChromiumOtherID  = "2"
	ChromiumMobileID = "3"

	FirefoxRootID    = "root________"
	FirefoxToolbarID = "toolbar_____"
	FirefoxMenuID    = "menu________"
	FirefoxOtherID   = "unfiled_____"
	FirefoxMobileID  = "mobile______"
)

// sentinelFolderTypes maps every known root sentinel to its folder type. The
// unlabeled top-level roots map to "".
var sentinelFolderTypes = map[string]string{
	ChromiumRootID:   "",
	ChromiumBarID:    FolderTypeBar,
	ChromiumOtherID:  FolderTypeOther,
	ChromiumMobileID: FolderTypeMobile,
	FirefoxRootID:    "",
	FirefoxToolbarID: FolderTypeBar,
	FirefoxMenuID:    FolderTypeMenu,
	FirefoxOtherID:   FolderTypeOther,
	FirefoxMobileID:  FolderTypeMobile,
}

// crossBrowserTypes exist natively in every supported browser family.
var crossBrowserTypes = map[string]bool{
	FolderTypeBar:    true,
	FolderTypeOther:  true,
	FolderTypeMobile: true,
}

// NormalizeURL trims whitespace, lower-cases the scheme and strips trailing
// slashes together with any whitespace between them. The rest of the URL
// keeps its case. NormalizeURL(NormalizeURL(u)) == NormalizeURL(u).
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if idx := strings.Index(u, "://"); idx > 0 {
		u = strings.ToLower(u[:idx]) + u[idx:]
	}
	return strings.TrimRightFunc(u, func(r rune) bool {
		return r == '/' || unicode.IsSpace(r)
	})
}

// IsSystemRootFolder reports whether n is a browser-native root folder.
func IsSystemRootFolder(n Node) bool {
	if n.FolderType != "" {
		return true
	}
	if _, ok := sentinelFolderTypes[n.ID]; ok {
		return true
	}
	return n.ID == ChromiumRootID && n.Title == ""
}

// HasCrossBrowserMapping reports whether n is a system root with an
// equivalent in every supported browser.
func HasCrossBrowserMapping(n Node) bool {
	return crossBrowserTypes[systemFolderType(n)]
}

// FindMatchingSystemFolder returns the candidate that plays the same role as
// remote. Folder type wins over sentinel mapping, which wins over title.
func FindMatchingSystemFolder(remote Node, candidates []Node) (Node, bool) {
	if remote.FolderType != "" {
		for _, c := range candidates {
			if c.FolderType == remote.FolderType {
				return c, true
			}
		}
	}
	remoteType := systemFolderType(remote)
	if remoteType != "" {
		for _, c := range candidates {
			if systemFolderType(c) == remoteType {
				return c, true
			}
		}
	}
	for _, c := range candidates {
		if c.Title == remote.Title {
			return c, true
		}
	}
	return Node{}, false
}

func systemFolderType(n Node) string {
	if n.FolderType != "" {
		return n.FolderType
	}
	return sentinelFolderTypes[n.ID]
}
