// Package backupname builds and parses remote backup file names of the form
// bookmarks_<YYYYMMDD>_<HHMMSS>_<browser>_<count>_v<revision>.json[.gz].
package backupname

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rexliu/davmark/pkg/webdav"
)

const (
	prefix    = "bookmarks_"
	jsonExt   = ".json"
	gzipExt   = ".gz"
	stampForm = "20060102_150405"
)

// Info is the parsed form of a backup file name.
type Info struct {
	Timestamp time.Time `json:"timestamp"`
	Browser   string    `json:"browser"`
	Count     int       `json:"count"`
	Revision  int       `json:"revisionNumber"`
}

// Generate returns the .json name for a backup taken at the given time.
// Revisions below 1 are treated as 1.
func Generate(browser string, count, revision int, at time.Time) string {
	if revision < 1 {
		revision = 1
	}
	return fmt.Sprintf("%s%s_%s_%d_v%d%s",
		prefix, at.UTC().Format(stampForm), BrowserTag(browser), count, revision, jsonExt)
}

// GenerateArchive returns the compressed .json.gz name.
func GenerateArchive(browser string, count, revision int, at time.Time) string {
	return Generate(browser, count, revision, at) + gzipExt
}

// BrowserTag lower-cases browser, strips its whitespace and replaces the
// field separator so the name still parses. An empty tag becomes "unknown".
func BrowserTag(browser string) string {
	tag := strings.ToLower(strings.Join(strings.Fields(browser), ""))
	tag = strings.ReplaceAll(tag, "_", "-")
	if tag == "" {
		return "unknown"
	}
	return tag
}

// Parse is the strict inverse of Generate. A trailing .gz is accepted.
func Parse(name string) (Info, bool) {
	stem := strings.TrimSuffix(name, gzipExt)
	if !strings.HasPrefix(stem, prefix) || !strings.HasSuffix(stem, jsonExt) {
		return Info{}, false
	}
	stem = strings.TrimSuffix(stem, jsonExt)
	parts := strings.Split(stem, "_")
	if len(parts) != 6 {
		return Info{}, false
	}
	if len(parts[1]) != 8 || len(parts[2]) != 6 {
		return Info{}, false
	}
	ts, err := time.ParseInLocation(stampForm, parts[1]+"_"+parts[2], time.UTC)
	if err != nil {
		return Info{}, false
	}
	browser := parts[3]
	if browser == "" {
		return Info{}, false
	}
	count, err := strconv.Atoi(parts[4])
	if err != nil || count < 0 {
		return Info{}, false
	}
	if !strings.HasPrefix(parts[5], "v") {
		return Info{}, false
	}
	revision, err := strconv.Atoi(parts[5][1:])
	if err != nil || revision < 1 {
		return Info{}, false
	}
	return Info{Timestamp: ts, Browser: browser, Count: count, Revision: revision}, true
}

// IsBackupFile is a cheap prefix/suffix filter for directory listings.
func IsBackupFile(name string) bool {
	return strings.HasPrefix(name, prefix) && strings.HasSuffix(name, jsonExt+gzipExt)
}

// Remote is the subset of the WebDAV client needed for pruning.
type Remote interface {
	ListFiles(ctx context.Context, dir string) ([]webdav.FileInfo, error)
	DeleteFile(ctx context.Context, filePath string) error
}

// CleanOldBackups deletes backup files in dir whose name timestamp is older
// than maxAgeDays. Files that do not parse are left alone. It returns the
// number of files deleted; individual delete failures are logged.
func CleanOldBackups(ctx context.Context, remote Remote, dir string, maxAgeDays int, now time.Time, logger *slog.Logger) (int, error) {
	if maxAgeDays <= 0 {
		return 0, nil
	}
	files, err := remote.ListFiles(ctx, dir)
	if err != nil {
		return 0, fmt.Errorf("list backups: %w", err)
	}
	cutoff := now.Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	deleted := 0
	for _, f := range files {
		if !IsBackupFile(f.Name) {
			continue
		}
		info, ok := Parse(f.Name)
		if !ok || !info.Timestamp.Before(cutoff) {
			continue
		}
		target := f.Path
		if target == "" {
			target = path.Join(dir, f.Name)
		}
		if err := remote.DeleteFile(ctx, target); err != nil {
			if logger != nil {
				logger.Warn("delete old backup failed", "file", f.Name, "err", err)
			}
			continue
		}
		deleted++
	}
	return deleted, nil
}
