package backupname

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rexliu/davmark/pkg/webdav"
)

func TestGenerate(t *testing.T) {
	at := time.Date(2026, 1, 27, 14, 30, 52, 0, time.UTC)
	require.Equal(t, "bookmarks_20260127_143052_edge_157_v1.json", Generate("Edge", 157, 1, at))
	require.Equal(t, "bookmarks_20260127_143052_microsoftedge_3_v1.json", Generate("Microsoft Edge", 3, 0, at))
	require.Equal(t, "bookmarks_20260127_143052_chrome_0_v4.json.gz", GenerateArchive("chrome", 0, 4, at))

	local := time.Date(2026, 1, 27, 16, 30, 52, 0, time.FixedZone("EET", 2*3600))
	require.Equal(t, Generate("edge", 1, 1, at), Generate("edge", 1, 1, local), "names use UTC")
}

func TestParse(t *testing.T) {
	info, ok := Parse("bookmarks_20260127_143052_edge_157_v1.json.gz")
	require.True(t, ok)
	require.Equal(t, "edge", info.Browser)
	require.Equal(t, 157, info.Count)
	require.Equal(t, 1, info.Revision)
	require.True(t, info.Timestamp.Equal(time.Date(2026, 1, 27, 14, 30, 52, 0, time.UTC)))

	_, ok = Parse("bookmarks_20260127_143052_edge_157_v1.json")
	require.True(t, ok, "plain .json is accepted")

	invalid := []string{
		"bookmarks_invalid.json",
		"bookmarks_20260127_143052_edge_157.json.gz",
		"bookmarks_20260127_143052_edge_many_v1.json.gz",
		"bookmarks_20260127_143052_edge_157_vX.json.gz",
		"bookmarks_20260127_143052_edge_157_1.json.gz",
		"bookmarks_20261327_143052_edge_157_v1.json.gz",
		"bookmarks_2026012_143052_edge_157_v1.json.gz",
		"bookmarks_20260127_143052__157_v1.json.gz",
		"backup_20260127_143052_edge_157_v1.json.gz",
		"bookmarks_20260127_143052_edge_157_v1.txt",
	}
	for _, name := range invalid {
		_, ok := Parse(name)
		require.False(t, ok, name)
	}

	at := time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)
	round, ok := Parse(GenerateArchive("Firefox", 42, 7, at))
	require.True(t, ok)
	require.Equal(t, Info{Timestamp: at, Browser: "firefox", Count: 42, Revision: 7}, round)
}

func TestGenerateParseRoundTrip(t *testing.T) {
	at := time.Date(2026, 1, 27, 14, 30, 52, 0, time.UTC)
	for browser, tag := range map[string]string{
		"Edge":          "edge",
		"Chrome Canary": "chromecanary",
		"work_laptop":   "work-laptop",
		"__a b_c":       "--ab-c",
		"  ":            "unknown",
	} {
		name := GenerateArchive(browser, 157, 2, at)
		info, ok := Parse(name)
		require.True(t, ok, name)
		require.Equal(t, Info{Timestamp: at, Browser: tag, Count: 157, Revision: 2}, info)
		require.Equal(t, BrowserTag(browser), info.Browser)
	}
}

func TestIsBackupFile(t *testing.T) {
	require.True(t, IsBackupFile("bookmarks_anything.json.gz"))
	require.False(t, IsBackupFile("bookmarks_20260127_143052_edge_157_v1.json"))
	require.False(t, IsBackupFile("notes_20260127.json.gz"))
}

type fakeRemote struct {
	files     []webdav.FileInfo
	deleted   []string
	failOn    string
	listError error
}

func (f *fakeRemote) ListFiles(ctx context.Context, dir string) ([]webdav.FileInfo, error) {
	return f.files, f.listError
}

func (f *fakeRemote) DeleteFile(ctx context.Context, p string) error {
	if p == f.failOn {
		return errors.New("boom")
	}
	f.deleted = append(f.deleted, p)
	return nil
}

func TestCleanOldBackups(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := GenerateArchive("edge", 1, 1, now.AddDate(0, 0, -40))
	older := GenerateArchive("edge", 1, 2, now.AddDate(0, 0, -60))
	fresh := GenerateArchive("edge", 1, 1, now.AddDate(0, 0, -1))
	remote := &fakeRemote{files: []webdav.FileInfo{
		{Name: old, Path: "/bookmarks/" + old},
		{Name: older, Path: "/bookmarks/" + older},
		{Name: fresh, Path: "/bookmarks/" + fresh},
		{Name: "bookmarks_garbage.json.gz", Path: "/bookmarks/bookmarks_garbage.json.gz"},
		{Name: "readme.txt", Path: "/bookmarks/readme.txt"},
	}, failOn: "/bookmarks/" + older}

	deleted, err := CleanOldBackups(context.Background(), remote, "/bookmarks", 30, now, nil)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
	require.Equal(t, []string{"/bookmarks/" + old}, remote.deleted)

	remote.listError = errors.New("offline")
	_, err = CleanOldBackups(context.Background(), remote, "/bookmarks", 30, now, nil)
	require.Error(t, err)
}
