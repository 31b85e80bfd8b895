package webdav

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	xwebdav "golang.org/x/net/webdav"
)

func newDAVServer(t *testing.T) *httptest.Server {
	t.Helper()
	handler := &xwebdav.Handler{
		FileSystem: xwebdav.NewMemFS(),
		LockSystem: xwebdav.NewMemLS(),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, url, password string) *Client {
	t.Helper()
	c, err := NewClient(Options{URL: url, Username: "alice", Password: password, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestClientAgainstWebDAVServer(t *testing.T) {
	ctx := context.Background()
	srv := newDAVServer(t)
	c := newTestClient(t, srv.URL+"/", "secret")

	require.NoError(t, c.TestConnection(ctx))
	require.True(t, c.Reachable(ctx))

	files, err := c.ListFiles(ctx, "bookmarks")
	require.NoError(t, err)
	require.Empty(t, files, "missing directory lists as empty")

	require.NoError(t, c.CreateDirectory(ctx, "bookmarks"))
	require.NoError(t, c.CreateDirectory(ctx, "bookmarks"), "existing directory is fine")

	exists, err := c.Exists(ctx, "bookmarks/a.json.gz")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, c.PutFile(ctx, "bookmarks/a.json.gz", []byte("hello")))
	require.NoError(t, c.PutFile(ctx, "/bookmarks/b.json.gz", []byte("world!")))

	exists, err = c.Exists(ctx, "bookmarks/a.json.gz")
	require.NoError(t, err)
	require.True(t, exists)

	data, err := c.GetFile(ctx, "bookmarks/a.json.gz")
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	files, err = c.ListFiles(ctx, "bookmarks")
	require.NoError(t, err)
	require.Len(t, files, 2)
	byName := map[string]FileInfo{}
	for _, f := range files {
		byName[f.Name] = f
	}
	require.Equal(t, "/bookmarks/b.json.gz", byName["b.json.gz"].Path)
	require.EqualValues(t, 6, byName["b.json.gz"].Size)
	require.False(t, byName["a.json.gz"].LastModified.IsZero())

	require.NoError(t, c.DeleteFile(ctx, "bookmarks/a.json.gz"))
	require.NoError(t, c.DeleteFile(ctx, "bookmarks/a.json.gz"), "deleting a missing file is fine")

	_, err = c.GetFile(ctx, "bookmarks/a.json.gz")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClientAuthFailures(t *testing.T) {
	ctx := context.Background()
	srv := newDAVServer(t)
	c := newTestClient(t, srv.URL, "wrong")

	require.ErrorIs(t, c.TestConnection(ctx), ErrUnauthorized)
	_, err := c.ListFiles(ctx, "bookmarks")
	require.ErrorIs(t, err, ErrUnauthorized, "auth failure must not look like an empty listing")
	require.ErrorIs(t, c.PutFile(ctx, "x.json.gz", nil), ErrUnauthorized)
}

func TestListFilesStatusHandling(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
		{"not found", http.StatusNotFound, nil},
		{"server error", http.StatusInternalServerError, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()
			c := newTestClient(t, srv.URL, "x")
			files, err := c.ListFiles(ctx, "dir")
			if tc.wantErr != nil {
				require.True(t, errors.Is(err, tc.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			require.Empty(t, files)
		})
	}
}

func TestListFilesFallsBackToRegexParser(t *testing.T) {
	// Unclosed <d:multistatus> breaks encoding/xml; the regex parser still
	// recovers the entries.
	body := `<?xml version="1.0"?><d:multistatus xmlns:d="DAV:">
<d:response><d:href>/dav/bookmarks/</d:href><d:propstat><d:prop><d:resourcetype><d:collection/></d:resourcetype></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>
<d:response><d:href>/dav/bookmarks/bookmarks_20260127_143052_edge_157_v1.json.gz</d:href><d:propstat><d:prop><d:resourcetype/><d:getcontentlength>42</d:getcontentlength></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL+"/dav", "x")
	files, err := c.ListFiles(context.Background(), "bookmarks")
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "bookmarks_20260127_143052_edge_157_v1.json.gz", files[0].Name)
	require.EqualValues(t, 42, files[0].Size)
}
