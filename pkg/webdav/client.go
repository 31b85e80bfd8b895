// Package webdav is a small WebDAV client for a remote directory of backup
// files.
package webdav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

var (
	// ErrUnauthorized is returned when the server rejects the credentials.
	ErrUnauthorized = errors.New("webdav: authentication failed")
	// ErrNotFound is returned when a requested file does not exist.
	ErrNotFound = errors.New("webdav: not found")
)

// HTTPError carries an unexpected response status.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("webdav %s %s: http %d", e.Method, e.Path, e.StatusCode)
}

// FileInfo is one entry of a directory listing. Path is relative to the
// client's base URL, in the same form callers pass to the client.
type FileInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	LastModified time.Time `json:"lastModified"`
	Size         int64     `json:"size"`
}

// Options configures a Client.
type Options struct {
	URL        string
	Username   string
	Password   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to one WebDAV endpoint.
type Client struct {
	base       *url.URL
	username   string
	password   string
	httpClient *http.Client
	logger     *slog.Logger
	parsers    []listingParser
}

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:"><d:prop><d:resourcetype/><d:getlastmodified/><d:getcontentlength/></d:prop></d:propfind>`

// NewClient validates opts and returns a Client.
func NewClient(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.URL)
	if raw == "" {
		return nil, errors.New("webdav: url required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("webdav: parse url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("webdav: unsupported scheme %q", base.Scheme)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		base:       base,
		username:   opts.Username,
		password:   opts.Password,
		httpClient: httpClient,
		logger:     logger,
		parsers:    defaultParsers(),
	}, nil
}

// URL returns the endpoint URL, which also keys the persisted sync state.
func (c *Client) URL() string {
	return c.base.String()
}

// Reachable reports whether a TCP connection to the server can be opened.
func (c *Client) Reachable(ctx context.Context) bool {
	host := c.base.Host
	if c.base.Port() == "" {
		port := "80"
		if c.base.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(c.base.Hostname(), port)
	}
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		c.logger.Debug("remote unreachable", "host", host, "err", err)
		return false
	}
	conn.Close()
	return true
}

// TestConnection checks that the base collection answers PROPFIND with the
// configured credentials.
func (c *Client) TestConnection(ctx context.Context) error {
	resp, err := c.do(ctx, "PROPFIND", "", strings.NewReader(propfindBody), map[string]string{
		"Depth":        "0",
		"Content-Type": "application/xml; charset=utf-8",
	})
	if err != nil {
		return err
	}
	defer drain(resp)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusMultiStatus || isSuccess(resp.StatusCode):
		return nil
	default:
		return &HTTPError{Method: "PROPFIND", Path: "/", StatusCode: resp.StatusCode}
	}
}

// PutFile uploads content to p, replacing any existing file.
func (c *Client) PutFile(ctx context.Context, p string, content []byte) error {
	resp, err := c.do(ctx, http.MethodPut, p, bytes.NewReader(content), map[string]string{
		"Content-Type": "application/octet-stream",
	})
	if err != nil {
		return err
	}
	defer drain(resp)
	return c.check(resp, http.MethodPut, p)
}

// GetFile downloads p.
func (c *Client) GetFile(ctx context.Context, p string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, p, nil, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if err := c.check(resp, http.MethodGet, p); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("webdav: read %s: %w", p, err)
	}
	return data, nil
}

// CreateDirectory creates collection p. An existing collection is not an error.
func (c *Client) CreateDirectory(ctx context.Context, p string) error {
	resp, err := c.do(ctx, "MKCOL", p, nil, nil)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode == http.StatusMethodNotAllowed {
		return nil
	}
	return c.check(resp, "MKCOL", p)
}

// Exists reports whether p exists.
func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	resp, err := c.do(ctx, "PROPFIND", p, strings.NewReader(propfindBody), map[string]string{
		"Depth":        "0",
		"Content-Type": "application/xml; charset=utf-8",
	})
	if err != nil {
		return false, err
	}
	defer drain(resp)
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := c.check(resp, "PROPFIND", p); err != nil {
		return false, err
	}
	return true, nil
}

// ListFiles returns the non-collection members of dir. Authentication
// failures are returned as ErrUnauthorized; a missing directory is an empty
// listing; any other failure is logged and also yields an empty listing.
func (c *Client) ListFiles(ctx context.Context, dir string) ([]FileInfo, error) {
	resp, err := c.do(ctx, "PROPFIND", dir, strings.NewReader(propfindBody), map[string]string{
		"Depth":        "1",
		"Content-Type": "application/xml; charset=utf-8",
	})
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return []FileInfo{}, nil
	case resp.StatusCode != http.StatusMultiStatus && !isSuccess(resp.StatusCode):
		c.logger.Warn("list files failed", "dir", dir, "status", resp.StatusCode)
		return []FileInfo{}, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("webdav: read listing: %w", err)
	}
	entries, err := parseListing(c.parsers, body)
	if err != nil {
		c.logger.Warn("parse listing failed", "dir", dir, "err", err)
		return []FileInfo{}, nil
	}
	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.collection {
			continue
		}
		name := hrefName(e.href)
		if name == "" {
			continue
		}
		files = append(files, FileInfo{
			Name:         name,
			Path:         path.Join("/", dir, name),
			LastModified: e.lastModified,
			Size:         e.size,
		})
	}
	return files, nil
}

// DeleteFile removes p. A missing file is not an error.
func (c *Client) DeleteFile(ctx context.Context, p string) error {
	resp, err := c.do(ctx, http.MethodDelete, p, nil, nil)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return c.check(resp, http.MethodDelete, p)
}

func (c *Client) do(ctx context.Context, method, p string, body io.Reader, headers map[string]string) (*http.Response, error) {
	target := c.resolve(p)
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("webdav: build %s request: %w", method, err)
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webdav: %s %s: %w", method, p, err)
	}
	return resp, nil
}

func (c *Client) resolve(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return c.base.String() + "/"
	}
	return c.base.JoinPath(strings.Split(p, "/")...).String()
}

func (c *Client) check(resp *http.Response, method, p string) error {
	switch {
	case isSuccess(resp.StatusCode) || resp.StatusCode == http.StatusMultiStatus:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	default:
		return &HTTPError{Method: method, Path: p, StatusCode: resp.StatusCode}
	}
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func hrefName(href string) string {
	href = strings.TrimSpace(href)
	if u, err := url.Parse(href); err == nil {
		href = u.Path
	}
	href = strings.TrimRight(href, "/")
	if href == "" {
		return ""
	}
	return path.Base(href)
}
