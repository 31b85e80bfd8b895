// Package download de-duplicates concurrent fetches of remote backup files.
package download

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds a single fetch.
const DefaultTimeout = 30 * time.Second

const archiveSuffix = ".json.gz"

var (
	// ErrInvalidPath is returned for paths that are not backup archives.
	ErrInvalidPath = errors.New("download: path is not a .json.gz archive")
	// ErrTimeout is returned when a fetch does not finish in time.
	ErrTimeout = errors.New("download: timed out")
)

// Fetcher downloads one remote file.
type Fetcher interface {
	GetFile(ctx context.Context, path string) ([]byte, error)
}

// Queue shares one in-flight fetch per path between all callers.
type Queue struct {
	timeout time.Duration
	group   singleflight.Group

	mu      sync.Mutex
	pending map[string]int
}

// NewQueue returns a Queue whose fetches time out after timeout.
func NewQueue(timeout time.Duration) *Queue {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Queue{timeout: timeout, pending: make(map[string]int)}
}

// Get returns the content of path, joining an in-flight fetch for the same
// path when there is one. The fetch outlives ctx cancellation of any single
// caller; only the queue timeout abandons it.
func (q *Queue) Get(ctx context.Context, f Fetcher, path string) ([]byte, error) {
	if !strings.HasSuffix(path, archiveSuffix) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}
	q.enter(path)
	defer q.leave(path)

	ch := q.group.DoChan(path, func() (any, error) {
		return q.fetch(context.WithoutCancel(ctx), f, path)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) fetch(ctx context.Context, f Fetcher, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := f.GetFile(ctx, path)
		done <- result{data: data, err: err}
	}()
	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w after %s: %s", ErrTimeout, q.timeout, path)
	}
}

// InFlight returns the paths currently being fetched, sorted.
func (q *Queue) InFlight() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.pending))
	for p := range q.pending {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of distinct in-flight paths.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) enter(path string) {
	q.mu.Lock()
	q.pending[path]++
	q.mu.Unlock()
}

func (q *Queue) leave(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[path]--
	if q.pending[path] <= 0 {
		delete(q.pending, path)
	}
}

func (q *Queue) waiters(path string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[path]
}
