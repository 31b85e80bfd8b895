package download

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type blockingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	data    []byte
	err     error
}

func (f *blockingFetcher) GetFile(ctx context.Context, path string) ([]byte, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	return f.data, f.err
}

const archive = "/bookmarks/bookmarks_20260127_143052_edge_157_v1.json.gz"

func TestQueueDeduplicatesConcurrentFetches(t *testing.T) {
	q := NewQueue(time.Second)
	f := &blockingFetcher{release: make(chan struct{}), data: []byte("payload")}

	var wg sync.WaitGroup
	results := make([][]byte, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = q.Get(context.Background(), f, archive)
		}(i)
	}
	require.Eventually(t, func() bool { return q.waiters(archive) == 2 }, time.Second, time.Millisecond)
	require.Equal(t, []string{archive}, q.InFlight())
	require.Equal(t, 1, q.Len())
	time.Sleep(20 * time.Millisecond)
	close(f.release)
	wg.Wait()

	require.EqualValues(t, 1, f.calls.Load())
	for i := range results {
		require.NoError(t, errs[i])
		require.Equal(t, "payload", string(results[i]))
	}
	require.Zero(t, q.Len())
}

func TestQueueRejectsNonArchivePaths(t *testing.T) {
	q := NewQueue(time.Second)
	f := &blockingFetcher{}
	_, err := q.Get(context.Background(), f, "/bookmarks/notes.json")
	require.ErrorIs(t, err, ErrInvalidPath)
	require.Zero(t, f.calls.Load())
}

func TestQueueTimeoutRemovesEntry(t *testing.T) {
	q := NewQueue(30 * time.Millisecond)
	hung := &blockingFetcher{release: make(chan struct{})}
	t.Cleanup(func() { close(hung.release) })

	_, err := q.Get(context.Background(), hung, archive)
	require.ErrorIs(t, err, ErrTimeout)
	require.Zero(t, q.Len())

	ok := &blockingFetcher{data: []byte("fresh")}
	data, err := q.Get(context.Background(), ok, archive)
	require.NoError(t, err)
	require.Equal(t, "fresh", string(data))
}

func TestQueueFailureIsNotCached(t *testing.T) {
	q := NewQueue(time.Second)
	failing := &blockingFetcher{err: errors.New("503")}
	_, err := q.Get(context.Background(), failing, archive)
	require.Error(t, err)
	require.Zero(t, q.Len())

	ok := &blockingFetcher{data: []byte("ok")}
	data, err := q.Get(context.Background(), ok, archive)
	require.NoError(t, err)
	require.Equal(t, "ok", string(data))
	require.EqualValues(t, 1, ok.calls.Load())
}
