package core

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// idSource hands out monotonic ULIDs: two ids minted in the same
// millisecond still sort in the order they were created.
type idSource struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

var ids = &idSource{
	entropy: ulid.Monotonic(rand.Reader, 0),
	now:     time.Now,
}

func (s *idSource) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

// NewNodeID generates a ULID string for new nodes.
func NewNodeID() string { return ids.next() }

// NewSnapshotID generates a ULID string for snapshots. Ids sort by creation time.
func NewSnapshotID() string { return ids.next() }

// IDTime returns the creation time encoded in a ULID. System folder ids are
// not ULIDs and report false.
func IDTime(id string) (time.Time, bool) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}
