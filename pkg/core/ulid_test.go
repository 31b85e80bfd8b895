package core

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDsSortWithinOneMillisecond(t *testing.T) {
	frozen := time.Date(2026, 1, 27, 14, 30, 0, 0, time.UTC)
	src := &idSource{entropy: ulid.Monotonic(rand.Reader, 0), now: func() time.Time { return frozen }}

	prev := src.next()
	for range 100 {
		id := src.next()
		require.Less(t, prev, id)
		prev = id
	}
	at, ok := IDTime(prev)
	require.True(t, ok)
	assert.True(t, at.Equal(frozen))
}

func TestIDTimeRejectsSystemIDs(t *testing.T) {
	for _, id := range []string{RootID, BarID, OtherID, MobileID, ""} {
		_, ok := IDTime(id)
		assert.False(t, ok, id)
	}
	_, ok := IDTime(NewNodeID())
	assert.True(t, ok)
}
