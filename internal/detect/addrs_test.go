package detect

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddrTracker(t *testing.T) {
	tr := NewAddrTracker()

	known, total := tr.Seen("u1", "10.0.0.1")
	assert.False(t, known)
	assert.Zero(t, total)

	tr.Observe("u1", "10.0.0.1")
	tr.Observe("u1", "10.0.0.2")
	tr.Observe("u1", "10.0.0.1") // repeat does not grow the set

	known, total = tr.Seen("u1", "10.0.0.1")
	assert.True(t, known)
	assert.Equal(t, 2, total)

	known, _ = tr.Seen("u1", "10.0.0.99")
	assert.False(t, known)

	// Tracking is per actor.
	known, total = tr.Seen("u2", "10.0.0.1")
	assert.False(t, known)
	assert.Zero(t, total)
}

func TestAddrTracker_Bounded(t *testing.T) {
	tr := NewAddrTracker()
	for i := 0; i < addrCap*2; i++ {
		tr.Observe("u1", fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	_, total := tr.Seen("u1", "10.0.0.0")
	assert.Equal(t, addrCap, total)
}

func TestAddrTracker_Forget(t *testing.T) {
	tr := NewAddrTracker()
	tr.Observe("u1", "10.0.0.1")
	tr.Forget("u1")
	_, total := tr.Seen("u1", "10.0.0.1")
	assert.Zero(t, total)
}
