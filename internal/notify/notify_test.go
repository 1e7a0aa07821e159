package notify

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kestrelsec/kestrel/internal/model"
)

func TestNoop(t *testing.T) {
	var n Noop
	assert.NoError(t, n.Notify(&model.BehavioralAlert{ID: "a1"}))
	assert.NoError(t, n.Close())
}

func TestNATSPublisher_ClosedRejectsAlerts(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewNATSPublisher(nil, 4, logger, nil)

	assert.NoError(t, p.Close())
	assert.Error(t, p.Notify(&model.BehavioralAlert{ID: "a1"}))
	// Close is idempotent.
	assert.NoError(t, p.Close())
}

func TestNATSPublisher_NeverBlocks(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewNATSPublisher(nil, 1, logger, nil)
	defer p.Close()

	// With a disconnected broker and a queue of one, a burst must still
	// return promptly by dropping older entries.
	for i := 0; i < 100; i++ {
		assert.NoError(t, p.Notify(&model.BehavioralAlert{ID: "a"}))
	}
}
