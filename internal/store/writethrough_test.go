package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/kestrel/internal/model"
)

// failingStore wraps a Memory and fails writes on demand.
type failingStore struct {
	*Memory
	fail bool
}

var errDown = errors.New("database down")

func (f *failingStore) PutEvent(ctx context.Context, ev *model.ActivityEvent) error {
	if f.fail {
		return errDown
	}
	return f.Memory.PutEvent(ctx, ev)
}

func (f *failingStore) PutProfile(ctx context.Context, p *model.ActorProfile) error {
	if f.fail {
		return errDown
	}
	return f.Memory.PutProfile(ctx, p)
}

func TestWriteThrough_MirrorsWrites(t *testing.T) {
	mem := NewMemory()
	durable := &failingStore{Memory: NewMemory()}
	wt := NewWriteThrough(mem, durable)
	ctx := context.Background()

	ev := event("e1", "u1", model.KindLogin, base)
	require.NoError(t, wt.PutEvent(ctx, ev))

	// Both sides hold the event; reads come from memory.
	_, err := mem.GetEvent(ctx, "e1")
	assert.NoError(t, err)
	_, err = durable.Memory.GetEvent(ctx, "e1")
	assert.NoError(t, err)
}

func TestWriteThrough_DurableFailureLeavesMemoryUntouched(t *testing.T) {
	mem := NewMemory()
	durable := &failingStore{Memory: NewMemory(), fail: true}
	wt := NewWriteThrough(mem, durable)
	ctx := context.Background()

	err := wt.PutEvent(ctx, event("e1", "u1", model.KindLogin, base))
	assert.ErrorIs(t, err, errDown)

	_, err = mem.GetEvent(ctx, "e1")
	assert.ErrorIs(t, err, ErrNotFound)

	err = wt.PutProfile(ctx, &model.ActorProfile{ActorID: "u1"})
	assert.ErrorIs(t, err, errDown)
	_, err = mem.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteThrough_DeleteReachesBothLayers(t *testing.T) {
	mem := NewMemory()
	durable := &failingStore{Memory: NewMemory()}
	wt := NewWriteThrough(mem, durable)
	ctx := context.Background()

	require.NoError(t, wt.PutEvent(ctx, event("e1", "u1", model.KindLogin, base)))
	require.NoError(t, wt.PutAlert(ctx, &model.BehavioralAlert{ID: "a1", ActorID: "u1", Timestamp: base}))

	require.NoError(t, wt.DeleteEvent(ctx, "e1"))
	_, err := mem.GetEvent(ctx, "e1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = durable.Memory.GetEvent(ctx, "e1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, wt.DeleteAlert(ctx, "a1"))
	alerts, err := wt.ListAlerts(ctx, AlertFilter{ActorID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, alerts)
	alerts, err = durable.Memory.ListAlerts(ctx, AlertFilter{ActorID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestWriteThrough_LoadHydratesMemory(t *testing.T) {
	durable := &failingStore{Memory: NewMemory()}
	ctx := context.Background()

	require.NoError(t, durable.Memory.PutEvent(ctx, event("e1", "u1", model.KindLogin, base)))
	require.NoError(t, durable.Memory.PutProfile(ctx, &model.ActorProfile{ActorID: "u1", RiskLevel: model.RiskLow}))
	require.NoError(t, durable.Memory.PutSession(ctx, &model.SessionRecord{SessionID: "s1", ActorID: "u1", StartTime: base, Status: model.SessionActive}))
	require.NoError(t, durable.Memory.PutAlert(ctx, &model.BehavioralAlert{ID: "a1", ActorID: "u1", Timestamp: base}))
	require.NoError(t, durable.Memory.PutPattern(ctx, &model.BehaviorPattern{ID: "p1", ActorID: "u1", LastSeen: base}))

	mem := NewMemory()
	wt := NewWriteThrough(mem, durable)
	require.NoError(t, wt.Load(ctx, base.Add(-time.Hour)))

	c, err := mem.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Events: 1, Profiles: 1, Sessions: 1, ActiveSessions: 1, Patterns: 1, Alerts: 1}, c)
}
