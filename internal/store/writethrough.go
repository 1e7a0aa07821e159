package store

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelsec/kestrel/internal/model"
)

// WriteThrough keeps the in-memory store authoritative for reads while
// mirroring every write to a durable store. Writes hit the durable store
// first; on failure the in-memory state is left untouched, so the two
// never diverge. Reads are served from memory only.
type WriteThrough struct {
	mem     *Memory
	durable Store
}

var _ Store = (*WriteThrough)(nil)

// NewWriteThrough composes the in-memory store with a durable adapter.
func NewWriteThrough(mem *Memory, durable Store) *WriteThrough {
	return &WriteThrough{mem: mem, durable: durable}
}

func (w *WriteThrough) PutEvent(ctx context.Context, ev *model.ActivityEvent) error {
	if err := w.durable.PutEvent(ctx, ev); err != nil {
		return fmt.Errorf("persist event: %w", err)
	}
	return w.mem.PutEvent(ctx, ev)
}

func (w *WriteThrough) PutProfile(ctx context.Context, p *model.ActorProfile) error {
	if err := w.durable.PutProfile(ctx, p); err != nil {
		return fmt.Errorf("persist profile: %w", err)
	}
	return w.mem.PutProfile(ctx, p)
}

func (w *WriteThrough) PutSession(ctx context.Context, s *model.SessionRecord) error {
	if err := w.durable.PutSession(ctx, s); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return w.mem.PutSession(ctx, s)
}

func (w *WriteThrough) PutPattern(ctx context.Context, p *model.BehaviorPattern) error {
	if err := w.durable.PutPattern(ctx, p); err != nil {
		return fmt.Errorf("persist pattern: %w", err)
	}
	return w.mem.PutPattern(ctx, p)
}

func (w *WriteThrough) PutAlert(ctx context.Context, a *model.BehavioralAlert) error {
	if err := w.durable.PutAlert(ctx, a); err != nil {
		return fmt.Errorf("persist alert: %w", err)
	}
	return w.mem.PutAlert(ctx, a)
}

func (w *WriteThrough) GetEvent(ctx context.Context, id string) (*model.ActivityEvent, error) {
	return w.mem.GetEvent(ctx, id)
}

func (w *WriteThrough) EventsByActor(ctx context.Context, actorID string, since time.Time) ([]*model.ActivityEvent, error) {
	return w.mem.EventsByActor(ctx, actorID, since)
}

func (w *WriteThrough) EventsSince(ctx context.Context, since time.Time) ([]*model.ActivityEvent, error) {
	return w.mem.EventsSince(ctx, since)
}

func (w *WriteThrough) GetProfile(ctx context.Context, actorID string) (*model.ActorProfile, error) {
	return w.mem.GetProfile(ctx, actorID)
}

func (w *WriteThrough) ListProfiles(ctx context.Context) ([]*model.ActorProfile, error) {
	return w.mem.ListProfiles(ctx)
}

func (w *WriteThrough) GetSession(ctx context.Context, sessionID string) (*model.SessionRecord, error) {
	return w.mem.GetSession(ctx, sessionID)
}

func (w *WriteThrough) SessionsByActor(ctx context.Context, actorID string) ([]*model.SessionRecord, error) {
	return w.mem.SessionsByActor(ctx, actorID)
}

func (w *WriteThrough) ActiveSessions(ctx context.Context) ([]*model.SessionRecord, error) {
	return w.mem.ActiveSessions(ctx)
}

func (w *WriteThrough) PatternsByActor(ctx context.Context, actorID string) ([]*model.BehaviorPattern, error) {
	return w.mem.PatternsByActor(ctx, actorID)
}

func (w *WriteThrough) ListPatterns(ctx context.Context) ([]*model.BehaviorPattern, error) {
	return w.mem.ListPatterns(ctx)
}

func (w *WriteThrough) AlertsByActor(ctx context.Context, actorID string, since time.Time) ([]*model.BehavioralAlert, error) {
	return w.mem.AlertsByActor(ctx, actorID, since)
}

func (w *WriteThrough) ListAlerts(ctx context.Context, filter AlertFilter) ([]*model.BehavioralAlert, error) {
	return w.mem.ListAlerts(ctx, filter)
}

func (w *WriteThrough) Counts(ctx context.Context) (Counts, error) {
	return w.mem.Counts(ctx)
}

// DeleteEvent undoes an event write in both layers so a failed submission
// can be retried from scratch. The durable row goes first, mirroring the
// write order: a failure here leaves the event fully persisted rather than
// half-deleted.
func (w *WriteThrough) DeleteEvent(ctx context.Context, id string) error {
	if d, ok := w.durable.(interface {
		DeleteEvent(ctx context.Context, id string) error
	}); ok {
		if err := d.DeleteEvent(ctx, id); err != nil {
			return fmt.Errorf("delete durable event: %w", err)
		}
	}
	return w.mem.DeleteEvent(ctx, id)
}

// DeleteAlert undoes an alert write in both layers, durable first.
func (w *WriteThrough) DeleteAlert(ctx context.Context, id string) error {
	if d, ok := w.durable.(interface {
		DeleteAlert(ctx context.Context, id string) error
	}); ok {
		if err := d.DeleteAlert(ctx, id); err != nil {
			return fmt.Errorf("delete durable alert: %w", err)
		}
	}
	return w.mem.DeleteAlert(ctx, id)
}

// PruneBefore sweeps both stores; the durable sweep runs first so a
// failure leaves memory intact for a retry on the next cycle.
func (w *WriteThrough) PruneBefore(ctx context.Context, cutoff time.Time) (PruneStats, error) {
	if _, err := w.durable.PruneBefore(ctx, cutoff); err != nil {
		return PruneStats{}, fmt.Errorf("prune durable store: %w", err)
	}
	return w.mem.PruneBefore(ctx, cutoff)
}

// Load hydrates the in-memory store from the durable store, used at
// startup for crash recovery. Only entities still inside the retention
// window are loaded.
func (w *WriteThrough) Load(ctx context.Context, since time.Time) error {
	events, err := w.durable.EventsSince(ctx, since)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	for _, ev := range events {
		if err := w.mem.PutEvent(ctx, ev); err != nil {
			return err
		}
	}

	profiles, err := w.durable.ListProfiles(ctx)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}
	for _, p := range profiles {
		if err := w.mem.PutProfile(ctx, p); err != nil {
			return err
		}
	}

	sessions, err := w.durable.ActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	for _, s := range sessions {
		if err := w.mem.PutSession(ctx, s); err != nil {
			return err
		}
	}

	patterns, err := w.durable.ListPatterns(ctx)
	if err != nil {
		return fmt.Errorf("load patterns: %w", err)
	}
	for _, p := range patterns {
		if err := w.mem.PutPattern(ctx, p); err != nil {
			return err
		}
	}

	alerts, err := w.durable.ListAlerts(ctx, AlertFilter{})
	if err != nil {
		return fmt.Errorf("load alerts: %w", err)
	}
	for _, a := range alerts {
		if err := w.mem.PutAlert(ctx, a); err != nil {
			return err
		}
	}

	return nil
}

// Close closes the durable store.
func (w *WriteThrough) Close() error {
	return w.durable.Close()
}
