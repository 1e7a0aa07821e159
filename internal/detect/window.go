package detect

import (
	"sync"
	"time"

	"github.com/kestrelsec/kestrel/internal/model"
)

// WindowBuffer maintains a per-actor deque of recent events with garbage
// collection. Reads return copied slices, so heuristic checks and scoring
// run against a snapshot without holding the buffer locks.
type WindowBuffer struct {
	mu       sync.RWMutex
	actors   map[string]*actorEventBuffer
	maxAge   time.Duration
	gcTicker *time.Ticker
	stopGC   chan struct{}
}

type actorEventBuffer struct {
	mu     sync.RWMutex
	events []*model.ActivityEvent
}

// NewWindowBuffer creates a window buffer that retains events for maxAge.
func NewWindowBuffer(maxAge time.Duration) *WindowBuffer {
	return &WindowBuffer{
		actors: make(map[string]*actorEventBuffer),
		maxAge: maxAge,
	}
}

// Add appends an event to the owning actor's buffer.
func (wb *WindowBuffer) Add(ev *model.ActivityEvent) {
	if ev == nil || ev.ActorID == "" {
		return
	}

	wb.mu.Lock()
	buf, exists := wb.actors[ev.ActorID]
	if !exists {
		buf = &actorEventBuffer{}
		wb.actors[ev.ActorID] = buf
	}
	wb.mu.Unlock()

	buf.mu.Lock()
	buf.events = append(buf.events, ev)
	buf.mu.Unlock()
}

// Recent returns the actor's events with timestamps inside (ref-within, ref].
// Windows are computed on event time, not arrival time, so replayed history
// behaves the same as live traffic.
func (wb *WindowBuffer) Recent(actorID string, within time.Duration, ref time.Time) []*model.ActivityEvent {
	return wb.collect(actorID, within, ref, "")
}

// RecentByKind returns the actor's events of one kind inside the window.
func (wb *WindowBuffer) RecentByKind(actorID string, kind model.EventKind, within time.Duration, ref time.Time) []*model.ActivityEvent {
	return wb.collect(actorID, within, ref, kind)
}

func (wb *WindowBuffer) collect(actorID string, within time.Duration, ref time.Time, kind model.EventKind) []*model.ActivityEvent {
	if actorID == "" {
		return nil
	}

	wb.mu.RLock()
	buf, exists := wb.actors[actorID]
	wb.mu.RUnlock()
	if !exists {
		return nil
	}

	cutoff := ref.Add(-within)

	buf.mu.RLock()
	defer buf.mu.RUnlock()

	var result []*model.ActivityEvent
	for i := len(buf.events) - 1; i >= 0; i-- {
		ev := buf.events[i]
		if !ev.Timestamp.After(cutoff) || ev.Timestamp.After(ref) {
			continue
		}
		if kind != "" && ev.Kind != kind {
			continue
		}
		result = append(result, ev)
	}
	return result
}

// GC drops events older than maxAge relative to now and removes empty
// actor buffers.
func (wb *WindowBuffer) GC(now time.Time) {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	cutoff := now.Add(-wb.maxAge)
	for actorID, buf := range wb.actors {
		buf.mu.Lock()
		kept := buf.events[:0:0]
		for _, ev := range buf.events {
			if ev.Timestamp.After(cutoff) {
				kept = append(kept, ev)
			}
		}
		buf.events = kept
		buf.mu.Unlock()

		if len(kept) == 0 {
			delete(wb.actors, actorID)
		}
	}
}

// StartGC starts the periodic garbage collection routine.
func (wb *WindowBuffer) StartGC(interval time.Duration) {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	if wb.gcTicker != nil {
		return
	}
	wb.gcTicker = time.NewTicker(interval)
	wb.stopGC = make(chan struct{})
	go wb.gcRoutine(wb.gcTicker, wb.stopGC)
}

// StopGC stops the garbage collection routine.
func (wb *WindowBuffer) StopGC() {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	if wb.gcTicker != nil {
		wb.gcTicker.Stop()
		wb.gcTicker = nil
	}
	if wb.stopGC != nil {
		close(wb.stopGC)
		wb.stopGC = nil
	}
}

func (wb *WindowBuffer) gcRoutine(ticker *time.Ticker, stop chan struct{}) {
	for {
		select {
		case <-ticker.C:
			wb.GC(time.Now())
		case <-stop:
			return
		}
	}
}

// Stats returns buffer occupancy for diagnostics.
func (wb *WindowBuffer) Stats() (actors int, events int) {
	wb.mu.RLock()
	defer wb.mu.RUnlock()

	for _, buf := range wb.actors {
		buf.mu.RLock()
		events += len(buf.events)
		buf.mu.RUnlock()
	}
	return len(wb.actors), events
}
