package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kestrelsec/kestrel/internal/model"
)

// Memory is the authoritative in-memory store. All maps are keyed by
// entity id; events additionally keep a per-actor index so history reads
// on the hot path avoid full scans.
type Memory struct {
	mu sync.RWMutex

	events        map[string]*model.ActivityEvent
	eventsByActor map[string][]*model.ActivityEvent
	profiles      map[string]*model.ActorProfile
	sessions      map[string]*model.SessionRecord
	patterns      map[string]*model.BehaviorPattern
	alerts        map[string]*model.BehavioralAlert
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		events:        make(map[string]*model.ActivityEvent),
		eventsByActor: make(map[string][]*model.ActivityEvent),
		profiles:      make(map[string]*model.ActorProfile),
		sessions:      make(map[string]*model.SessionRecord),
		patterns:      make(map[string]*model.BehaviorPattern),
		alerts:        make(map[string]*model.BehavioralAlert),
	}
}

func (m *Memory) PutEvent(_ context.Context, ev *model.ActivityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.events[ev.ID]; exists {
		return nil // events are immutable, a replay is a no-op
	}
	m.events[ev.ID] = ev
	m.eventsByActor[ev.ActorID] = append(m.eventsByActor[ev.ActorID], ev)
	return nil
}

func (m *Memory) GetEvent(_ context.Context, id string) (*model.ActivityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, exists := m.events[id]
	if !exists {
		return nil, ErrNotFound
	}
	return ev, nil
}

func (m *Memory) EventsByActor(_ context.Context, actorID string, since time.Time) ([]*model.ActivityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*model.ActivityEvent
	for _, ev := range m.eventsByActor[actorID] {
		if !ev.Timestamp.Before(since) {
			result = append(result, ev)
		}
	}
	sortEvents(result)
	return result, nil
}

func (m *Memory) EventsSince(_ context.Context, since time.Time) ([]*model.ActivityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*model.ActivityEvent
	for _, ev := range m.events {
		if !ev.Timestamp.Before(since) {
			result = append(result, ev)
		}
	}
	sortEvents(result)
	return result, nil
}

func (m *Memory) PutProfile(_ context.Context, p *model.ActorProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.profiles[p.ActorID] = &cp
	return nil
}

func (m *Memory) GetProfile(_ context.Context, actorID string) (*model.ActorProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, exists := m.profiles[actorID]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ListProfiles(_ context.Context) ([]*model.ActorProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*model.ActorProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ActorID < result[j].ActorID })
	return result, nil
}

func (m *Memory) PutSession(_ context.Context, s *model.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.sessions[s.SessionID] = &cp
	return nil
}

func (m *Memory) GetSession(_ context.Context, sessionID string) (*model.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) SessionsByActor(_ context.Context, actorID string) ([]*model.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*model.SessionRecord
	for _, s := range m.sessions {
		if s.ActorID == actorID {
			cp := *s
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartTime.Before(result[j].StartTime) })
	return result, nil
}

func (m *Memory) ActiveSessions(_ context.Context) ([]*model.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*model.SessionRecord
	for _, s := range m.sessions {
		if s.Status == model.SessionActive {
			cp := *s
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartTime.Before(result[j].StartTime) })
	return result, nil
}

func (m *Memory) PutPattern(_ context.Context, p *model.BehaviorPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.patterns[p.ID] = &cp
	return nil
}

func (m *Memory) PatternsByActor(_ context.Context, actorID string) ([]*model.BehaviorPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*model.BehaviorPattern
	for _, p := range m.patterns {
		if p.ActorID == actorID {
			cp := *p
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FirstSeen.Before(result[j].FirstSeen) })
	return result, nil
}

func (m *Memory) ListPatterns(_ context.Context) ([]*model.BehaviorPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*model.BehaviorPattern, 0, len(m.patterns))
	for _, p := range m.patterns {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) PutAlert(_ context.Context, a *model.BehavioralAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.alerts[a.ID] = a
	return nil
}

func (m *Memory) AlertsByActor(_ context.Context, actorID string, since time.Time) ([]*model.BehavioralAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*model.BehavioralAlert
	for _, a := range m.alerts {
		if a.ActorID == actorID && !a.Timestamp.Before(since) {
			result = append(result, a)
		}
	}
	sortAlerts(result)
	return result, nil
}

func (m *Memory) ListAlerts(_ context.Context, filter AlertFilter) ([]*model.BehavioralAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*model.BehavioralAlert
	for _, a := range m.alerts {
		if filter.ActorID != "" && a.ActorID != filter.ActorID {
			continue
		}
		if a.Severity < filter.MinSeverity {
			continue
		}
		result = append(result, a)
	}
	sortAlerts(result)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *Memory) Counts(_ context.Context) (Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := Counts{
		Events:   len(m.events),
		Profiles: len(m.profiles),
		Sessions: len(m.sessions),
		Patterns: len(m.patterns),
		Alerts:   len(m.alerts),
	}
	for _, s := range m.sessions {
		if s.Status == model.SessionActive {
			c.ActiveSessions++
		}
	}
	return c, nil
}

// PruneBefore removes events, closed sessions, patterns, and alerts that
// fell out of the retention window, then drops profiles left with no
// events at all.
func (m *Memory) PruneBefore(_ context.Context, cutoff time.Time) (PruneStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats PruneStats

	for id, ev := range m.events {
		if ev.Timestamp.Before(cutoff) {
			delete(m.events, id)
			stats.Events++
		}
	}
	for actorID, events := range m.eventsByActor {
		kept := events[:0:0]
		for _, ev := range events {
			if !ev.Timestamp.Before(cutoff) {
				kept = append(kept, ev)
			}
		}
		if len(kept) == 0 {
			delete(m.eventsByActor, actorID)
		} else {
			m.eventsByActor[actorID] = kept
		}
	}

	for id, s := range m.sessions {
		ended := s.EndTime != nil && s.EndTime.Before(cutoff)
		stale := s.EndTime == nil && s.StartTime.Before(cutoff)
		if ended || stale {
			delete(m.sessions, id)
			stats.Sessions++
		}
	}
	for id, p := range m.patterns {
		if p.LastSeen.Before(cutoff) {
			delete(m.patterns, id)
			stats.Patterns++
		}
	}
	for id, a := range m.alerts {
		if a.Timestamp.Before(cutoff) {
			delete(m.alerts, id)
			stats.Alerts++
		}
	}
	for actorID := range m.profiles {
		if len(m.eventsByActor[actorID]) == 0 {
			delete(m.profiles, actorID)
			stats.Profiles++
		}
	}

	return stats, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

// DeleteEvent removes a single event, undoing a PutEvent that could not
// be mirrored to the durable store.
func (m *Memory) DeleteEvent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, exists := m.events[id]
	if !exists {
		return nil
	}
	delete(m.events, id)

	events := m.eventsByActor[ev.ActorID]
	for i, cand := range events {
		if cand.ID == id {
			m.eventsByActor[ev.ActorID] = append(events[:i], events[i+1:]...)
			break
		}
	}
	return nil
}

// DeleteAlert removes a single alert, undoing a PutAlert from a submission
// whose later steps failed.
func (m *Memory) DeleteAlert(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.alerts, id)
	return nil
}

func sortEvents(events []*model.ActivityEvent) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

func sortAlerts(alerts []*model.BehavioralAlert) {
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
}
