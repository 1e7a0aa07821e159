// Package store defines the persistence interface for the engine and its
// in-memory authoritative implementation. A durable adapter (postgres)
// can be layered underneath via WriteThrough.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kestrelsec/kestrel/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// AlertFilter narrows ListAlerts results.
type AlertFilter struct {
	ActorID     string
	MinSeverity int
	Limit       int
}

// Counts summarizes store occupancy for the statistics endpoint.
type Counts struct {
	Events         int `json:"events"`
	Profiles       int `json:"profiles"`
	Sessions       int `json:"sessions"`
	ActiveSessions int `json:"active_sessions"`
	Patterns       int `json:"patterns"`
	Alerts         int `json:"alerts"`
}

// PruneStats reports what a retention sweep removed.
type PruneStats struct {
	Events   int `json:"events"`
	Sessions int `json:"sessions"`
	Profiles int `json:"profiles"`
	Patterns int `json:"patterns"`
	Alerts   int `json:"alerts"`
}

// Store is the persistence interface for all engine entities. Events and
// alerts are immutable once written; profiles, sessions, and patterns are
// upserted by their primary key.
type Store interface {
	PutEvent(ctx context.Context, ev *model.ActivityEvent) error
	GetEvent(ctx context.Context, id string) (*model.ActivityEvent, error)
	EventsByActor(ctx context.Context, actorID string, since time.Time) ([]*model.ActivityEvent, error)
	EventsSince(ctx context.Context, since time.Time) ([]*model.ActivityEvent, error)

	PutProfile(ctx context.Context, p *model.ActorProfile) error
	GetProfile(ctx context.Context, actorID string) (*model.ActorProfile, error)
	ListProfiles(ctx context.Context) ([]*model.ActorProfile, error)

	PutSession(ctx context.Context, s *model.SessionRecord) error
	GetSession(ctx context.Context, sessionID string) (*model.SessionRecord, error)
	SessionsByActor(ctx context.Context, actorID string) ([]*model.SessionRecord, error)
	ActiveSessions(ctx context.Context) ([]*model.SessionRecord, error)

	PutPattern(ctx context.Context, p *model.BehaviorPattern) error
	PatternsByActor(ctx context.Context, actorID string) ([]*model.BehaviorPattern, error)
	ListPatterns(ctx context.Context) ([]*model.BehaviorPattern, error)

	PutAlert(ctx context.Context, a *model.BehavioralAlert) error
	AlertsByActor(ctx context.Context, actorID string, since time.Time) ([]*model.BehavioralAlert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*model.BehavioralAlert, error)

	Counts(ctx context.Context) (Counts, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (PruneStats, error)
	Close() error
}
