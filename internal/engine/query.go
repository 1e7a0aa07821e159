package engine

import (
	"context"
	"time"

	"github.com/kestrelsec/kestrel/internal/model"
	"github.com/kestrelsec/kestrel/internal/store"
)

// recentWindow bounds the "recent" counters in actor summaries.
const recentWindow = 24 * time.Hour

// ActorSummary is the query-side view of one actor.
type ActorSummary struct {
	Profile            *model.ActorProfile `json:"profile"`
	RecentEventCount   int                 `json:"recent_event_count"`
	RecentAlertCount   int                 `json:"recent_alert_count"`
	ActivePatternCount int                 `json:"active_pattern_count"`
	ActiveSessionCount int                 `json:"active_session_count"`
}

// Statistics is the engine-wide occupancy view.
type Statistics struct {
	TotalEvents       int            `json:"total_events"`
	TotalProfiles     int            `json:"total_profiles"`
	TotalPatterns     int            `json:"total_patterns"`
	TotalAlerts       int            `json:"total_alerts"`
	ActiveSessions    int            `json:"active_sessions"`
	ActorsByRiskLevel map[string]int `json:"actors_by_risk_level"`
}

// GetActorSummary returns the actor's profile together with counts over
// the last 24 hours. store.ErrNotFound passes through for unknown actors.
func (e *Engine) GetActorSummary(ctx context.Context, actorID string) (*ActorSummary, error) {
	profile, err := e.store.GetProfile(ctx, actorID)
	if err != nil {
		return nil, err
	}

	since := time.Now().UTC().Add(-recentWindow)
	events, err := e.store.EventsByActor(ctx, actorID, since)
	if err != nil {
		return nil, err
	}
	alerts, err := e.store.AlertsByActor(ctx, actorID, since)
	if err != nil {
		return nil, err
	}
	patterns, err := e.store.PatternsByActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	sessions, err := e.store.SessionsByActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	summary := &ActorSummary{
		Profile:          profile,
		RecentEventCount: len(events),
		RecentAlertCount: len(alerts),
	}
	for _, p := range patterns {
		if p.Status == model.PatternActive {
			summary.ActivePatternCount++
		}
	}
	for _, s := range sessions {
		if s.Status == model.SessionActive {
			summary.ActiveSessionCount++
		}
	}
	return summary, nil
}

// GetStatistics returns store occupancy plus the risk-level breakdown.
func (e *Engine) GetStatistics(ctx context.Context) (*Statistics, error) {
	c, err := e.store.Counts(ctx)
	if err != nil {
		return nil, err
	}
	profiles, err := e.store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}

	byLevel := map[string]int{
		string(model.RiskLow):      0,
		string(model.RiskMedium):   0,
		string(model.RiskHigh):     0,
		string(model.RiskCritical): 0,
	}
	for _, p := range profiles {
		byLevel[string(p.RiskLevel)]++
	}

	return &Statistics{
		TotalEvents:       c.Events,
		TotalProfiles:     c.Profiles,
		TotalPatterns:     c.Patterns,
		TotalAlerts:       c.Alerts,
		ActiveSessions:    c.ActiveSessions,
		ActorsByRiskLevel: byLevel,
	}, nil
}

// Alerts lists alerts matching the filter, newest first.
func (e *Engine) Alerts(ctx context.Context, filter store.AlertFilter) ([]*model.BehavioralAlert, error) {
	return e.store.ListAlerts(ctx, filter)
}

// Patterns lists mined patterns, optionally narrowed to one actor.
func (e *Engine) Patterns(ctx context.Context, actorID string) ([]*model.BehaviorPattern, error) {
	if actorID != "" {
		return e.store.PatternsByActor(ctx, actorID)
	}
	return e.store.ListPatterns(ctx)
}

// Sessions lists an actor's sessions in start order, or every active
// session when no actor is given.
func (e *Engine) Sessions(ctx context.Context, actorID string) ([]*model.SessionRecord, error) {
	if actorID == "" {
		return e.store.ActiveSessions(ctx)
	}
	return e.store.SessionsByActor(ctx, actorID)
}

// Healthy reports whether the store answers queries.
func (e *Engine) Healthy(ctx context.Context) bool {
	_, err := e.store.Counts(ctx)
	return err == nil
}
