package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelsec/kestrel/internal/detect"
	"github.com/kestrelsec/kestrel/internal/model"
)

// MineNow runs one batch mining pass over the configured window, for a
// single actor or (with an empty actorID) for everyone. Qualifying groups
// are upserted as patterns: a group that matches an existing pattern for
// the same actor and kind refreshes it in place, keeping its identity and
// first-seen timestamp stable across runs.
func (e *Engine) MineNow(ctx context.Context, actorID string) ([]*model.BehaviorPattern, error) {
	start := time.Now()
	snap := e.cfg.Current()
	ref := time.Now().UTC()
	since := ref.Add(-snap.MiningWindow())

	var (
		events []*model.ActivityEvent
		err    error
	)
	if actorID != "" {
		events, err = e.store.EventsByActor(ctx, actorID, since)
	} else {
		events, err = e.store.EventsSince(ctx, since)
	}
	if err != nil {
		return nil, err
	}

	mined := e.det.MinePatterns(events, actorID, snap.MiningWindow(), ref, snap.PatternConfidence)

	var out []*model.BehaviorPattern
	for _, mp := range mined {
		p, err := e.persistPattern(ctx, mp)
		if err != nil {
			if e.metrics != nil {
				e.metrics.StorageErrors.Inc()
			}
			return out, err
		}
		out = append(out, p)
		if e.metrics != nil {
			e.metrics.PatternsMined.Inc()
		}
	}

	if e.metrics != nil {
		e.metrics.MiningDuration.Observe(time.Since(start).Seconds())
	}
	e.logger.Info("Pattern mining pass complete",
		"actor_id", actorID,
		"events", len(events),
		"patterns", len(out),
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

// persistPattern upserts a mined group keyed by actor and kind.
func (e *Engine) persistPattern(ctx context.Context, mp *detect.MinedPattern) (*model.BehaviorPattern, error) {
	existingList, err := e.store.PatternsByActor(ctx, mp.ActorID)
	if err != nil {
		return nil, err
	}

	var p *model.BehaviorPattern
	for _, existing := range existingList {
		if existing.Kind == mp.Kind {
			refreshed := *existing
			p = &refreshed
			break
		}
	}
	if p == nil {
		p = &model.BehaviorPattern{
			ID:        uuid.NewString(),
			ActorID:   mp.ActorID,
			Kind:      mp.Kind,
			FirstSeen: mp.FirstSeen,
			Status:    model.PatternActive,
		}
	}

	p.Category = mp.Category
	p.Description = mp.Description
	p.EventIDs = mp.EventIDs
	p.Frequency = mp.Frequency
	p.Confidence = mp.Confidence
	p.RiskScore = mp.RiskScore
	p.LastSeen = mp.LastSeen

	if err := e.store.PutPattern(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// RunMiningLoop mines on the configured interval until the context is
// cancelled. A failing pass is logged and the loop keeps going.
func (e *Engine) RunMiningLoop(ctx context.Context) {
	interval := e.cfg.Current().MiningInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Starting pattern mining loop", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Pattern mining loop stopped")
			return
		case <-ticker.C:
			if _, err := e.MineNow(ctx, ""); err != nil {
				e.logger.Error("Pattern mining pass failed", "error", err)
			}
			e.refreshGauges(ctx)
		}
	}
}

// RunRetentionLoop prunes state older than the retention window on the
// given interval until the context is cancelled.
func (e *Engine) RunRetentionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Starting retention sweeper", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Retention sweeper stopped")
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-e.cfg.Current().RetentionWindow())
			stats, err := e.store.PruneBefore(ctx, cutoff)
			if err != nil {
				if e.metrics != nil {
					e.metrics.StorageErrors.Inc()
				}
				e.logger.Error("Retention sweep failed", "error", err)
				continue
			}
			e.logger.Info("Retention sweep complete",
				"cutoff", cutoff,
				"events_removed", stats.Events,
				"sessions_removed", stats.Sessions,
				"profiles_removed", stats.Profiles,
				"patterns_removed", stats.Patterns,
				"alerts_removed", stats.Alerts)
			e.refreshGauges(ctx)
		}
	}
}

// refreshGauges realigns occupancy gauges with the store, correcting any
// drift from incremental updates.
func (e *Engine) refreshGauges(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	c, err := e.store.Counts(ctx)
	if err != nil {
		return
	}
	e.metrics.ActiveSessions.Set(float64(c.ActiveSessions))
	e.metrics.ProfilesTracked.Set(float64(c.Profiles))
}
