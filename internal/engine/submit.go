package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelsec/kestrel/internal/detect"
	"github.com/kestrelsec/kestrel/internal/model"
	"github.com/kestrelsec/kestrel/internal/store"
)

// riskAlpha weights the newest event's combined risk into the actor's
// cumulative score. Older behavior decays rather than disappearing.
const riskAlpha = 0.3

// eventDeleter and alertDeleter are implemented by stores that can undo a
// write when a later step of the same submission fails.
type eventDeleter interface {
	DeleteEvent(ctx context.Context, id string) error
}

type alertDeleter interface {
	DeleteAlert(ctx context.Context, id string) error
}

// SubmitEvent runs the full ingestion pipeline for one event: validate,
// persist, window, heuristics, score, profile upsert, session update, and
// alert emission. Accepted is false with a reason for validation failures;
// storage failures additionally return a retryable error.
func (e *Engine) SubmitEvent(ctx context.Context, ev *model.ActivityEvent) (accepted bool, reason string, err error) {
	start := time.Now()
	if e.metrics != nil {
		defer func() {
			e.metrics.IngestDuration.Observe(time.Since(start).Seconds())
		}()
	}

	if ev == nil {
		return false, "nil event", nil
	}
	if ok, why := e.validator.Event(ev); !ok {
		if e.metrics != nil {
			e.metrics.EventsInvalid.Inc()
		}
		e.logger.Warn("Rejected event", "actor_id", ev.ActorID, "reason", why)
		return false, why, nil
	}
	if ev.ID == "" {
		ev.ID = ev.DeriveID()
	}

	mu := e.lockFor(ev.ActorID)
	mu.Lock()
	defer mu.Unlock()

	// Replayed submissions are accepted without reprocessing.
	if _, getErr := e.store.GetEvent(ctx, ev.ID); getErr == nil {
		return true, "duplicate", nil
	} else if !errors.Is(getErr, store.ErrNotFound) {
		return false, "storage failure", fmt.Errorf("check event: %w", getErr)
	}

	if err := e.store.PutEvent(ctx, ev); err != nil {
		return false, "storage failure", e.storageFailure("persist event", ev, err)
	}
	e.window.Add(ev)

	// Detection runs with the event already in the window and its origin
	// address not yet in the tracker.
	tags := e.det.Suspicious(ev)
	if ev.SourceAddr != "" {
		e.addrs.Observe(ev.ActorID, ev.SourceAddr)
	}
	recent := e.det.RecentSameKind(ev)
	risk := e.det.CombinedRisk(ev, recent, tags)

	profile, created, err := e.loadProfile(ctx, ev)
	if err != nil {
		return false, "storage failure", e.rollback(ctx, ev, nil, fmt.Errorf("load profile: %w", err))
	}
	e.applyEventToProfile(profile, ev, created, risk)

	if err := e.updateSession(ctx, ev, profile); err != nil {
		return false, "storage failure", e.rollback(ctx, ev, nil, err)
	}

	alert := e.maybeEmit(ev, risk, tags)
	if alert != nil {
		if err := e.store.PutAlert(ctx, alert); err != nil {
			return false, "storage failure", e.rollback(ctx, ev, nil, fmt.Errorf("persist alert: %w", err))
		}
		profile.AlertCount++
		profile.RiskLevel = riskLevelFor(profile.RiskScore, profile.AlertCount)
	}

	if err := e.store.PutProfile(ctx, profile); err != nil {
		return false, "storage failure", e.rollback(ctx, ev, alert, fmt.Errorf("persist profile: %w", err))
	}
	if created && e.metrics != nil {
		e.metrics.ProfilesTracked.Inc()
	}

	if alert != nil {
		if e.metrics != nil {
			e.metrics.AlertsEmitted.Inc()
		}
		// Delivery is best-effort and never rolls back persistence.
		if err := e.notifier.Notify(alert); err != nil {
			e.logger.Warn("Alert notification failed", "alert_id", alert.ID, "error", err)
		}
		e.logger.Info("Emitted behavioral alert",
			"alert_id", alert.ID,
			"actor_id", alert.ActorID,
			"category", alert.Category,
			"severity", alert.Severity,
			"risk_score", alert.RiskScore)
	}

	if e.metrics != nil {
		e.metrics.EventsTotal.Inc()
	}
	return true, "", nil
}

// rollback undoes the event write, and the alert write if one happened, so
// a retry reprocesses from scratch instead of short-circuiting as a
// duplicate or minting a second alert. It then reports the original failure.
func (e *Engine) rollback(ctx context.Context, ev *model.ActivityEvent, alert *model.BehavioralAlert, cause error) error {
	if alert != nil {
		if d, ok := e.store.(alertDeleter); ok {
			if err := d.DeleteAlert(ctx, alert.ID); err != nil {
				e.logger.Error("Alert rollback failed", "alert_id", alert.ID, "error", err)
			}
		}
	}
	if d, ok := e.store.(eventDeleter); ok {
		if err := d.DeleteEvent(ctx, ev.ID); err != nil {
			e.logger.Error("Event rollback failed", "event_id", ev.ID, "error", err)
		}
	}
	return e.storageFailure("apply event", ev, cause)
}

func (e *Engine) storageFailure(op string, ev *model.ActivityEvent, cause error) error {
	if e.metrics != nil {
		e.metrics.EventsRejected.Inc()
		e.metrics.StorageErrors.Inc()
	}
	e.logger.Error("Storage failure",
		"op", op,
		"event_id", ev.ID,
		"actor_id", ev.ActorID,
		"error", cause)
	return cause
}

// loadProfile returns the actor's profile, creating one on first sight.
func (e *Engine) loadProfile(ctx context.Context, ev *model.ActivityEvent) (*model.ActorProfile, bool, error) {
	p, err := e.store.GetProfile(ctx, ev.ActorID)
	if errors.Is(err, store.ErrNotFound) {
		now := time.Now().UTC()
		return &model.ActorProfile{
			ActorID:   ev.ActorID,
			RiskLevel: model.RiskLow,
			CreatedAt: now,
		}, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, false, nil
}

// applyEventToProfile folds one accepted event into the profile. The
// cumulative risk score is an exponential moving average so a quiet actor
// drifts back down instead of pinning at a past peak.
func (e *Engine) applyEventToProfile(p *model.ActorProfile, ev *model.ActivityEvent, created bool, risk float64) {
	p.EventCount++
	p.LastActivity = ev.Timestamp
	p.UpdatedAt = time.Now().UTC()
	if created {
		p.RiskScore = risk
	} else {
		p.RiskScore = (1-riskAlpha)*p.RiskScore + riskAlpha*risk
	}
	p.RiskLevel = riskLevelFor(p.RiskScore, p.AlertCount)
}

// riskLevelFor recomputes the cached risk level from the cumulative score
// and alert count. Idempotent.
func riskLevelFor(score float64, alerts int) model.RiskLevel {
	switch {
	case score > 0.8 || alerts > 10:
		return model.RiskCritical
	case score > 0.6 || alerts > 5:
		return model.RiskHigh
	case score > 0.4 || alerts > 2:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// updateSession tracks the event's session, if any. Idle-timeout closure is
// checked on every update, so a session expires as soon as any event shows
// its window has lapsed rather than waiting for a sweep.
func (e *Engine) updateSession(ctx context.Context, ev *model.ActivityEvent, profile *model.ActorProfile) error {
	if ev.SessionID == "" {
		return nil
	}

	s, err := e.store.GetSession(ctx, ev.SessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s = &model.SessionRecord{
			SessionID:  ev.SessionID,
			ActorID:    ev.ActorID,
			StartTime:  ev.Timestamp,
			EventCount: 1,
			Status:     model.SessionActive,
		}
		aux := e.sessionAux(ev.SessionID)
		if ev.Resource != "" {
			aux.resources[ev.Resource] = struct{}{}
			s.ResourceCount = 1
		}
		if ev.Action != "" {
			aux.actions[ev.Action] = struct{}{}
			s.ActionCount = 1
		}
		profile.SessionCount++
		if e.metrics != nil {
			e.metrics.ActiveSessions.Inc()
		}
	case err != nil:
		return fmt.Errorf("load session: %w", err)
	case s.Status != model.SessionActive:
		// Completed sessions are terminal.
		return nil
	default:
		s.EventCount++
		aux := e.sessionAux(ev.SessionID)
		if ev.Resource != "" {
			if _, seen := aux.resources[ev.Resource]; !seen {
				aux.resources[ev.Resource] = struct{}{}
				s.ResourceCount++
			}
		}
		if ev.Action != "" {
			if _, seen := aux.actions[ev.Action]; !seen {
				aux.actions[ev.Action] = struct{}{}
				s.ActionCount++
			}
		}

		if ev.Timestamp.Sub(s.StartTime) > e.cfg.Current().SessionIdleTimeout() {
			end := ev.Timestamp
			s.Status = model.SessionCompleted
			s.EndTime = &end
			s.DurationSec = int64(end.Sub(s.StartTime).Seconds())
			e.dropSessionAux(ev.SessionID)
			if e.metrics != nil {
				e.metrics.ActiveSessions.Dec()
			}
		}
	}

	if err := e.store.PutSession(ctx, s); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// maybeEmit builds an alert when the combined risk strictly exceeds the
// configured threshold. The caller persists it and bumps the actor's alert
// counter inside the same lock scope.
func (e *Engine) maybeEmit(ev *model.ActivityEvent, risk float64, tags []string) *model.BehavioralAlert {
	threshold := e.cfg.Current().AlertThreshold
	if risk <= threshold {
		return nil
	}

	category := categoryFor(tags)
	return &model.BehavioralAlert{
		ID:          uuid.NewString(),
		ActorID:     ev.ActorID,
		Category:    category,
		Severity:    severityFor(risk),
		Description: fmt.Sprintf("%s behavior on %s event for actor %s", category, ev.Kind, ev.ActorID),
		Evidence:    tags,
		Timestamp:   ev.Timestamp,
		Status:      model.AlertNew,
		RiskScore:   risk,
		Confidence:  min(risk+0.1, 1),
		Metadata:    map[string]string{"event_id": ev.ID},
	}
}

// categoryFor maps evidence tags to an alert category by fixed precedence.
func categoryFor(tags []string) string {
	has := func(tag string) bool {
		for _, t := range tags {
			if t == tag {
				return true
			}
		}
		return false
	}
	switch {
	case has(detect.TagPrivilegeEscalation):
		return model.CategoryPrivilegeEscalation
	case has(detect.TagMultipleFailedLogins):
		return model.CategoryBruteForce
	case has(detect.TagUnusualSourceIP):
		return model.CategoryUnusualAccess
	default:
		return model.CategorySuspiciousBehavior
	}
}

func severityFor(risk float64) int {
	switch {
	case risk > 0.9:
		return 10
	case risk > 0.8:
		return 8
	case risk > 0.7:
		return 6
	default:
		return 5
	}
}
