package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kestrelsec/kestrel/internal/model"
	"github.com/kestrelsec/kestrel/internal/store"
)

// Column lists used for SELECT statements, one per table.
const (
	eventColumns = `id, actor_id, kind, occurred_at, source_addr, dest_addr,
		resource, action, outcome, attributes, session_id`

	profileColumns = `actor_id, display_name, org_unit, role, risk_level, risk_score,
		alert_count, event_count, session_count, last_activity, created_at, updated_at`

	sessionColumns = `session_id, actor_id, start_time, end_time, duration_sec,
		event_count, resource_count, action_count, status`

	patternColumns = `id, actor_id, kind, category, description, event_ids,
		frequency, confidence, risk_score, first_seen, last_seen, status`

	alertColumns = `id, actor_id, category, severity, description, evidence,
		created_at, status, risk_score, confidence, metadata`
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Events are immutable; a replayed ID is a no-op.
func queryPutEvent(ctx context.Context, db executor, ev *model.ActivityEvent) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO events (
			id, actor_id, kind, occurred_at, source_addr, dest_addr,
			resource, action, outcome, attributes, session_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID,
		ev.ActorID,
		string(ev.Kind),
		ev.Timestamp,
		nullString(ev.SourceAddr),
		nullString(ev.DestAddr),
		nullString(ev.Resource),
		nullString(ev.Action),
		string(ev.Outcome),
		jsonbMap(ev.Attributes),
		nullString(ev.SessionID),
	)
	return err
}

func queryGetEvent(ctx context.Context, db executor, id string) (*model.ActivityEvent, error) {
	row := db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return ev, err
}

func queryEventsByActor(ctx context.Context, db executor, actorID string, since time.Time) ([]*model.ActivityEvent, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE actor_id = $1 AND occurred_at >= $2 ORDER BY occurred_at ASC`,
		actorID, since)
	if err != nil {
		return nil, fmt.Errorf("events by actor: %w", err)
	}
	return collectEvents(rows)
}

func queryEventsSince(ctx context.Context, db executor, since time.Time) ([]*model.ActivityEvent, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE occurred_at >= $1 ORDER BY occurred_at ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("events since: %w", err)
	}
	return collectEvents(rows)
}

func queryPutProfile(ctx context.Context, db executor, p *model.ActorProfile) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO profiles (
			actor_id, display_name, org_unit, role, risk_level, risk_score,
			alert_count, event_count, session_count, last_activity, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (actor_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			org_unit = EXCLUDED.org_unit,
			role = EXCLUDED.role,
			risk_level = EXCLUDED.risk_level,
			risk_score = EXCLUDED.risk_score,
			alert_count = EXCLUDED.alert_count,
			event_count = EXCLUDED.event_count,
			session_count = EXCLUDED.session_count,
			last_activity = EXCLUDED.last_activity,
			updated_at = EXCLUDED.updated_at`,
		p.ActorID,
		nullString(p.DisplayName),
		nullString(p.OrgUnit),
		nullString(p.Role),
		string(p.RiskLevel),
		p.RiskScore,
		p.AlertCount,
		p.EventCount,
		p.SessionCount,
		p.LastActivity,
		p.CreatedAt,
		p.UpdatedAt,
	)
	return err
}

func queryGetProfile(ctx context.Context, db executor, actorID string) (*model.ActorProfile, error) {
	row := db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE actor_id = $1`, actorID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return p, err
}

func queryListProfiles(ctx context.Context, db executor) ([]*model.ActorProfile, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY actor_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*model.ActorProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func queryPutSession(ctx context.Context, db executor, s *model.SessionRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (
			session_id, actor_id, start_time, end_time, duration_sec,
			event_count, resource_count, action_count, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			duration_sec = EXCLUDED.duration_sec,
			event_count = EXCLUDED.event_count,
			resource_count = EXCLUDED.resource_count,
			action_count = EXCLUDED.action_count,
			status = EXCLUDED.status`,
		s.SessionID,
		s.ActorID,
		s.StartTime,
		nullTimePtr(s.EndTime),
		s.DurationSec,
		s.EventCount,
		s.ResourceCount,
		s.ActionCount,
		string(s.Status),
	)
	return err
}

func queryGetSession(ctx context.Context, db executor, sessionID string) (*model.SessionRecord, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, sessionID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return s, err
}

func querySessionsByActor(ctx context.Context, db executor, actorID string) ([]*model.SessionRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE actor_id = $1 ORDER BY start_time ASC`, actorID)
	if err != nil {
		return nil, fmt.Errorf("sessions by actor: %w", err)
	}
	return collectSessions(rows)
}

func queryActiveSessions(ctx context.Context, db executor) ([]*model.SessionRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = 'active' ORDER BY start_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("active sessions: %w", err)
	}
	return collectSessions(rows)
}

func queryPutPattern(ctx context.Context, db executor, p *model.BehaviorPattern) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO patterns (
			id, actor_id, kind, category, description, event_ids,
			frequency, confidence, risk_score, first_seen, last_seen, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			category = EXCLUDED.category,
			description = EXCLUDED.description,
			event_ids = EXCLUDED.event_ids,
			frequency = EXCLUDED.frequency,
			confidence = EXCLUDED.confidence,
			risk_score = EXCLUDED.risk_score,
			last_seen = EXCLUDED.last_seen,
			status = EXCLUDED.status`,
		p.ID,
		p.ActorID,
		string(p.Kind),
		string(p.Category),
		p.Description,
		jsonbStrings(p.EventIDs),
		p.Frequency,
		p.Confidence,
		p.RiskScore,
		p.FirstSeen,
		p.LastSeen,
		string(p.Status),
	)
	return err
}

func queryPatternsByActor(ctx context.Context, db executor, actorID string) ([]*model.BehaviorPattern, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+patternColumns+` FROM patterns WHERE actor_id = $1 ORDER BY last_seen DESC`, actorID)
	if err != nil {
		return nil, fmt.Errorf("patterns by actor: %w", err)
	}
	return collectPatterns(rows)
}

func queryListPatterns(ctx context.Context, db executor) ([]*model.BehaviorPattern, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+patternColumns+` FROM patterns ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	return collectPatterns(rows)
}

// Alerts are immutable once written.
func queryPutAlert(ctx context.Context, db executor, a *model.BehavioralAlert) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, actor_id, category, severity, description, evidence,
			created_at, status, risk_score, confidence, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		a.ID,
		a.ActorID,
		a.Category,
		a.Severity,
		a.Description,
		jsonbStrings(a.Evidence),
		a.Timestamp,
		string(a.Status),
		a.RiskScore,
		a.Confidence,
		jsonbMap(a.Metadata),
	)
	return err
}

func queryAlertsByActor(ctx context.Context, db executor, actorID string, since time.Time) ([]*model.BehavioralAlert, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE actor_id = $1 AND created_at >= $2 ORDER BY created_at DESC`,
		actorID, since)
	if err != nil {
		return nil, fmt.Errorf("alerts by actor: %w", err)
	}
	return collectAlerts(rows)
}

func queryListAlerts(ctx context.Context, db executor, filter store.AlertFilter) ([]*model.BehavioralAlert, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if filter.ActorID != "" {
		whereClauses = append(whereClauses, "actor_id = "+nextArg())
		args = append(args, filter.ActorID)
	}
	if filter.MinSeverity > 0 {
		whereClauses = append(whereClauses, "severity >= "+nextArg())
		args = append(args, filter.MinSeverity)
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return collectAlerts(rows)
}

func queryDeleteEvent(ctx context.Context, db executor, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

func queryDeleteAlert(ctx context.Context, db executor, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM alerts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	return nil
}

func queryCounts(ctx context.Context, db executor) (store.Counts, error) {
	var c store.Counts
	row := db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM events),
			(SELECT COUNT(*) FROM profiles),
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM sessions WHERE status = 'active'),
			(SELECT COUNT(*) FROM patterns),
			(SELECT COUNT(*) FROM alerts)`)
	if err := row.Scan(&c.Events, &c.Profiles, &c.Sessions, &c.ActiveSessions, &c.Patterns, &c.Alerts); err != nil {
		return store.Counts{}, fmt.Errorf("counts: %w", err)
	}
	return c, nil
}

// queryPruneBefore removes expired rows table by table, then drops profiles
// whose last event went with them. Not transactional: a partial sweep leaves
// only extra rows that the next sweep removes.
func queryPruneBefore(ctx context.Context, db executor, cutoff time.Time) (store.PruneStats, error) {
	var stats store.PruneStats

	del := func(dst *int, query string, args ...any) error {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		*dst = int(n)
		return nil
	}

	if err := del(&stats.Events, `DELETE FROM events WHERE occurred_at < $1`, cutoff); err != nil {
		return stats, fmt.Errorf("prune events: %w", err)
	}
	if err := del(&stats.Sessions, `
		DELETE FROM sessions
		WHERE (end_time IS NOT NULL AND end_time < $1)
		   OR (end_time IS NULL AND start_time < $1)`, cutoff); err != nil {
		return stats, fmt.Errorf("prune sessions: %w", err)
	}
	if err := del(&stats.Patterns, `DELETE FROM patterns WHERE last_seen < $1`, cutoff); err != nil {
		return stats, fmt.Errorf("prune patterns: %w", err)
	}
	if err := del(&stats.Alerts, `DELETE FROM alerts WHERE created_at < $1`, cutoff); err != nil {
		return stats, fmt.Errorf("prune alerts: %w", err)
	}
	if err := del(&stats.Profiles, `
		DELETE FROM profiles
		WHERE NOT EXISTS (SELECT 1 FROM events WHERE events.actor_id = profiles.actor_id)`); err != nil {
		return stats, fmt.Errorf("prune profiles: %w", err)
	}

	return stats, nil
}

func collectEvents(rows *sql.Rows) ([]*model.ActivityEvent, error) {
	defer rows.Close()
	var events []*model.ActivityEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func collectSessions(rows *sql.Rows) ([]*model.SessionRecord, error) {
	defer rows.Close()
	var sessions []*model.SessionRecord
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func collectPatterns(rows *sql.Rows) ([]*model.BehaviorPattern, error) {
	defer rows.Close()
	var patterns []*model.BehaviorPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

func collectAlerts(rows *sql.Rows) ([]*model.BehavioralAlert, error) {
	defer rows.Close()
	var alerts []*model.BehavioralAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
