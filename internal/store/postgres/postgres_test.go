package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kestrelsec/kestrel/internal/model"
	"github.com/kestrelsec/kestrel/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var eventCols = []string{
	"id", "actor_id", "kind", "occurred_at", "source_addr", "dest_addr",
	"resource", "action", "outcome", "attributes", "session_id",
}

var profileCols = []string{
	"actor_id", "display_name", "org_unit", "role", "risk_level", "risk_score",
	"alert_count", "event_count", "session_count", "last_activity", "created_at", "updated_at",
}

var alertCols = []string{
	"id", "actor_id", "category", "severity", "description", "evidence",
	"created_at", "status", "risk_score", "confidence", "metadata",
}

func TestPutEvent(t *testing.T) {
	db, mock := newMockDB(t)

	ev := &model.ActivityEvent{
		ID:        "ev-1",
		ActorID:   "alice",
		Kind:      model.KindLogin,
		Timestamp: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		Outcome:   model.OutcomeSuccess,
	}

	mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryPutEvent(context.Background(), db, ev); err != nil {
		t.Fatalf("put event: %v", err)
	}
}

func TestGetEvent(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(eventCols).AddRow(
		"ev-1", "alice", "login", now, "10.0.0.5", nil,
		nil, nil, "success", []byte(`{"mfa":"true"}`), "sess-1",
	)
	mock.ExpectQuery("SELECT .+ FROM events WHERE id = \\$1").
		WithArgs("ev-1").
		WillReturnRows(rows)

	ev, err := queryGetEvent(context.Background(), db, "ev-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if ev.ActorID != "alice" || ev.Kind != model.KindLogin {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Attributes["mfa"] != "true" {
		t.Errorf("attributes not decoded: %v", ev.Attributes)
	}
	if ev.SessionID != "sess-1" {
		t.Errorf("session_id = %q", ev.SessionID)
	}
}

func TestGetEvent_NotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT .+ FROM events WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(eventCols))

	_, err := queryGetEvent(context.Background(), db, "missing")
	if err != store.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEventsByActor(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(eventCols).
		AddRow("ev-1", "alice", "login", now, nil, nil, nil, nil, "success", nil, nil).
		AddRow("ev-2", "alice", "file_access", now.Add(time.Minute), nil, nil, "/etc/passwd", "read", "denied", nil, nil)
	mock.ExpectQuery("SELECT .+ FROM events WHERE actor_id = \\$1 AND occurred_at >= \\$2").
		WithArgs("alice", now.Add(-time.Hour)).
		WillReturnRows(rows)

	events, err := queryEventsByActor(context.Background(), db, "alice", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("events by actor: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1].Outcome != model.OutcomeDenied {
		t.Errorf("outcome = %q", events[1].Outcome)
	}
}

func TestPutProfileUpsert(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	p := &model.ActorProfile{
		ActorID:      "alice",
		RiskLevel:    model.RiskMedium,
		RiskScore:    0.45,
		EventCount:   12,
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	mock.ExpectExec("INSERT INTO profiles .+ ON CONFLICT \\(actor_id\\) DO UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryPutProfile(context.Background(), db, p); err != nil {
		t.Fatalf("put profile: %v", err)
	}
}

func TestGetProfile(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(profileCols).AddRow(
		"alice", "Alice", nil, "analyst", "medium", 0.45,
		2, 12, 3, now, now, now,
	)
	mock.ExpectQuery("SELECT .+ FROM profiles WHERE actor_id = \\$1").
		WithArgs("alice").
		WillReturnRows(rows)

	p, err := queryGetProfile(context.Background(), db, "alice")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.RiskLevel != model.RiskMedium || p.AlertCount != 2 {
		t.Errorf("unexpected profile: %+v", p)
	}
}

func TestListAlerts_Filtered(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(alertCols).AddRow(
		"al-1", "alice", "brute-force", 5, "repeated failed logins",
		[]byte(`["ev-1","ev-2"]`), now, "open", 0.7, 0.8, nil,
	)
	mock.ExpectQuery("SELECT .+ FROM alerts WHERE actor_id = \\$1 AND severity >= \\$2 ORDER BY created_at DESC LIMIT \\$3").
		WithArgs("alice", 4, 10).
		WillReturnRows(rows)

	alerts, err := queryListAlerts(context.Background(), db, store.AlertFilter{
		ActorID:     "alice",
		MinSeverity: 4,
		Limit:       10,
	})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	if len(alerts[0].Evidence) != 2 {
		t.Errorf("evidence not decoded: %v", alerts[0].Evidence)
	}
}

func TestCounts(t *testing.T) {
	db, mock := newMockDB(t)

	rows := sqlmock.NewRows([]string{"events", "profiles", "sessions", "active", "patterns", "alerts"}).
		AddRow(100, 7, 12, 3, 4, 9)
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	c, err := queryCounts(context.Background(), db)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	want := store.Counts{Events: 100, Profiles: 7, Sessions: 12, ActiveSessions: 3, Patterns: 4, Alerts: 9}
	if c != want {
		t.Errorf("counts = %+v, want %+v", c, want)
	}
}

func TestPruneBefore(t *testing.T) {
	db, mock := newMockDB(t)
	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM events").WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 40))
	mock.ExpectExec("DELETE FROM sessions").WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec("DELETE FROM patterns").WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM alerts").WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM profiles").WillReturnResult(sqlmock.NewResult(0, 3))

	stats, err := queryPruneBefore(context.Background(), db, cutoff)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	want := store.PruneStats{Events: 40, Sessions: 5, Patterns: 1, Alerts: 2, Profiles: 3}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}
