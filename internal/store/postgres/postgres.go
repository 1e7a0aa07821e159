// Package postgres implements the store.Store interface backed by PostgreSQL.
// It is the durable side of a WriteThrough pair; the in-memory store stays
// authoritative for reads.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/kestrelsec/kestrel/internal/model"
	"github.com/kestrelsec/kestrel/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) PutEvent(ctx context.Context, ev *model.ActivityEvent) error {
	return queryPutEvent(ctx, s.db, ev)
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.ActivityEvent, error) {
	return queryGetEvent(ctx, s.db, id)
}

func (s *PostgresStore) EventsByActor(ctx context.Context, actorID string, since time.Time) ([]*model.ActivityEvent, error) {
	return queryEventsByActor(ctx, s.db, actorID, since)
}

func (s *PostgresStore) EventsSince(ctx context.Context, since time.Time) ([]*model.ActivityEvent, error) {
	return queryEventsSince(ctx, s.db, since)
}

func (s *PostgresStore) PutProfile(ctx context.Context, p *model.ActorProfile) error {
	return queryPutProfile(ctx, s.db, p)
}

func (s *PostgresStore) GetProfile(ctx context.Context, actorID string) (*model.ActorProfile, error) {
	return queryGetProfile(ctx, s.db, actorID)
}

func (s *PostgresStore) ListProfiles(ctx context.Context) ([]*model.ActorProfile, error) {
	return queryListProfiles(ctx, s.db)
}

func (s *PostgresStore) PutSession(ctx context.Context, sess *model.SessionRecord) error {
	return queryPutSession(ctx, s.db, sess)
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*model.SessionRecord, error) {
	return queryGetSession(ctx, s.db, sessionID)
}

func (s *PostgresStore) SessionsByActor(ctx context.Context, actorID string) ([]*model.SessionRecord, error) {
	return querySessionsByActor(ctx, s.db, actorID)
}

func (s *PostgresStore) ActiveSessions(ctx context.Context) ([]*model.SessionRecord, error) {
	return queryActiveSessions(ctx, s.db)
}

func (s *PostgresStore) PutPattern(ctx context.Context, p *model.BehaviorPattern) error {
	return queryPutPattern(ctx, s.db, p)
}

func (s *PostgresStore) PatternsByActor(ctx context.Context, actorID string) ([]*model.BehaviorPattern, error) {
	return queryPatternsByActor(ctx, s.db, actorID)
}

func (s *PostgresStore) ListPatterns(ctx context.Context) ([]*model.BehaviorPattern, error) {
	return queryListPatterns(ctx, s.db)
}

func (s *PostgresStore) PutAlert(ctx context.Context, a *model.BehavioralAlert) error {
	return queryPutAlert(ctx, s.db, a)
}

func (s *PostgresStore) AlertsByActor(ctx context.Context, actorID string, since time.Time) ([]*model.BehavioralAlert, error) {
	return queryAlertsByActor(ctx, s.db, actorID, since)
}

func (s *PostgresStore) ListAlerts(ctx context.Context, filter store.AlertFilter) ([]*model.BehavioralAlert, error) {
	return queryListAlerts(ctx, s.db, filter)
}

// DeleteEvent removes an event row, undoing a write from a submission whose
// later steps failed.
func (s *PostgresStore) DeleteEvent(ctx context.Context, id string) error {
	return queryDeleteEvent(ctx, s.db, id)
}

// DeleteAlert removes an alert row, undoing a write from a submission whose
// later steps failed.
func (s *PostgresStore) DeleteAlert(ctx context.Context, id string) error {
	return queryDeleteAlert(ctx, s.db, id)
}

func (s *PostgresStore) Counts(ctx context.Context) (store.Counts, error) {
	return queryCounts(ctx, s.db)
}

func (s *PostgresStore) PruneBefore(ctx context.Context, cutoff time.Time) (store.PruneStats, error) {
	return queryPruneBefore(ctx, s.db, cutoff)
}
