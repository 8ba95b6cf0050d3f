package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/lorrc/follow-notifier/internal/core/domain"
	"github.com/lorrc/follow-notifier/internal/core/ports"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// EventStore persists delivered follower events in a local SQLite database.
// It backs the notification history view and the catch-up window after a
// process restart.
type EventStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ ports.EventHistory = (*EventStore)(nil)

// Open opens (creating if necessary) the database at path and applies any
// pending migrations.
func Open(path string, logger *slog.Logger) (*EventStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	// modernc sqlite is in-process; a single writer connection avoids
	// SQLITE_BUSY churn under concurrent handlers.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &EventStore{
		db:     db,
		logger: logger.With("component", "event_store"),
	}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Record appends one delivered event to the history. Repeated deliveries of
// the same id (a re-follow after dropping off the snapshot) are stored as
// separate rows.
func (s *EventStore) Record(ctx context.Context, e domain.FollowerEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO follower_events (event_id, display_name, avatar_url, observed_at, source, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.DisplayName, e.AvatarURL, e.ObservedAt.UTC().Format(time.RFC3339Nano),
		string(e.Source), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record follower event: %w", err)
	}
	return nil
}

// ListSince returns events observed at or after since, newest first.
func (s *EventStore) ListSince(ctx context.Context, since time.Time, limit int) ([]domain.FollowerEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, display_name, avatar_url, observed_at, source
		FROM follower_events
		WHERE observed_at >= ?
		ORDER BY observed_at DESC
		LIMIT ?`,
		since.UTC().Format(time.RFC3339Nano), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list follower events: %w", err)
	}
	defer rows.Close()

	var events []domain.FollowerEvent
	for rows.Next() {
		var (
			e          domain.FollowerEvent
			observedAt string
			source     string
		)
		if err := rows.Scan(&e.ID, &e.DisplayName, &e.AvatarURL, &observedAt, &source); err != nil {
			return nil, fmt.Errorf("scan follower event: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, observedAt); err == nil {
			e.ObservedAt = t
		}
		e.Source = domain.EventSource(source)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune deletes events observed before the cutoff and returns the number of
// rows removed.
func (s *EventStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM follower_events WHERE observed_at < ?`,
		before.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune follower events: %w", err)
	}
	return res.RowsAffected()
}

// Ping verifies the database is reachable, for readiness probes.
func (s *EventStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *EventStore) Close() error {
	return s.db.Close()
}
