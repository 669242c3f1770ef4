package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; PRAGMA user_version tracks the last one
// applied so reopening an existing database is a no-op.
var migrations = []string{
	`CREATE TABLE intervals (
		id                 TEXT PRIMARY KEY,
		vehicle_id         TEXT NOT NULL,
		owner_id           TEXT NOT NULL,
		rule_id            TEXT,
		start_time         TEXT NOT NULL,
		end_time           TEXT NOT NULL,
		priority_tier      INTEGER NOT NULL DEFAULT 0,
		emergency_override INTEGER NOT NULL DEFAULT 0,
		status             TEXT NOT NULL,
		checked_out_at     TEXT,
		checked_in_at      TEXT,
		late_minutes       INTEGER NOT NULL DEFAULT 0,
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL,
		CHECK (start_time < end_time)
	);
	CREATE INDEX idx_intervals_vehicle_time ON intervals (vehicle_id, start_time, end_time);
	CREATE INDEX idx_intervals_owner ON intervals (owner_id);`,

	`CREATE TABLE recurrence_rules (
		id              TEXT PRIMARY KEY,
		vehicle_id      TEXT NOT NULL,
		owner_id        TEXT NOT NULL,
		pattern         TEXT NOT NULL,
		interval        INTEGER NOT NULL DEFAULT 1,
		weekday_mask    INTEGER NOT NULL DEFAULT 0,
		start_minute    INTEGER NOT NULL,
		end_minute      INTEGER NOT NULL,
		window_start    TEXT NOT NULL,
		window_end      TEXT,
		timezone        TEXT NOT NULL,
		priority_tier   INTEGER NOT NULL DEFAULT 0,
		status          TEXT NOT NULL,
		paused_until    TEXT,
		generated_until TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	);
	CREATE INDEX idx_rules_status ON recurrence_rules (status);`,

	`CREATE TABLE late_fees (
		id             TEXT PRIMARY KEY,
		reservation_id TEXT NOT NULL REFERENCES intervals (id),
		late_minutes   INTEGER NOT NULL,
		amount_minor   INTEGER NOT NULL,
		currency       TEXT NOT NULL,
		status         TEXT NOT NULL,
		waived_by      TEXT,
		waived_reason  TEXT,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	);
	CREATE INDEX idx_fees_reservation ON late_fees (reservation_id);`,
}

// Storage bundles the connection pool with the repositories backed by it.
type Storage struct {
	pool *ConnectionPool

	Intervals   *IntervalRepository
	Recurrences *RecurrenceRepository
	Fees        *FeeRepository
}

// Open opens (or creates) the SQLite database at the given DSN.
func Open(dsn string) (*Storage, error) {
	pool, err := NewConnectionPool(dsn)
	if err != nil {
		return nil, err
	}
	return &Storage{
		pool:        pool,
		Intervals:   NewIntervalRepository(pool),
		Recurrences: NewRecurrenceRepository(pool),
		Fees:        NewFeeRepository(pool),
	}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}

// Ping tests the database connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies any migrations not yet recorded in PRAGMA user_version.
func (s *Storage) Migrate(ctx context.Context) error {
	var version int
	if err := s.pool.DB().QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		stmt := migrations[i]
		next := i + 1
		err := s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("migration %d failed: %w", next, err)
			}
			// PRAGMA does not accept bind parameters.
			if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", next)); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", next, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}
