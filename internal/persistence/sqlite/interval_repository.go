package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/fleetshare/internal/persistence"
)

// IntervalRepository implements persistence.IntervalRepository using SQLite.
type IntervalRepository struct {
	pool *ConnectionPool
}

// NewIntervalRepository creates a new SQLite interval repository.
func NewIntervalRepository(pool *ConnectionPool) *IntervalRepository {
	return &IntervalRepository{pool: pool}
}

const intervalColumns = `id, vehicle_id, owner_id, rule_id, start_time, end_time,
	priority_tier, emergency_override, status, checked_out_at, checked_in_at,
	late_minutes, created_at, updated_at`

// CreateInterval inserts a committed reservation interval.
func (r *IntervalRepository) CreateInterval(ctx context.Context, interval persistence.Interval) error {
	if interval.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if !interval.End.After(interval.Start) {
		return persistence.ErrConstraintViolation
	}

	now := time.Now().UTC()
	if interval.CreatedAt.IsZero() {
		interval.CreatedAt = now
	}
	interval.UpdatedAt = now

	query := `
		INSERT INTO intervals (` + intervalColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.pool.ExecWithRetry(ctx, query,
		interval.ID,
		interval.VehicleID,
		interval.OwnerID,
		nullString(interval.RuleID),
		formatTime(interval.Start),
		formatTime(interval.End),
		interval.PriorityTier,
		boolToInt(interval.EmergencyOverride),
		string(interval.Status),
		nullTime(interval.CheckedOutAt),
		nullTime(interval.CheckedInAt),
		interval.LateMinutes,
		formatTime(interval.CreatedAt),
		formatTime(interval.UpdatedAt),
	)
	return err
}

// GetInterval retrieves an interval by ID.
func (r *IntervalRepository) GetInterval(ctx context.Context, id string) (persistence.Interval, error) {
	if id == "" {
		return persistence.Interval{}, persistence.ErrNotFound
	}

	row := r.pool.DB().QueryRowContext(ctx,
		"SELECT "+intervalColumns+" FROM intervals WHERE id = ?", id)
	interval, err := scanInterval(row)
	if err != nil {
		return persistence.Interval{}, MapError(err)
	}
	return interval, nil
}

// ListOverlapping returns active intervals on the vehicle intersecting the
// half-open [start, end) range: existing.start < end AND start < existing.end.
func (r *IntervalRepository) ListOverlapping(ctx context.Context, vehicleID string, start, end time.Time) ([]persistence.Interval, error) {
	query := `
		SELECT ` + intervalColumns + `
		FROM intervals
		WHERE vehicle_id = ?
		  AND status NOT IN (?, ?)
		  AND start_time < ?
		  AND ? < end_time
		ORDER BY start_time ASC, id ASC
	`

	rows, err := r.pool.DB().QueryContext(ctx, query,
		vehicleID,
		string(persistence.IntervalStatusCancelled),
		string(persistence.IntervalStatusBumped),
		formatTime(end),
		formatTime(start),
	)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()

	return collectIntervals(rows)
}

// ListByVehicleAndOwner returns the owner's intervals on the vehicle in the
// given statuses, ordered by start ascending.
func (r *IntervalRepository) ListByVehicleAndOwner(ctx context.Context, vehicleID, ownerID string, statuses []persistence.IntervalStatus) ([]persistence.Interval, error) {
	query := "SELECT " + intervalColumns + " FROM intervals WHERE vehicle_id = ? AND owner_id = ?"
	args := []any{vehicleID, ownerID}

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += " AND status IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY start_time ASC, id ASC"

	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()

	return collectIntervals(rows)
}

// UpdateIntervalState persists lifecycle mutations. Time bounds are never
// touched here; committed intervals are immutable in their window.
func (r *IntervalRepository) UpdateIntervalState(ctx context.Context, interval persistence.Interval) error {
	if interval.ID == "" {
		return persistence.ErrNotFound
	}

	query := `
		UPDATE intervals
		SET status = ?, checked_out_at = ?, checked_in_at = ?, late_minutes = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.pool.ExecWithRetry(ctx, query,
		string(interval.Status),
		nullTime(interval.CheckedOutAt),
		nullTime(interval.CheckedInAt),
		interval.LateMinutes,
		formatTime(time.Now().UTC()),
		interval.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInterval(row rowScanner) (persistence.Interval, error) {
	var interval persistence.Interval
	var ruleID sql.NullString
	var startStr, endStr, createdStr, updatedStr, status string
	var checkedOut, checkedIn sql.NullString
	var emergency int

	err := row.Scan(
		&interval.ID,
		&interval.VehicleID,
		&interval.OwnerID,
		&ruleID,
		&startStr,
		&endStr,
		&interval.PriorityTier,
		&emergency,
		&status,
		&checkedOut,
		&checkedIn,
		&interval.LateMinutes,
		&createdStr,
		&updatedStr,
	)
	if err != nil {
		return persistence.Interval{}, err
	}

	interval.Status = persistence.IntervalStatus(status)
	interval.EmergencyOverride = emergency != 0
	if ruleID.Valid {
		interval.RuleID = &ruleID.String
	}

	if interval.Start, err = parseTime(startStr); err != nil {
		return persistence.Interval{}, fmt.Errorf("failed to parse start_time: %w", err)
	}
	if interval.End, err = parseTime(endStr); err != nil {
		return persistence.Interval{}, fmt.Errorf("failed to parse end_time: %w", err)
	}
	if interval.CreatedAt, err = parseTime(createdStr); err != nil {
		return persistence.Interval{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if interval.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return persistence.Interval{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if interval.CheckedOutAt, err = parseNullTime(checkedOut); err != nil {
		return persistence.Interval{}, fmt.Errorf("failed to parse checked_out_at: %w", err)
	}
	if interval.CheckedInAt, err = parseNullTime(checkedIn); err != nil {
		return persistence.Interval{}, fmt.Errorf("failed to parse checked_in_at: %w", err)
	}

	return interval, nil
}

func collectIntervals(rows *sql.Rows) ([]persistence.Interval, error) {
	var intervals []persistence.Interval
	for rows.Next() {
		interval, err := scanInterval(rows)
		if err != nil {
			return nil, MapError(err)
		}
		intervals = append(intervals, interval)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return intervals, nil
}

// RFC3339 at second precision keeps stored timestamps lexicographically
// ordered, which the overlap query's string comparisons rely on.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339, value)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	parsed, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
