package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/fleetshare/internal/persistence"
)

// RecurrenceRepository implements persistence.RecurrenceRepository using SQLite.
type RecurrenceRepository struct {
	pool *ConnectionPool
}

// NewRecurrenceRepository creates a new SQLite recurrence repository.
func NewRecurrenceRepository(pool *ConnectionPool) *RecurrenceRepository {
	return &RecurrenceRepository{pool: pool}
}

const ruleColumns = `id, vehicle_id, owner_id, pattern, interval, weekday_mask,
	start_minute, end_minute, window_start, window_end, timezone, priority_tier,
	status, paused_until, generated_until, created_at, updated_at`

// CreateRule inserts a recurrence rule.
func (r *RecurrenceRepository) CreateRule(ctx context.Context, rule persistence.RecurrenceRule) error {
	if rule.ID == "" {
		return persistence.ErrConstraintViolation
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO recurrence_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.pool.ExecWithRetry(ctx, query,
		rule.ID,
		rule.VehicleID,
		rule.OwnerID,
		string(rule.Pattern),
		rule.Interval,
		rule.WeekdayMask,
		rule.StartMinute,
		rule.EndMinute,
		formatTime(rule.WindowStart),
		nullTime(rule.WindowEnd),
		rule.Timezone,
		rule.PriorityTier,
		string(rule.Status),
		nullTime(rule.PausedUntil),
		formatTime(rule.GeneratedUntil),
		formatTime(rule.CreatedAt),
		formatTime(rule.UpdatedAt),
	)
	return err
}

// GetRule retrieves a recurrence rule by ID.
func (r *RecurrenceRepository) GetRule(ctx context.Context, id string) (persistence.RecurrenceRule, error) {
	if id == "" {
		return persistence.RecurrenceRule{}, persistence.ErrNotFound
	}

	row := r.pool.DB().QueryRowContext(ctx,
		"SELECT "+ruleColumns+" FROM recurrence_rules WHERE id = ?", id)
	rule, err := scanRule(row)
	if err != nil {
		return persistence.RecurrenceRule{}, MapError(err)
	}
	return rule, nil
}

// ListActiveRules returns rules eligible for expansion, paused ones included
// so the sweeper can decide whether the pause has lapsed.
func (r *RecurrenceRepository) ListActiveRules(ctx context.Context) ([]persistence.RecurrenceRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM recurrence_rules
		WHERE status != ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.DB().QueryContext(ctx, query, string(persistence.RuleStatusCancelled))
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()

	var rules []persistence.RecurrenceRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, MapError(err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return rules, nil
}

// UpdateRuleStatus transitions a rule's status. Cancelled rules stay cancelled.
func (r *RecurrenceRepository) UpdateRuleStatus(ctx context.Context, id string, status persistence.RuleStatus, pausedUntil *time.Time) error {
	query := `
		UPDATE recurrence_rules
		SET status = ?, paused_until = ?, updated_at = ?
		WHERE id = ? AND status != ?
	`

	result, err := r.pool.ExecWithRetry(ctx, query,
		string(status),
		nullTime(pausedUntil),
		formatTime(time.Now().UTC()),
		id,
		string(persistence.RuleStatusCancelled),
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

// AdvanceWatermark moves GeneratedUntil forward. The guard clause makes a
// stale or concurrent sweep's regression a silent no-op.
func (r *RecurrenceRepository) AdvanceWatermark(ctx context.Context, id string, generatedUntil time.Time) error {
	query := `
		UPDATE recurrence_rules
		SET generated_until = ?, updated_at = ?
		WHERE id = ? AND generated_until < ?
	`

	watermark := formatTime(generatedUntil)
	_, err := r.pool.ExecWithRetry(ctx, query,
		watermark,
		formatTime(time.Now().UTC()),
		id,
		watermark,
	)
	return err
}

func scanRule(row rowScanner) (persistence.RecurrenceRule, error) {
	var rule persistence.RecurrenceRule
	var pattern, status string
	var windowStartStr, generatedStr, createdStr, updatedStr string
	var windowEnd, pausedUntil sql.NullString

	err := row.Scan(
		&rule.ID,
		&rule.VehicleID,
		&rule.OwnerID,
		&pattern,
		&rule.Interval,
		&rule.WeekdayMask,
		&rule.StartMinute,
		&rule.EndMinute,
		&windowStartStr,
		&windowEnd,
		&rule.Timezone,
		&rule.PriorityTier,
		&status,
		&pausedUntil,
		&generatedStr,
		&createdStr,
		&updatedStr,
	)
	if err != nil {
		return persistence.RecurrenceRule{}, err
	}

	rule.Pattern = persistence.RulePattern(pattern)
	rule.Status = persistence.RuleStatus(status)

	if rule.WindowStart, err = parseTime(windowStartStr); err != nil {
		return persistence.RecurrenceRule{}, fmt.Errorf("failed to parse window_start: %w", err)
	}
	if rule.GeneratedUntil, err = parseTime(generatedStr); err != nil {
		return persistence.RecurrenceRule{}, fmt.Errorf("failed to parse generated_until: %w", err)
	}
	if rule.CreatedAt, err = parseTime(createdStr); err != nil {
		return persistence.RecurrenceRule{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if rule.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return persistence.RecurrenceRule{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if rule.WindowEnd, err = parseNullTime(windowEnd); err != nil {
		return persistence.RecurrenceRule{}, fmt.Errorf("failed to parse window_end: %w", err)
	}
	if rule.PausedUntil, err = parseNullTime(pausedUntil); err != nil {
		return persistence.RecurrenceRule{}, fmt.Errorf("failed to parse paused_until: %w", err)
	}

	return rule, nil
}
