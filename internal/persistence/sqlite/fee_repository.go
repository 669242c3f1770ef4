package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/fleetshare/internal/persistence"
)

// FeeRepository implements persistence.FeeRepository using SQLite.
type FeeRepository struct {
	pool *ConnectionPool
}

// NewFeeRepository creates a new SQLite fee repository.
func NewFeeRepository(pool *ConnectionPool) *FeeRepository {
	return &FeeRepository{pool: pool}
}

const feeColumns = `id, reservation_id, late_minutes, amount_minor, currency,
	status, waived_by, waived_reason, created_at, updated_at`

// CreateFee inserts a late-return fee record.
func (r *FeeRepository) CreateFee(ctx context.Context, fee persistence.LateFee) error {
	if fee.ID == "" {
		return persistence.ErrConstraintViolation
	}

	now := time.Now().UTC()
	if fee.CreatedAt.IsZero() {
		fee.CreatedAt = now
	}
	fee.UpdatedAt = now

	query := `
		INSERT INTO late_fees (` + feeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.pool.ExecWithRetry(ctx, query,
		fee.ID,
		fee.ReservationID,
		fee.LateMinutes,
		fee.AmountMinor,
		fee.Currency,
		string(fee.Status),
		nullString(fee.WaivedBy),
		nullString(fee.WaivedReason),
		formatTime(fee.CreatedAt),
		formatTime(fee.UpdatedAt),
	)
	return err
}

// GetFee retrieves a fee by ID.
func (r *FeeRepository) GetFee(ctx context.Context, id string) (persistence.LateFee, error) {
	if id == "" {
		return persistence.LateFee{}, persistence.ErrNotFound
	}

	row := r.pool.DB().QueryRowContext(ctx,
		"SELECT "+feeColumns+" FROM late_fees WHERE id = ?", id)
	fee, err := scanFee(row)
	if err != nil {
		return persistence.LateFee{}, MapError(err)
	}
	return fee, nil
}

// ListFeesByReservation returns fees attached to a reservation.
func (r *FeeRepository) ListFeesByReservation(ctx context.Context, reservationID string) ([]persistence.LateFee, error) {
	query := "SELECT " + feeColumns + " FROM late_fees WHERE reservation_id = ? ORDER BY created_at ASC, id ASC"

	rows, err := r.pool.DB().QueryContext(ctx, query, reservationID)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()

	var fees []persistence.LateFee
	for rows.Next() {
		fee, err := scanFee(rows)
		if err != nil {
			return nil, MapError(err)
		}
		fees = append(fees, fee)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return fees, nil
}

// UpdateFee persists a status transition. Fee records are never deleted.
func (r *FeeRepository) UpdateFee(ctx context.Context, fee persistence.LateFee) error {
	if fee.ID == "" {
		return persistence.ErrNotFound
	}

	query := `
		UPDATE late_fees
		SET status = ?, waived_by = ?, waived_reason = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.pool.ExecWithRetry(ctx, query,
		string(fee.Status),
		nullString(fee.WaivedBy),
		nullString(fee.WaivedReason),
		formatTime(time.Now().UTC()),
		fee.ID,
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

func scanFee(row rowScanner) (persistence.LateFee, error) {
	var fee persistence.LateFee
	var status, createdStr, updatedStr string
	var waivedBy, waivedReason sql.NullString

	err := row.Scan(
		&fee.ID,
		&fee.ReservationID,
		&fee.LateMinutes,
		&fee.AmountMinor,
		&fee.Currency,
		&status,
		&waivedBy,
		&waivedReason,
		&createdStr,
		&updatedStr,
	)
	if err != nil {
		return persistence.LateFee{}, err
	}

	fee.Status = persistence.FeeStatus(status)
	if waivedBy.Valid {
		fee.WaivedBy = &waivedBy.String
	}
	if waivedReason.Valid {
		fee.WaivedReason = &waivedReason.String
	}

	if fee.CreatedAt, err = parseTime(createdStr); err != nil {
		return persistence.LateFee{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if fee.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return persistence.LateFee{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return fee, nil
}
