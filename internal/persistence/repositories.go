package persistence

import (
	"context"
	"time"
)

// IntervalRepository is the append-oriented index of committed reservation
// intervals. Implementations must answer overlap queries per vehicle; callers
// are responsible for serializing check-then-commit sequences per vehicle.
type IntervalRepository interface {
	CreateInterval(ctx context.Context, interval Interval) error
	GetInterval(ctx context.Context, id string) (Interval, error)
	// ListOverlapping returns non-cancelled, non-bumped intervals on the
	// vehicle whose [Start, End) range intersects [start, end).
	ListOverlapping(ctx context.Context, vehicleID string, start, end time.Time) ([]Interval, error)
	// ListByVehicleAndOwner returns intervals for the owner on the vehicle
	// restricted to the provided statuses, ordered by Start ascending.
	ListByVehicleAndOwner(ctx context.Context, vehicleID, ownerID string, statuses []IntervalStatus) ([]Interval, error)
	// UpdateIntervalState persists lifecycle mutations: status, checkout and
	// check-in timestamps, and realized lateness. Time bounds never change.
	UpdateIntervalState(ctx context.Context, interval Interval) error
}

// RecurrenceRepository stores recurrence rules and their expansion watermarks.
type RecurrenceRepository interface {
	CreateRule(ctx context.Context, rule RecurrenceRule) error
	GetRule(ctx context.Context, id string) (RecurrenceRule, error)
	ListActiveRules(ctx context.Context) ([]RecurrenceRule, error)
	UpdateRuleStatus(ctx context.Context, id string, status RuleStatus, pausedUntil *time.Time) error
	// AdvanceWatermark moves GeneratedUntil forward. Implementations must
	// reject regressions so a stale sweep can never reopen a generated range.
	AdvanceWatermark(ctx context.Context, id string, generatedUntil time.Time) error
}

// FeeRepository stores late-return fees.
type FeeRepository interface {
	CreateFee(ctx context.Context, fee LateFee) error
	GetFee(ctx context.Context, id string) (LateFee, error)
	ListFeesByReservation(ctx context.Context, reservationID string) ([]LateFee, error)
	UpdateFee(ctx context.Context, fee LateFee) error
}
