// Package trip drives a reservation through checkout, check-in, and
// cancellation. Transitions are strictly ordered; an interval that left the
// confirmed state can never be cancelled, only completed.
package trip

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/fleetshare/internal/booking"
	"github.com/example/fleetshare/internal/latefee"
	"github.com/example/fleetshare/internal/locks"
	"github.com/example/fleetshare/internal/logging"
	"github.com/example/fleetshare/internal/metrics"
	"github.com/example/fleetshare/internal/persistence"
)

var (
	// ErrNotFound is returned when the referenced reservation does not exist.
	ErrNotFound = errors.New("trip: reservation not found")
	// ErrNotConfirmed is returned when checking out a reservation that is not
	// in the confirmed state.
	ErrNotConfirmed = errors.New("trip: reservation is not confirmed")
	// ErrNotCheckedOut is returned when checking in a reservation that is not
	// currently checked out.
	ErrNotCheckedOut = errors.New("trip: reservation is not checked out")
	// ErrAlreadyCheckedOut is returned when cancelling a reservation whose
	// vehicle has already been picked up.
	ErrAlreadyCheckedOut = errors.New("trip: reservation is already checked out")
	// ErrNotCancellable is returned when cancelling a reservation that is
	// completed, cancelled, or bumped.
	ErrNotCancellable = errors.New("trip: reservation cannot be cancelled")
)

// IntervalStore captures the persistence interactions for trip transitions.
type IntervalStore interface {
	GetInterval(ctx context.Context, id string) (persistence.Interval, error)
	UpdateIntervalState(ctx context.Context, interval persistence.Interval) error
}

// CheckinResult reports a completed trip and the fee, if any, its lateness
// produced.
type CheckinResult struct {
	Interval    persistence.Interval
	LateMinutes int
	Fee         *persistence.LateFee
}

// Service owns reservation lifecycle transitions.
type Service struct {
	store    IntervalStore
	fees     *latefee.Service
	vehicles *locks.KeyedMutex
	now      func() time.Time
	logger   *slog.Logger
}

// NewService wires dependencies for trip transitions. vehicles is the
// per-vehicle lock arena, shared with every other service mutating intervals
// on the same fleet; nil gets a private arena.
func NewService(store IntervalStore, fees *latefee.Service, vehicles *locks.KeyedMutex, now func() time.Time, logger *slog.Logger) *Service {
	if vehicles == nil {
		vehicles = locks.NewKeyedMutex()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    store,
		fees:     fees,
		vehicles: vehicles,
		now:      now,
		logger:   logger,
	}
}

// Get returns the reservation when it exists and belongs to the user.
func (s *Service) Get(ctx context.Context, reservationID, userID string) (persistence.Interval, error) {
	return s.load(ctx, reservationID, userID)
}

// Checkout marks a confirmed reservation as picked up. The transition runs
// under the vehicle's lock so a concurrent cancellation cannot slip between
// the read and the write.
func (s *Service) Checkout(ctx context.Context, reservationID, userID string) (persistence.Interval, error) {
	logger := logging.ServiceLogger(ctx, s.logger, "TripService", "Checkout", "reservation_id", reservationID)

	interval, err := s.load(ctx, reservationID, userID)
	if err != nil {
		return persistence.Interval{}, err
	}

	unlock := s.vehicles.Lock(interval.VehicleID)
	defer unlock()

	// Re-read under the lock; the state may have moved.
	interval, err = s.load(ctx, reservationID, userID)
	if err != nil {
		return persistence.Interval{}, err
	}
	if interval.Status != persistence.IntervalStatusConfirmed {
		return persistence.Interval{}, ErrNotConfirmed
	}

	now := s.now().UTC()
	interval.Status = persistence.IntervalStatusCheckedOut
	interval.CheckedOutAt = &now
	interval.UpdatedAt = now

	if err := s.store.UpdateIntervalState(ctx, interval); err != nil {
		return persistence.Interval{}, err
	}

	logger.InfoContext(ctx, "vehicle checked out", "vehicle_id", interval.VehicleID)
	return interval, nil
}

// Checkin completes a checked-out trip. Lateness is the whole minutes by
// which the return passed the reservation end; an on-time or early return is
// zero. A late return produces a pending fee priced by the configured policy.
func (s *Service) Checkin(ctx context.Context, reservationID, userID string) (CheckinResult, error) {
	logger := logging.ServiceLogger(ctx, s.logger, "TripService", "Checkin", "reservation_id", reservationID)

	interval, err := s.load(ctx, reservationID, userID)
	if err != nil {
		return CheckinResult{}, err
	}

	unlock := s.vehicles.Lock(interval.VehicleID)
	defer unlock()

	interval, err = s.load(ctx, reservationID, userID)
	if err != nil {
		return CheckinResult{}, err
	}
	if interval.Status != persistence.IntervalStatusCheckedOut {
		return CheckinResult{}, ErrNotCheckedOut
	}

	now := s.now().UTC()
	lateMinutes := 0
	if now.After(interval.End) {
		lateMinutes = int(now.Sub(interval.End) / time.Minute)
	}

	// The fee is written before the completion. A failed write surfaces the
	// error and leaves the trip checked out, so the check-in can be retried;
	// fee creation is deduplicated per reservation, so a retry after a failed
	// completion write reuses the fee already on record.
	var fee *persistence.LateFee
	feeCreated := false
	if s.fees != nil && lateMinutes > 0 {
		created, wasNew, err := s.fees.CreateForLateness(ctx, interval.ID, lateMinutes)
		if err != nil {
			logger.ErrorContext(ctx, "late fee creation failed", "error", err, "late_minutes", lateMinutes)
			return CheckinResult{}, err
		}
		fee = &created
		feeCreated = wasNew
	}

	interval.Status = persistence.IntervalStatusCompleted
	interval.CheckedInAt = &now
	interval.LateMinutes = lateMinutes
	interval.UpdatedAt = now

	if err := s.store.UpdateIntervalState(ctx, interval); err != nil {
		return CheckinResult{}, err
	}

	if feeCreated {
		metrics.IncLateFee()
	}
	result := CheckinResult{Interval: interval, LateMinutes: lateMinutes, Fee: fee}

	logger.InfoContext(ctx, "vehicle checked in",
		"vehicle_id", interval.VehicleID,
		"late_minutes", lateMinutes,
	)
	return result, nil
}

// Cancel releases a confirmed reservation. Checked-out trips must be
// completed by check-in, not cancelled.
func (s *Service) Cancel(ctx context.Context, reservationID, userID string) (persistence.Interval, error) {
	logger := logging.ServiceLogger(ctx, s.logger, "TripService", "Cancel", "reservation_id", reservationID)

	interval, err := s.load(ctx, reservationID, userID)
	if err != nil {
		return persistence.Interval{}, err
	}

	unlock := s.vehicles.Lock(interval.VehicleID)
	defer unlock()

	interval, err = s.load(ctx, reservationID, userID)
	if err != nil {
		return persistence.Interval{}, err
	}

	switch interval.Status {
	case persistence.IntervalStatusConfirmed:
	case persistence.IntervalStatusCheckedOut:
		return persistence.Interval{}, ErrAlreadyCheckedOut
	default:
		return persistence.Interval{}, ErrNotCancellable
	}

	now := s.now().UTC()
	interval.Status = persistence.IntervalStatusCancelled
	interval.UpdatedAt = now

	if err := s.store.UpdateIntervalState(ctx, interval); err != nil {
		return persistence.Interval{}, err
	}

	logger.InfoContext(ctx, "reservation cancelled", "vehicle_id", interval.VehicleID)
	return interval, nil
}

func (s *Service) load(ctx context.Context, reservationID, userID string) (persistence.Interval, error) {
	interval, err := s.store.GetInterval(ctx, reservationID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.Interval{}, ErrNotFound
		}
		return persistence.Interval{}, err
	}
	if userID != "" && interval.OwnerID != userID {
		return persistence.Interval{}, booking.ErrUnauthorized
	}
	return interval, nil
}
