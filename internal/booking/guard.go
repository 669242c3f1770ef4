// Package booking admits reservation candidates into the committed interval
// set. All slot creation funnels through the ConflictGuard, which serializes
// the check-then-commit sequence per vehicle.
package booking

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/fleetshare/internal/locks"
	"github.com/example/fleetshare/internal/logging"
	"github.com/example/fleetshare/internal/metrics"
	"github.com/example/fleetshare/internal/persistence"
)

// IntervalStore captures the persistence interactions needed by the guard.
type IntervalStore interface {
	CreateInterval(ctx context.Context, interval persistence.Interval) error
	ListOverlapping(ctx context.Context, vehicleID string, start, end time.Time) ([]persistence.Interval, error)
	UpdateIntervalState(ctx context.Context, interval persistence.Interval) error
}

// Candidate is a proposed reservation interval, not yet committed.
type Candidate struct {
	VehicleID         string
	OwnerID           string
	RuleID            *string
	Start             time.Time
	End               time.Time
	PriorityTier      int
	EmergencyOverride bool
}

// CommitResult reports a successful admission. Bumped lists the previously
// committed intervals an emergency override displaced; notifying their owners
// is the caller's concern.
type CommitResult struct {
	Interval persistence.Interval
	Bumped   []persistence.Interval
}

// ConflictGuard decides whether a proposed reservation may be committed.
type ConflictGuard struct {
	store       IntervalStore
	vehicles    *locks.KeyedMutex
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewConflictGuard wires dependencies for reservation admission. vehicles is
// the per-vehicle lock arena, shared with every other service mutating
// intervals on the same fleet; nil gets a private arena.
func NewConflictGuard(store IntervalStore, vehicles *locks.KeyedMutex, idGenerator func() string, now func() time.Time, logger *slog.Logger) *ConflictGuard {
	if vehicles == nil {
		vehicles = locks.NewKeyedMutex()
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &ConflictGuard{
		store:       store,
		vehicles:    vehicles,
		idGenerator: idGenerator,
		now:         now,
		logger:      logger,
	}
}

// TryCommit admits the candidate or rejects it with the conflicting set.
//
// The overlap test is half-open: [s1,e1) and [s2,e2) intersect iff
// s1 < e2 && s2 < e1, so back-to-back reservations never conflict. The check
// and the commit run under the vehicle's lock, making the decision atomic
// with respect to concurrent commits on the same vehicle; commits on other
// vehicles proceed in parallel.
func (g *ConflictGuard) TryCommit(ctx context.Context, candidate Candidate) (CommitResult, error) {
	logger := logging.ServiceLogger(ctx, g.logger, "ConflictGuard", "TryCommit",
		"vehicle_id", candidate.VehicleID,
		"owner_id", candidate.OwnerID,
	)

	if err := validateCandidate(candidate); err != nil {
		metrics.IncReservationRejected("validation")
		return CommitResult{}, err
	}

	unlock := g.vehicles.Lock(candidate.VehicleID)
	defer unlock()

	overlapping, err := g.store.ListOverlapping(ctx, candidate.VehicleID, candidate.Start, candidate.End)
	if err != nil {
		logger.ErrorContext(ctx, "overlap query failed", "error", err)
		return CommitResult{}, err
	}

	if len(overlapping) > 0 && !candidate.EmergencyOverride {
		// Strict policy: non-emergency candidates never bump, even when every
		// conflicting interval sits on a lower priority tier.
		metrics.IncReservationRejected("conflict")
		logger.InfoContext(ctx, "candidate rejected", "conflicts", len(overlapping))
		return CommitResult{}, &ConflictError{Conflicts: overlapping}
	}

	var bumped []persistence.Interval
	for _, existing := range overlapping {
		if existing.EmergencyOverride {
			// Two emergencies may coexist; only regular reservations yield.
			continue
		}
		retired := existing
		retired.Status = persistence.IntervalStatusBumped
		if err := g.store.UpdateIntervalState(ctx, retired); err != nil {
			logger.ErrorContext(ctx, "failed to retire bumped reservation", "error", err, "bumped_id", existing.ID)
			return CommitResult{}, err
		}
		bumped = append(bumped, existing)
	}

	now := g.now().UTC()
	interval := persistence.Interval{
		ID:                g.idGenerator(),
		VehicleID:         candidate.VehicleID,
		OwnerID:           candidate.OwnerID,
		RuleID:            candidate.RuleID,
		Start:             candidate.Start.UTC(),
		End:               candidate.End.UTC(),
		PriorityTier:      candidate.PriorityTier,
		EmergencyOverride: candidate.EmergencyOverride,
		Status:            persistence.IntervalStatusConfirmed,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := g.store.CreateInterval(ctx, interval); err != nil {
		logger.ErrorContext(ctx, "failed to persist reservation", "error", err)
		return CommitResult{}, err
	}

	metrics.IncReservationCommitted()
	if len(bumped) > 0 {
		metrics.AddReservationsBumped(len(bumped))
		logger.InfoContext(ctx, "emergency override committed", "reservation_id", interval.ID, "bumped", len(bumped))
	} else {
		logger.InfoContext(ctx, "reservation committed", "reservation_id", interval.ID)
	}

	return CommitResult{Interval: interval, Bumped: bumped}, nil
}

func validateCandidate(candidate Candidate) error {
	vErr := &ValidationError{}

	if candidate.VehicleID == "" {
		vErr.Add("vehicle_id", "vehicle is required")
	}
	if candidate.OwnerID == "" {
		vErr.Add("owner_id", "owner is required")
	}
	if candidate.Start.IsZero() {
		vErr.Add("start", "start is required")
	}
	if candidate.End.IsZero() {
		vErr.Add("end", "end is required")
	}
	if !candidate.Start.IsZero() && !candidate.End.IsZero() && !candidate.Start.Before(candidate.End) {
		vErr.Add("time", "start must be before end")
	}

	if vErr.HasErrors() {
		return vErr
	}
	return nil
}
