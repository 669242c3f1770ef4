// Package testfixtures provides deterministic clocks, identifier generators,
// and in-memory repository implementations for tests.
package testfixtures

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/fleetshare/internal/persistence"
)

// MemoryIntervalRepository is an in-memory persistence.IntervalRepository with
// the same query semantics as the SQLite implementation.
type MemoryIntervalRepository struct {
	mu        sync.Mutex
	intervals map[string]persistence.Interval
}

// NewMemoryIntervalRepository returns an empty repository.
func NewMemoryIntervalRepository() *MemoryIntervalRepository {
	return &MemoryIntervalRepository{intervals: make(map[string]persistence.Interval)}
}

func (r *MemoryIntervalRepository) CreateInterval(_ context.Context, interval persistence.Interval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.intervals[interval.ID]; exists {
		return persistence.ErrDuplicate
	}
	r.intervals[interval.ID] = interval
	return nil
}

func (r *MemoryIntervalRepository) GetInterval(_ context.Context, id string) (persistence.Interval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	interval, ok := r.intervals[id]
	if !ok {
		return persistence.Interval{}, persistence.ErrNotFound
	}
	return interval, nil
}

func (r *MemoryIntervalRepository) ListOverlapping(_ context.Context, vehicleID string, start, end time.Time) ([]persistence.Interval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matches []persistence.Interval
	for _, interval := range r.intervals {
		if interval.VehicleID != vehicleID {
			continue
		}
		if interval.Status == persistence.IntervalStatusCancelled || interval.Status == persistence.IntervalStatusBumped {
			continue
		}
		if interval.Start.Before(end) && start.Before(interval.End) {
			matches = append(matches, interval)
		}
	}
	sortByStart(matches)
	return matches, nil
}

func (r *MemoryIntervalRepository) ListByVehicleAndOwner(_ context.Context, vehicleID, ownerID string, statuses []persistence.IntervalStatus) ([]persistence.Interval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	allowed := make(map[persistence.IntervalStatus]bool, len(statuses))
	for _, status := range statuses {
		allowed[status] = true
	}

	var matches []persistence.Interval
	for _, interval := range r.intervals {
		if interval.VehicleID != vehicleID || interval.OwnerID != ownerID {
			continue
		}
		if len(allowed) > 0 && !allowed[interval.Status] {
			continue
		}
		matches = append(matches, interval)
	}
	sortByStart(matches)
	return matches, nil
}

func (r *MemoryIntervalRepository) UpdateIntervalState(_ context.Context, interval persistence.Interval) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.intervals[interval.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	stored.Status = interval.Status
	stored.CheckedOutAt = interval.CheckedOutAt
	stored.CheckedInAt = interval.CheckedInAt
	stored.LateMinutes = interval.LateMinutes
	stored.UpdatedAt = interval.UpdatedAt
	r.intervals[interval.ID] = stored
	return nil
}

func sortByStart(intervals []persistence.Interval) {
	sort.Slice(intervals, func(i, j int) bool {
		if intervals[i].Start.Equal(intervals[j].Start) {
			return intervals[i].ID < intervals[j].ID
		}
		return intervals[i].Start.Before(intervals[j].Start)
	})
}

// MemoryRecurrenceRepository is an in-memory persistence.RecurrenceRepository.
type MemoryRecurrenceRepository struct {
	mu    sync.Mutex
	rules map[string]persistence.RecurrenceRule
}

// NewMemoryRecurrenceRepository returns an empty repository.
func NewMemoryRecurrenceRepository() *MemoryRecurrenceRepository {
	return &MemoryRecurrenceRepository{rules: make(map[string]persistence.RecurrenceRule)}
}

func (r *MemoryRecurrenceRepository) CreateRule(_ context.Context, rule persistence.RecurrenceRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rules[rule.ID]; exists {
		return persistence.ErrDuplicate
	}
	r.rules[rule.ID] = rule
	return nil
}

func (r *MemoryRecurrenceRepository) GetRule(_ context.Context, id string) (persistence.RecurrenceRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return persistence.RecurrenceRule{}, persistence.ErrNotFound
	}
	return rule, nil
}

func (r *MemoryRecurrenceRepository) ListActiveRules(_ context.Context) ([]persistence.RecurrenceRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rules []persistence.RecurrenceRule
	for _, rule := range r.rules {
		if rule.Status == persistence.RuleStatusCancelled {
			continue
		}
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

func (r *MemoryRecurrenceRepository) UpdateRuleStatus(_ context.Context, id string, status persistence.RuleStatus, pausedUntil *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[id]
	if !ok || rule.Status == persistence.RuleStatusCancelled {
		return persistence.ErrNotFound
	}
	rule.Status = status
	rule.PausedUntil = pausedUntil
	r.rules[id] = rule
	return nil
}

func (r *MemoryRecurrenceRepository) AdvanceWatermark(_ context.Context, id string, generatedUntil time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[id]
	if !ok {
		return persistence.ErrNotFound
	}
	// Watermarks only move forward; a stale advance is a silent no-op.
	if rule.GeneratedUntil.Before(generatedUntil) {
		rule.GeneratedUntil = generatedUntil
		r.rules[id] = rule
	}
	return nil
}

// MemoryFeeRepository is an in-memory persistence.FeeRepository.
type MemoryFeeRepository struct {
	mu   sync.Mutex
	fees map[string]persistence.LateFee
}

// NewMemoryFeeRepository returns an empty repository.
func NewMemoryFeeRepository() *MemoryFeeRepository {
	return &MemoryFeeRepository{fees: make(map[string]persistence.LateFee)}
}

func (r *MemoryFeeRepository) CreateFee(_ context.Context, fee persistence.LateFee) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.fees[fee.ID]; exists {
		return persistence.ErrDuplicate
	}
	r.fees[fee.ID] = fee
	return nil
}

func (r *MemoryFeeRepository) GetFee(_ context.Context, id string) (persistence.LateFee, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fee, ok := r.fees[id]
	if !ok {
		return persistence.LateFee{}, persistence.ErrNotFound
	}
	return fee, nil
}

func (r *MemoryFeeRepository) ListFeesByReservation(_ context.Context, reservationID string) ([]persistence.LateFee, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fees []persistence.LateFee
	for _, fee := range r.fees {
		if fee.ReservationID == reservationID {
			fees = append(fees, fee)
		}
	}
	sort.Slice(fees, func(i, j int) bool { return fees[i].ID < fees[j].ID })
	return fees, nil
}

func (r *MemoryFeeRepository) UpdateFee(_ context.Context, fee persistence.LateFee) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fees[fee.ID]; !ok {
		return persistence.ErrNotFound
	}
	r.fees[fee.ID] = fee
	return nil
}
