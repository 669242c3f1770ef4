package persistence

import "time"

// IntervalStatus tracks a committed reservation interval through its lifecycle.
type IntervalStatus string

const (
	IntervalStatusConfirmed  IntervalStatus = "confirmed"
	IntervalStatusCheckedOut IntervalStatus = "checked_out"
	IntervalStatusCompleted  IntervalStatus = "completed"
	IntervalStatusCancelled  IntervalStatus = "cancelled"
	// IntervalStatusBumped marks an interval displaced by an emergency override.
	IntervalStatusBumped IntervalStatus = "bumped"
)

// Interval is a committed reservation of a vehicle for a half-open [Start, End)
// window. Time bounds are immutable after commit; only Status and the
// checkout/check-in timestamps mutate.
type Interval struct {
	ID                string
	VehicleID         string
	OwnerID           string
	RuleID            *string
	Start             time.Time
	End               time.Time
	PriorityTier      int
	EmergencyOverride bool
	Status            IntervalStatus
	CheckedOutAt      *time.Time
	CheckedInAt       *time.Time
	LateMinutes       int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RuleStatus tracks whether a recurrence rule is still eligible for expansion.
type RuleStatus string

const (
	RuleStatusActive    RuleStatus = "active"
	RuleStatusPaused    RuleStatus = "paused"
	RuleStatusCancelled RuleStatus = "cancelled"
)

// RulePattern selects the date-inclusion predicate for a recurrence rule.
type RulePattern string

const (
	RulePatternDaily  RulePattern = "daily"
	RulePatternWeekly RulePattern = "weekly"
)

// RecurrenceRule is a repeating reservation schedule. GeneratedUntil is the
// expansion watermark: the UTC date up to which instances have already been
// materialized. It only moves forward.
type RecurrenceRule struct {
	ID             string
	VehicleID      string
	OwnerID        string
	Pattern        RulePattern
	Interval       int
	WeekdayMask    int
	StartMinute    int
	EndMinute      int
	WindowStart    time.Time
	WindowEnd      *time.Time
	Timezone       string
	PriorityTier   int
	Status         RuleStatus
	PausedUntil    *time.Time
	GeneratedUntil time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FeeStatus tracks a late-return fee through charge or waiver.
type FeeStatus string

const (
	FeeStatusPending FeeStatus = "pending"
	FeeStatusCharged FeeStatus = "charged"
	FeeStatusWaived  FeeStatus = "waived"
)

// LateFee records the monetary consequence of a late check-in. Never deleted;
// a waiver mutates Status and the waiver fields exactly once.
type LateFee struct {
	ID            string
	ReservationID string
	LateMinutes   int
	AmountMinor   int64
	Currency      string
	Status        FeeStatus
	WaivedBy      *string
	WaivedReason  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
