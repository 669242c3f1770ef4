// Package latefee turns lateness into money. Compute is a pure function so
// every charge can be re-derived for audit, and waivers are one-way.
package latefee

import "errors"

var (
	// ErrNotFound is returned when the referenced fee does not exist.
	ErrNotFound = errors.New("latefee: fee not found")
	// ErrNotWaivable is returned when waiving a fee that is already charged
	// or waived. Waivers are irreversible.
	ErrNotWaivable = errors.New("latefee: fee is not pending")
	// ErrReasonRequired is returned when a waiver carries no reason.
	ErrReasonRequired = errors.New("latefee: waiver reason is required")
)

// Policy prices lateness in whole billing blocks with a hard cap. Amounts are
// in minor currency units to keep the computation exact.
type Policy struct {
	// GraceMinutes of lateness cost nothing.
	GraceMinutes int
	// BlockMinutes is the billing granularity; partial blocks round up.
	BlockMinutes int
	// RatePerBlockMinor is charged per started block.
	RatePerBlockMinor int64
	// CapMinor bounds the total fee. Zero means uncapped.
	CapMinor int64
	Currency string
}

// Compute maps lateness to a fee amount. It is deterministic, zero at zero
// lateness, and monotonically non-decreasing in lateMinutes.
func Compute(lateMinutes int, policy Policy) int64 {
	if lateMinutes <= 0 || lateMinutes <= policy.GraceMinutes {
		return 0
	}

	blockMinutes := policy.BlockMinutes
	if blockMinutes < 1 {
		blockMinutes = 1
	}

	billable := lateMinutes - policy.GraceMinutes
	blocks := int64((billable + blockMinutes - 1) / blockMinutes)
	amount := blocks * policy.RatePerBlockMinor

	if policy.CapMinor > 0 && amount > policy.CapMinor {
		return policy.CapMinor
	}
	return amount
}
