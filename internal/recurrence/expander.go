package recurrence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/fleetshare/internal/booking"
	"github.com/example/fleetshare/internal/logging"
	"github.com/example/fleetshare/internal/metrics"
	"github.com/example/fleetshare/internal/persistence"
)

// Guard admits candidate intervals; satisfied by booking.ConflictGuard.
type Guard interface {
	TryCommit(ctx context.Context, candidate booking.Candidate) (booking.CommitResult, error)
}

// RuleStore captures the persistence interactions needed by the expander.
type RuleStore interface {
	GetRule(ctx context.Context, id string) (persistence.RecurrenceRule, error)
	AdvanceWatermark(ctx context.Context, id string, generatedUntil time.Time) error
}

// SkippedOccurrence records a date whose instance was not committed. A
// conflict is an expected gap in the series, not an error; an anomaly is a
// rule whose time bounds produce an empty or inverted instance.
type SkippedOccurrence struct {
	Date    time.Time
	Reason  string
	Details string
}

const (
	SkipReasonConflict = "conflict"
	SkipReasonAnomaly  = "anomaly"
)

// Result reports one expansion pass over a rule.
type Result struct {
	Committed    []persistence.Interval
	Skipped      []SkippedOccurrence
	NewWatermark time.Time
}

// Expander materializes recurrence rules into committed intervals.
type Expander struct {
	rules  RuleStore
	guard  Guard
	now    func() time.Time
	logger *slog.Logger
}

// NewExpander wires dependencies for rule expansion.
func NewExpander(rules RuleStore, guard Guard, now func() time.Time, logger *slog.Logger) *Expander {
	if now == nil {
		now = time.Now
	}
	return &Expander{rules: rules, guard: guard, now: now, logger: logger}
}

// ExpandUntil materializes the rule's instances for every calendar date
// strictly after its watermark and on/before the horizon, submitting each to
// the conflict guard. Rejected instances are recorded as skipped occurrences
// so the series continues. The watermark then advances to the horizon, which
// makes re-expansion with the same or a smaller horizon a no-op.
func (e *Expander) ExpandUntil(ctx context.Context, rule persistence.RecurrenceRule, horizon time.Time) (Result, error) {
	logger := logging.ServiceLogger(ctx, e.logger, "Expander", "ExpandUntil", "rule_id", rule.ID)
	horizon = DateOnly(horizon)
	watermark := DateOnly(rule.GeneratedUntil)

	if rule.Status == persistence.RuleStatusCancelled {
		return Result{NewWatermark: watermark}, nil
	}
	if rule.Status == persistence.RuleStatusPaused {
		if rule.PausedUntil == nil || e.now().Before(*rule.PausedUntil) {
			return Result{NewWatermark: watermark}, nil
		}
	}
	if !horizon.After(watermark) {
		return Result{NewWatermark: watermark}, nil
	}

	loc, err := time.LoadLocation(rule.Timezone)
	if err != nil {
		return Result{}, ErrInvalidTimezone
	}

	upper := horizon
	if rule.WindowEnd != nil {
		if windowEnd := DateOnly(*rule.WindowEnd); windowEnd.Before(upper) {
			upper = windowEnd
		}
	}

	result := Result{NewWatermark: watermark}
	for date := watermark.AddDate(0, 0, 1); !date.After(upper); date = date.AddDate(0, 0, 1) {
		include, err := includesDate(rule, date)
		if err != nil {
			return Result{}, err
		}
		if !include {
			continue
		}

		if rule.EndMinute <= rule.StartMinute {
			// Conservative: never interpreted as crossing midnight.
			metrics.IncExpansionInstance("anomaly")
			logger.WarnContext(ctx, "skipping instance with non-positive duration",
				"date", date.Format(time.DateOnly),
				"start_minute", rule.StartMinute,
				"end_minute", rule.EndMinute,
			)
			result.Skipped = append(result.Skipped, SkippedOccurrence{
				Date:   date,
				Reason: SkipReasonAnomaly,
			})
			continue
		}

		start, end := instanceBounds(rule, date, loc)
		ruleID := rule.ID
		commit, err := e.guard.TryCommit(ctx, booking.Candidate{
			VehicleID:    rule.VehicleID,
			OwnerID:      rule.OwnerID,
			RuleID:       &ruleID,
			Start:        start,
			End:          end,
			PriorityTier: rule.PriorityTier,
		})
		if err != nil {
			var conflict *booking.ConflictError
			if errors.As(err, &conflict) {
				metrics.IncExpansionInstance("skipped")
				result.Skipped = append(result.Skipped, SkippedOccurrence{
					Date:    date,
					Reason:  SkipReasonConflict,
					Details: conflict.Error(),
				})
				continue
			}
			// A store failure aborts without advancing the watermark so the
			// next sweep retries from the same point.
			logger.ErrorContext(ctx, "expansion aborted", "error", err, "date", date.Format(time.DateOnly))
			return Result{}, err
		}

		metrics.IncExpansionInstance("committed")
		result.Committed = append(result.Committed, commit.Interval)
	}

	if err := e.rules.AdvanceWatermark(ctx, rule.ID, horizon); err != nil {
		return Result{}, err
	}
	result.NewWatermark = horizon

	logger.InfoContext(ctx, "rule expanded",
		"committed", len(result.Committed),
		"skipped", len(result.Skipped),
		"watermark", horizon.Format(time.DateOnly),
	)
	return result, nil
}
