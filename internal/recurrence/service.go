package recurrence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/fleetshare/internal/booking"
	"github.com/example/fleetshare/internal/logging"
	"github.com/example/fleetshare/internal/persistence"
)

// Store captures the full rule persistence surface used by the service.
type Store interface {
	CreateRule(ctx context.Context, rule persistence.RecurrenceRule) error
	GetRule(ctx context.Context, id string) (persistence.RecurrenceRule, error)
	UpdateRuleStatus(ctx context.Context, id string, status persistence.RuleStatus, pausedUntil *time.Time) error
	AdvanceWatermark(ctx context.Context, id string, generatedUntil time.Time) error
}

// RuleInput describes a recurrence rule to create.
type RuleInput struct {
	VehicleID    string
	OwnerID      string
	Pattern      persistence.RulePattern
	Interval     int
	WeekdayMask  int
	StartMinute  int
	EndMinute    int
	WindowStart  time.Time
	WindowEnd    *time.Time
	Timezone     string
	PriorityTier int
}

// Service manages the recurrence rule lifecycle and on-demand expansion.
type Service struct {
	store       Store
	expander    *Expander
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewService wires dependencies for rule management.
func NewService(store Store, expander *Expander, idGenerator func() string, now func() time.Time, logger *slog.Logger) *Service {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, expander: expander, idGenerator: idGenerator, now: now, logger: logger}
}

// CreateRule validates and persists a new active rule. The watermark starts
// the day before the window so the window's first date is eligible.
func (s *Service) CreateRule(ctx context.Context, input RuleInput) (persistence.RecurrenceRule, error) {
	if err := validateRuleInput(input); err != nil {
		return persistence.RecurrenceRule{}, err
	}

	interval := input.Interval
	if interval < 1 {
		interval = 1
	}

	now := s.now().UTC()
	windowStart := DateOnly(input.WindowStart)
	rule := persistence.RecurrenceRule{
		ID:             s.idGenerator(),
		VehicleID:      input.VehicleID,
		OwnerID:        input.OwnerID,
		Pattern:        input.Pattern,
		Interval:       interval,
		WeekdayMask:    input.WeekdayMask,
		StartMinute:    input.StartMinute,
		EndMinute:      input.EndMinute,
		WindowStart:    windowStart,
		WindowEnd:      input.WindowEnd,
		Timezone:       input.Timezone,
		PriorityTier:   input.PriorityTier,
		Status:         persistence.RuleStatusActive,
		GeneratedUntil: windowStart.AddDate(0, 0, -1),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateRule(ctx, rule); err != nil {
		return persistence.RecurrenceRule{}, err
	}

	logging.ServiceLogger(ctx, s.logger, "RecurrenceService", "CreateRule").
		InfoContext(ctx, "rule created", "rule_id", rule.ID, "vehicle_id", rule.VehicleID)
	return rule, nil
}

// Pause suspends expansion until the given time. A nil pausedUntil pauses
// indefinitely.
func (s *Service) Pause(ctx context.Context, ruleID, ownerID string, pausedUntil *time.Time) error {
	rule, err := s.authorize(ctx, ruleID, ownerID)
	if err != nil {
		return err
	}
	if rule.Status == persistence.RuleStatusCancelled {
		return mapRuleError(persistence.ErrNotFound)
	}
	return mapRuleError(s.store.UpdateRuleStatus(ctx, ruleID, persistence.RuleStatusPaused, pausedUntil))
}

// Resume reactivates a paused rule.
func (s *Service) Resume(ctx context.Context, ruleID, ownerID string) error {
	if _, err := s.authorize(ctx, ruleID, ownerID); err != nil {
		return err
	}
	return mapRuleError(s.store.UpdateRuleStatus(ctx, ruleID, persistence.RuleStatusActive, nil))
}

// Cancel permanently stops expansion. Cancelled rules are never expanded again.
func (s *Service) Cancel(ctx context.Context, ruleID, ownerID string) error {
	if _, err := s.authorize(ctx, ruleID, ownerID); err != nil {
		return err
	}
	return mapRuleError(s.store.UpdateRuleStatus(ctx, ruleID, persistence.RuleStatusCancelled, nil))
}

// Expand runs an on-demand expansion of one rule to the given horizon.
func (s *Service) Expand(ctx context.Context, ruleID string, horizon time.Time) (Result, error) {
	rule, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return Result{}, mapRuleError(err)
	}
	return s.expander.ExpandUntil(ctx, rule, horizon)
}

func (s *Service) authorize(ctx context.Context, ruleID, ownerID string) (persistence.RecurrenceRule, error) {
	rule, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return persistence.RecurrenceRule{}, mapRuleError(err)
	}
	if ownerID != "" && rule.OwnerID != ownerID {
		return persistence.RecurrenceRule{}, booking.ErrUnauthorized
	}
	return rule, nil
}

func mapRuleError(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func validateRuleInput(input RuleInput) error {
	vErr := &booking.ValidationError{}

	if input.VehicleID == "" {
		vErr.Add("vehicle_id", "vehicle is required")
	}
	if input.OwnerID == "" {
		vErr.Add("owner_id", "owner is required")
	}
	switch input.Pattern {
	case persistence.RulePatternDaily:
	case persistence.RulePatternWeekly:
		if input.WeekdayMask == 0 {
			vErr.Add("weekdays", "at least one weekday is required")
		}
	default:
		vErr.Add("pattern", "pattern must be daily or weekly")
	}
	if input.StartMinute < 0 || input.StartMinute >= 24*60 {
		vErr.Add("start_time", "start time must fall within the day")
	}
	if input.EndMinute <= 0 || input.EndMinute > 24*60 {
		vErr.Add("end_time", "end time must fall within the day")
	}
	if input.WindowStart.IsZero() {
		vErr.Add("window_start", "window start is required")
	}
	if input.WindowEnd != nil && !input.WindowEnd.After(input.WindowStart) {
		vErr.Add("window_end", "window end must be after window start")
	}
	if input.Timezone == "" {
		vErr.Add("timezone", "timezone is required")
	} else if _, err := time.LoadLocation(input.Timezone); err != nil {
		vErr.Add("timezone", "timezone is not recognized")
	}

	if vErr.HasErrors() {
		return vErr
	}
	return nil
}
