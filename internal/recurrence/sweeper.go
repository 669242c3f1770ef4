package recurrence

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/fleetshare/internal/locks"
	"github.com/example/fleetshare/internal/persistence"
)

// RuleLister enumerates rules eligible for the periodic sweep.
type RuleLister interface {
	ListActiveRules(ctx context.Context) ([]persistence.RecurrenceRule, error)
}

// Sweeper periodically expands every active rule up to a rolling horizon.
// Rules expand independently; a per-rule lock prevents two sweep passes from
// expanding the same rule concurrently, and one rule's failure never halts
// the sweep for the rest.
type Sweeper struct {
	rules       RuleLister
	expander    *Expander
	horizonDays int
	interval    time.Duration
	inFlight    *locks.KeyedMutex
	now         func() time.Time
	logger      *slog.Logger
}

// NewSweeper wires dependencies for the background expansion sweep.
func NewSweeper(rules RuleLister, expander *Expander, horizonDays int, interval time.Duration, now func() time.Time, logger *slog.Logger) *Sweeper {
	if horizonDays <= 0 {
		horizonDays = 30
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		rules:       rules,
		expander:    expander,
		horizonDays: horizonDays,
		interval:    interval,
		inFlight:    locks.NewKeyedMutex(),
		now:         now,
		logger:      logger,
	}
}

// Run sweeps immediately and then on every tick until the context is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce expands every active rule to the rolling horizon.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	rules, err := s.rules.ListActiveRules(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep failed to list rules", "error", err)
		return
	}

	horizon := DateOnly(s.now()).AddDate(0, 0, s.horizonDays)
	for _, rule := range rules {
		unlock, ok := s.inFlight.TryLock(rule.ID)
		if !ok {
			// Another pass is still expanding this rule.
			continue
		}
		if _, err := s.expander.ExpandUntil(ctx, rule, horizon); err != nil {
			s.logger.ErrorContext(ctx, "rule expansion failed", "error", err, "rule_id", rule.ID)
		}
		unlock()
	}
}
