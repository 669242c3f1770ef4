package latefee

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/example/fleetshare/internal/booking"
	"github.com/example/fleetshare/internal/logging"
	"github.com/example/fleetshare/internal/persistence"
)

// FeeStore captures the persistence interactions for fee records.
type FeeStore interface {
	CreateFee(ctx context.Context, fee persistence.LateFee) error
	GetFee(ctx context.Context, id string) (persistence.LateFee, error)
	ListFeesByReservation(ctx context.Context, reservationID string) ([]persistence.LateFee, error)
	UpdateFee(ctx context.Context, fee persistence.LateFee) error
}

// Authorizer decides whether a user may waive fees. Group membership lives
// outside the core.
type Authorizer interface {
	CanWaiveFees(ctx context.Context, userID string) (bool, error)
}

// Service creates and waives late-return fees.
type Service struct {
	store       FeeStore
	authorizer  Authorizer
	policy      Policy
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewService wires dependencies for fee management.
func NewService(store FeeStore, authorizer Authorizer, policy Policy, idGenerator func() string, now func() time.Time, logger *slog.Logger) *Service {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:       store,
		authorizer:  authorizer,
		policy:      policy,
		idGenerator: idGenerator,
		now:         now,
		logger:      logger,
	}
}

// Policy returns the configured fee policy.
func (s *Service) Policy() Policy {
	return s.policy
}

// CreateForLateness records a pending fee for a late check-in. Lateness of
// zero or less produces no fee and no record. A reservation carries at most
// one fee: when one already exists it is returned unchanged, so a check-in
// retried after a partial failure never double-charges.
func (s *Service) CreateForLateness(ctx context.Context, reservationID string, lateMinutes int) (persistence.LateFee, bool, error) {
	if lateMinutes <= 0 {
		return persistence.LateFee{}, false, nil
	}

	existing, err := s.store.ListFeesByReservation(ctx, reservationID)
	if err != nil {
		return persistence.LateFee{}, false, err
	}
	if len(existing) > 0 {
		return existing[0], false, nil
	}

	now := s.now().UTC()
	fee := persistence.LateFee{
		ID:            s.idGenerator(),
		ReservationID: reservationID,
		LateMinutes:   lateMinutes,
		AmountMinor:   Compute(lateMinutes, s.policy),
		Currency:      s.policy.Currency,
		Status:        persistence.FeeStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateFee(ctx, fee); err != nil {
		return persistence.LateFee{}, false, err
	}

	logging.ServiceLogger(ctx, s.logger, "LateFeeService", "CreateForLateness").
		InfoContext(ctx, "late fee created",
			"fee_id", fee.ID,
			"reservation_id", reservationID,
			"late_minutes", lateMinutes,
			"amount_minor", fee.AmountMinor,
		)
	return fee, true, nil
}

// ListForReservation returns the fees attached to a reservation.
func (s *Service) ListForReservation(ctx context.Context, reservationID string) ([]persistence.LateFee, error) {
	return s.store.ListFeesByReservation(ctx, reservationID)
}

// Waive transitions a pending fee to waived. The transition is irreversible
// and fails for fees already charged or waived.
func (s *Service) Waive(ctx context.Context, feeID, adminID, reason string) (persistence.LateFee, error) {
	logger := logging.ServiceLogger(ctx, s.logger, "LateFeeService", "Waive", "fee_id", feeID)

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return persistence.LateFee{}, ErrReasonRequired
	}

	if s.authorizer != nil {
		allowed, err := s.authorizer.CanWaiveFees(ctx, adminID)
		if err != nil {
			return persistence.LateFee{}, err
		}
		if !allowed {
			return persistence.LateFee{}, booking.ErrUnauthorized
		}
	}

	fee, err := s.store.GetFee(ctx, feeID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.LateFee{}, ErrNotFound
		}
		return persistence.LateFee{}, err
	}

	if fee.Status != persistence.FeeStatusPending {
		return persistence.LateFee{}, ErrNotWaivable
	}

	fee.Status = persistence.FeeStatusWaived
	fee.WaivedBy = &adminID
	fee.WaivedReason = &reason
	fee.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateFee(ctx, fee); err != nil {
		return persistence.LateFee{}, err
	}

	logger.InfoContext(ctx, "late fee waived", "waived_by", adminID)
	return fee, nil
}
