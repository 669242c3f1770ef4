// Package access issues and validates short-lived vehicle unlock tokens.
// Tokens are sealed blobs handed to the reservation holder; the vehicle side
// presents the blob back and the service checks it against the single live
// token per vehicle plus the caller's reservation state.
package access

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/fleetshare/internal/locks"
	"github.com/example/fleetshare/internal/logging"
	"github.com/example/fleetshare/internal/metrics"
	"github.com/example/fleetshare/internal/persistence"
)

// Purpose states what the caller wants to do with the vehicle.
type Purpose string

const (
	PurposeCheckout Purpose = "checkout"
	PurposeCheckin  Purpose = "checkin"
)

// IssuedToken is what IssueToken hands back to the caller.
type IssuedToken struct {
	VehicleID string
	Blob      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	// Reused reports whether an existing live token was returned instead of
	// minting a new one.
	Reused bool
}

// TripAuthorization is the proof a token validation produces: which
// reservation on which vehicle the holder may act on.
type TripAuthorization struct {
	VehicleID     string
	ReservationID string
	UserID        string
	Purpose       Purpose
}

// ReservationFinder locates the caller's reservations on a vehicle.
type ReservationFinder interface {
	ListByVehicleAndOwner(ctx context.Context, vehicleID, ownerID string, statuses []persistence.IntervalStatus) ([]persistence.Interval, error)
}

// Windows bounds when a valid token actually opens the vehicle, relative to
// the reservation it authorizes.
type Windows struct {
	// CheckoutLead allows pickup this long before the reservation starts.
	CheckoutLead time.Duration
	// CheckoutGrace allows pickup this long after the reservation starts.
	CheckoutGrace time.Duration
}

// TokenService issues at most one live token per vehicle and validates
// presented blobs against reservation state.
type TokenService struct {
	cipher       *tokenCipher
	cache        *tokenCache
	reservations ReservationFinder
	vehicles     *locks.KeyedMutex
	ttl          time.Duration
	windows      Windows
	now          func() time.Time
	logger       *slog.Logger
}

// NewTokenService builds a TokenService. The master key must be 16, 24, or
// 32 bytes. vehicles is the per-vehicle lock arena, shared with every other
// service mutating state on the same fleet; nil gets a private arena.
func NewTokenService(masterKey []byte, reservations ReservationFinder, vehicles *locks.KeyedMutex, ttl time.Duration, windows Windows, now func() time.Time, logger *slog.Logger) (*TokenService, error) {
	cipher, err := newTokenCipher(masterKey)
	if err != nil {
		return nil, err
	}
	if vehicles == nil {
		vehicles = locks.NewKeyedMutex()
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		cipher:       cipher,
		cache:        newTokenCache(now),
		reservations: reservations,
		vehicles:     vehicles,
		ttl:          ttl,
		windows:      windows,
		now:          now,
		logger:       logger,
	}, nil
}

// IssueToken returns the live token for a vehicle, minting one only when no
// unexpired token exists. Repeated calls within the TTL hand back the same
// blob, so a flaky client retry never silently revokes the code already shown
// to the driver.
func (s *TokenService) IssueToken(ctx context.Context, vehicleID string) (IssuedToken, error) {
	unlock := s.vehicles.Lock(vehicleID)
	defer unlock()

	if entry, ok := s.cache.get(vehicleID); ok {
		metrics.IncTokenIssued("cached")
		return IssuedToken{
			VehicleID: vehicleID,
			Blob:      entry.blob,
			IssuedAt:  entry.issuedAt,
			ExpiresAt: entry.expiresAt,
			Reused:    true,
		}, nil
	}
	return s.mint(ctx, vehicleID, 1)
}

// RotateToken unconditionally replaces the live token for a vehicle. Blobs
// sealed around the previous token value stop validating immediately.
func (s *TokenService) RotateToken(ctx context.Context, vehicleID string) (IssuedToken, error) {
	unlock := s.vehicles.Lock(vehicleID)
	defer unlock()

	version := 1
	if entry, ok := s.cache.get(vehicleID); ok {
		version = entry.version + 1
	}
	return s.mint(ctx, vehicleID, version)
}

// Revoke drops the live token for a vehicle without issuing a replacement.
func (s *TokenService) Revoke(vehicleID string) {
	unlock := s.vehicles.Lock(vehicleID)
	defer unlock()
	s.cache.revoke(vehicleID)
}

func (s *TokenService) mint(ctx context.Context, vehicleID string, version int) (IssuedToken, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return IssuedToken{}, fmt.Errorf("access: token generation failed: %w", err)
	}
	tokenValue := hex.EncodeToString(raw)

	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(s.ttl)

	blob, err := s.cipher.seal(payload{
		VehicleID: vehicleID,
		Token:     tokenValue,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		Version:   version,
	})
	if err != nil {
		return IssuedToken{}, fmt.Errorf("access: token sealing failed: %w", err)
	}

	s.cache.put(vehicleID, liveToken{
		blob:       blob,
		tokenValue: tokenValue,
		issuedAt:   issuedAt,
		expiresAt:  expiresAt,
		version:    version,
	})

	metrics.IncTokenIssued("fresh")
	logging.ServiceLogger(ctx, s.logger, "TokenService", "IssueToken").
		InfoContext(ctx, "access token issued",
			"vehicle_id", vehicleID,
			"expires_at", expiresAt,
			"version", version,
		)

	return IssuedToken{
		VehicleID: vehicleID,
		Blob:      blob,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Validate checks a presented blob for a user and purpose. On success it
// returns the authorization naming the reservation the holder may act on.
// Every token-level failure returns ErrTokenInvalid with no further detail;
// the caller learns nothing about whether the blob was tampered, expired, or
// superseded.
func (s *TokenService) Validate(ctx context.Context, blob, userID string, purpose Purpose) (TripAuthorization, error) {
	logger := logging.ServiceLogger(ctx, s.logger, "TokenService", "Validate")

	p, err := s.cipher.open(blob)
	if err != nil {
		metrics.IncTokenValidation("invalid")
		logger.WarnContext(ctx, "token rejected", "reason", "unsealable")
		return TripAuthorization{}, ErrTokenInvalid
	}

	now := s.now().UTC()
	if !now.Before(p.ExpiresAt) {
		metrics.IncTokenValidation("expired")
		logger.WarnContext(ctx, "token rejected", "reason", "expired", "vehicle_id", p.VehicleID)
		return TripAuthorization{}, ErrTokenInvalid
	}

	// The payload alone is not enough: the live entry must still exist and
	// carry the same token value, otherwise a rotated-out blob would keep
	// working until its own expiry.
	entry, ok := s.cache.get(p.VehicleID)
	if !ok || subtle.ConstantTimeCompare([]byte(entry.tokenValue), []byte(p.Token)) != 1 {
		metrics.IncTokenValidation("superseded")
		logger.WarnContext(ctx, "token rejected", "reason", "superseded", "vehicle_id", p.VehicleID)
		return TripAuthorization{}, ErrTokenInvalid
	}

	reservation, err := s.findReservation(ctx, p.VehicleID, userID, purpose, now)
	if err != nil {
		metrics.IncTokenValidation("no_reservation")
		logger.WarnContext(ctx, "token rejected", "reason", "no matching reservation",
			"vehicle_id", p.VehicleID, "purpose", string(purpose))
		return TripAuthorization{}, err
	}

	metrics.IncTokenValidation("ok")
	logger.InfoContext(ctx, "token accepted",
		"vehicle_id", p.VehicleID,
		"reservation_id", reservation.ID,
		"purpose", string(purpose),
	)
	return TripAuthorization{
		VehicleID:     p.VehicleID,
		ReservationID: reservation.ID,
		UserID:        userID,
		Purpose:       purpose,
	}, nil
}

// findReservation locates the reservation a token holder may act on right
// now. Checkout needs a confirmed reservation whose pickup window contains
// now; check-in needs a checked-out reservation that has started, however
// late the return is.
func (s *TokenService) findReservation(ctx context.Context, vehicleID, userID string, purpose Purpose, now time.Time) (persistence.Interval, error) {
	var statuses []persistence.IntervalStatus
	switch purpose {
	case PurposeCheckout:
		statuses = []persistence.IntervalStatus{persistence.IntervalStatusConfirmed}
	case PurposeCheckin:
		statuses = []persistence.IntervalStatus{persistence.IntervalStatusCheckedOut}
	default:
		return persistence.Interval{}, ErrTokenInvalid
	}

	intervals, err := s.reservations.ListByVehicleAndOwner(ctx, vehicleID, userID, statuses)
	if err != nil {
		return persistence.Interval{}, err
	}

	for _, interval := range intervals {
		switch purpose {
		case PurposeCheckout:
			windowOpen := interval.Start.Add(-s.windows.CheckoutLead)
			windowClose := interval.Start.Add(s.windows.CheckoutGrace)
			if !now.Before(windowOpen) && !now.After(windowClose) {
				return interval, nil
			}
		case PurposeCheckin:
			if !now.Before(interval.Start) {
				return interval, nil
			}
		}
	}
	return persistence.Interval{}, ErrTokenInvalid
}
