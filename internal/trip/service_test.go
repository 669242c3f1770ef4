package trip

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fleetshare/internal/booking"
	"github.com/example/fleetshare/internal/latefee"
	"github.com/example/fleetshare/internal/locks"
	"github.com/example/fleetshare/internal/persistence"
	"github.com/example/fleetshare/internal/testfixtures"
)

type allowAll struct{}

func (allowAll) CanWaiveFees(context.Context, string) (bool, error) { return true, nil }

type tripFixture struct {
	service   *Service
	intervals *testfixtures.MemoryIntervalRepository
	fees      *testfixtures.MemoryFeeRepository
	clock     *testfixtures.Clock
}

func newTripFixture(t *testing.T) *tripFixture {
	t.Helper()
	intervals := testfixtures.NewMemoryIntervalRepository()
	fees := testfixtures.NewMemoryFeeRepository()
	clock := testfixtures.NewClock(time.Time{})
	policy := latefee.Policy{GraceMinutes: 10, BlockMinutes: 30, RatePerBlockMinor: 500, CapMinor: 10000, Currency: "EUR"}
	feeService := latefee.NewService(fees, allowAll{}, policy, testfixtures.NewIDGenerator("fee").NextFunc(), clock.NowFunc(), nil)
	service := NewService(intervals, feeService, nil, clock.NowFunc(), nil)
	return &tripFixture{service: service, intervals: intervals, fees: fees, clock: clock}
}

// reservation is confirmed for [now+1h, now+3h).
func (f *tripFixture) reservation(t *testing.T, id, ownerID string) persistence.Interval {
	t.Helper()
	start := f.clock.Now().Add(time.Hour)
	interval := persistence.Interval{
		ID:        id,
		VehicleID: "van-1",
		OwnerID:   ownerID,
		Start:     start,
		End:       start.Add(2 * time.Hour),
		Status:    persistence.IntervalStatusConfirmed,
	}
	require.NoError(t, f.intervals.CreateInterval(context.Background(), interval))
	return interval
}

func TestCheckoutTransitionsToCheckedOut(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	reservation := f.reservation(t, "resv-1", "alice")

	f.clock.Set(reservation.Start)
	checked, err := f.service.Checkout(ctx, reservation.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, persistence.IntervalStatusCheckedOut, checked.Status)
	require.NotNil(t, checked.CheckedOutAt)
	assert.Equal(t, reservation.Start, *checked.CheckedOutAt)
}

func TestCheckoutRejectsDoubleCheckout(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	reservation := f.reservation(t, "resv-1", "alice")

	_, err := f.service.Checkout(ctx, reservation.ID, "alice")
	require.NoError(t, err)

	_, err = f.service.Checkout(ctx, reservation.ID, "alice")
	require.ErrorIs(t, err, ErrNotConfirmed)
}

func TestCheckoutRejectsWrongUser(t *testing.T) {
	f := newTripFixture(t)
	reservation := f.reservation(t, "resv-1", "alice")

	_, err := f.service.Checkout(context.Background(), reservation.ID, "mallory")
	require.ErrorIs(t, err, booking.ErrUnauthorized)
}

func TestCheckinOnTimeProducesNoFee(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	reservation := f.reservation(t, "resv-1", "alice")

	_, err := f.service.Checkout(ctx, reservation.ID, "alice")
	require.NoError(t, err)

	f.clock.Set(reservation.End.Add(-5 * time.Minute))
	result, err := f.service.Checkin(ctx, reservation.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, persistence.IntervalStatusCompleted, result.Interval.Status)
	assert.Equal(t, 0, result.LateMinutes)
	assert.Nil(t, result.Fee)
}

func TestCheckinLateCreatesFee(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	reservation := f.reservation(t, "resv-1", "alice")

	_, err := f.service.Checkout(ctx, reservation.ID, "alice")
	require.NoError(t, err)

	// 47 minutes past the reservation end.
	f.clock.Set(reservation.End.Add(47 * time.Minute))
	result, err := f.service.Checkin(ctx, reservation.ID, "alice")
	require.NoError(t, err)

	assert.Equal(t, 47, result.LateMinutes)
	require.NotNil(t, result.Fee)
	assert.Equal(t, int64(1000), result.Fee.AmountMinor)
	assert.Equal(t, persistence.FeeStatusPending, result.Fee.Status)
	assert.Equal(t, reservation.ID, result.Fee.ReservationID)

	stored, err := f.intervals.GetInterval(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, 47, stored.LateMinutes)
	require.NotNil(t, stored.CheckedInAt)
}

func TestCheckinPartialMinuteRoundsDown(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	reservation := f.reservation(t, "resv-1", "alice")

	_, err := f.service.Checkout(ctx, reservation.ID, "alice")
	require.NoError(t, err)

	f.clock.Set(reservation.End.Add(90 * time.Second))
	result, err := f.service.Checkin(ctx, reservation.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, result.LateMinutes)
}

func TestCheckinRequiresCheckedOut(t *testing.T) {
	f := newTripFixture(t)
	reservation := f.reservation(t, "resv-1", "alice")

	_, err := f.service.Checkin(context.Background(), reservation.ID, "alice")
	require.ErrorIs(t, err, ErrNotCheckedOut)
}

func TestCancelConfirmedReservation(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	reservation := f.reservation(t, "resv-1", "alice")

	cancelled, err := f.service.Cancel(ctx, reservation.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, persistence.IntervalStatusCancelled, cancelled.Status)

	// The slot is free again.
	overlapping, err := f.intervals.ListOverlapping(ctx, "van-1", reservation.Start, reservation.End)
	require.NoError(t, err)
	assert.Empty(t, overlapping)
}

func TestCancelRejectsCheckedOut(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	reservation := f.reservation(t, "resv-1", "alice")

	_, err := f.service.Checkout(ctx, reservation.ID, "alice")
	require.NoError(t, err)

	_, err = f.service.Cancel(ctx, reservation.ID, "alice")
	require.ErrorIs(t, err, ErrAlreadyCheckedOut)
}

func TestCancelRejectsCompleted(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	reservation := f.reservation(t, "resv-1", "alice")

	_, err := f.service.Checkout(ctx, reservation.ID, "alice")
	require.NoError(t, err)
	_, err = f.service.Checkin(ctx, reservation.ID, "alice")
	require.NoError(t, err)

	_, err = f.service.Cancel(ctx, reservation.ID, "alice")
	require.ErrorIs(t, err, ErrNotCancellable)
}

func TestCancelUnknownReservation(t *testing.T) {
	f := newTripFixture(t)

	_, err := f.service.Cancel(context.Background(), "missing", "alice")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCancelRejectsWrongUser(t *testing.T) {
	f := newTripFixture(t)
	reservation := f.reservation(t, "resv-1", "alice")

	_, err := f.service.Cancel(context.Background(), reservation.ID, "mallory")
	require.ErrorIs(t, err, booking.ErrUnauthorized)
}

// flakyFeeStore fails a configured number of fee writes, then recovers.
type flakyFeeStore struct {
	*testfixtures.MemoryFeeRepository
	failCreates int
}

func (s *flakyFeeStore) CreateFee(ctx context.Context, fee persistence.LateFee) error {
	if s.failCreates > 0 {
		s.failCreates--
		return persistence.ErrUnavailable
	}
	return s.MemoryFeeRepository.CreateFee(ctx, fee)
}

// flakyIntervalStore fails a configured number of state updates, then recovers.
type flakyIntervalStore struct {
	*testfixtures.MemoryIntervalRepository
	failUpdates int
}

func (s *flakyIntervalStore) UpdateIntervalState(ctx context.Context, interval persistence.Interval) error {
	if s.failUpdates > 0 {
		s.failUpdates--
		return persistence.ErrUnavailable
	}
	return s.MemoryIntervalRepository.UpdateIntervalState(ctx, interval)
}

func TestCheckinFeeWriteFailureLeavesTripRetryable(t *testing.T) {
	ctx := context.Background()
	intervals := testfixtures.NewMemoryIntervalRepository()
	fees := &flakyFeeStore{MemoryFeeRepository: testfixtures.NewMemoryFeeRepository()}
	clock := testfixtures.NewClock(time.Time{})
	policy := latefee.Policy{GraceMinutes: 10, BlockMinutes: 30, RatePerBlockMinor: 500, CapMinor: 10000, Currency: "EUR"}
	feeService := latefee.NewService(fees, allowAll{}, policy, testfixtures.NewIDGenerator("fee").NextFunc(), clock.NowFunc(), nil)
	service := NewService(intervals, feeService, nil, clock.NowFunc(), nil)

	start := clock.Now().Add(time.Hour)
	reservation := persistence.Interval{
		ID:        "resv-1",
		VehicleID: "van-1",
		OwnerID:   "alice",
		Start:     start,
		End:       start.Add(2 * time.Hour),
		Status:    persistence.IntervalStatusConfirmed,
	}
	require.NoError(t, intervals.CreateInterval(ctx, reservation))
	_, err := service.Checkout(ctx, reservation.ID, "alice")
	require.NoError(t, err)

	// The fee write fails, so the check-in fails and the trip stays checked
	// out; a late return never completes with its charge silently dropped.
	fees.failCreates = 1
	clock.Set(reservation.End.Add(47 * time.Minute))
	_, err = service.Checkin(ctx, reservation.ID, "alice")
	require.ErrorIs(t, err, persistence.ErrUnavailable)

	stored, err := intervals.GetInterval(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.IntervalStatusCheckedOut, stored.Status)

	records, err := fees.ListFeesByReservation(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Empty(t, records)

	// The store recovers; the retried check-in completes and charges once.
	result, err := service.Checkin(ctx, reservation.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, persistence.IntervalStatusCompleted, result.Interval.Status)
	assert.Equal(t, 47, result.LateMinutes)
	require.NotNil(t, result.Fee)
	assert.Equal(t, int64(1000), result.Fee.AmountMinor)

	records, err = fees.ListFeesByReservation(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCheckinRetryAfterCompletionFailureReusesFee(t *testing.T) {
	ctx := context.Background()
	intervals := &flakyIntervalStore{MemoryIntervalRepository: testfixtures.NewMemoryIntervalRepository()}
	fees := testfixtures.NewMemoryFeeRepository()
	clock := testfixtures.NewClock(time.Time{})
	policy := latefee.Policy{GraceMinutes: 10, BlockMinutes: 30, RatePerBlockMinor: 500, CapMinor: 10000, Currency: "EUR"}
	feeService := latefee.NewService(fees, allowAll{}, policy, testfixtures.NewIDGenerator("fee").NextFunc(), clock.NowFunc(), nil)
	service := NewService(intervals, feeService, nil, clock.NowFunc(), nil)

	start := clock.Now().Add(time.Hour)
	reservation := persistence.Interval{
		ID:        "resv-1",
		VehicleID: "van-1",
		OwnerID:   "alice",
		Start:     start,
		End:       start.Add(2 * time.Hour),
		Status:    persistence.IntervalStatusConfirmed,
	}
	require.NoError(t, intervals.CreateInterval(ctx, reservation))
	_, err := service.Checkout(ctx, reservation.ID, "alice")
	require.NoError(t, err)

	// The fee lands but the completion write fails: the trip stays checked
	// out with a durable fee on record.
	intervals.failUpdates = 1
	clock.Set(reservation.End.Add(47 * time.Minute))
	_, err = service.Checkin(ctx, reservation.ID, "alice")
	require.ErrorIs(t, err, persistence.ErrUnavailable)

	records, err := fees.ListFeesByReservation(ctx, reservation.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)

	// The retry completes the trip and reuses the recorded fee instead of
	// charging again.
	result, err := service.Checkin(ctx, reservation.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, persistence.IntervalStatusCompleted, result.Interval.Status)
	require.NotNil(t, result.Fee)
	assert.Equal(t, records[0].ID, result.Fee.ID)

	records, err = fees.ListFeesByReservation(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// Admission and trip transitions must contend for the same per-vehicle lock,
// otherwise an emergency bump can interleave with a concurrent checkout.
func TestVehicleLockArenaSharedWithAdmission(t *testing.T) {
	ctx := context.Background()
	intervals := testfixtures.NewMemoryIntervalRepository()
	fees := testfixtures.NewMemoryFeeRepository()
	clock := testfixtures.NewClock(time.Time{})
	vehicles := locks.NewKeyedMutex()
	policy := latefee.Policy{GraceMinutes: 10, BlockMinutes: 30, RatePerBlockMinor: 500, CapMinor: 10000, Currency: "EUR"}
	feeService := latefee.NewService(fees, allowAll{}, policy, testfixtures.NewIDGenerator("fee").NextFunc(), clock.NowFunc(), nil)
	service := NewService(intervals, feeService, vehicles, clock.NowFunc(), nil)
	guard := booking.NewConflictGuard(intervals, vehicles, testfixtures.NewIDGenerator("resv").NextFunc(), clock.NowFunc(), nil)

	start := clock.Now().Add(time.Hour)
	reservation := persistence.Interval{
		ID:        "seed-1",
		VehicleID: "van-1",
		OwnerID:   "alice",
		Start:     start,
		End:       start.Add(2 * time.Hour),
		Status:    persistence.IntervalStatusConfirmed,
	}
	require.NoError(t, intervals.CreateInterval(ctx, reservation))

	unlock := vehicles.Lock("van-1")

	done := make(chan error, 2)
	go func() {
		_, err := service.Checkout(ctx, reservation.ID, "alice")
		done <- err
	}()
	go func() {
		_, err := guard.TryCommit(ctx, booking.Candidate{
			VehicleID: "van-1",
			OwnerID:   "bob",
			Start:     start.Add(3 * time.Hour),
			End:       start.Add(4 * time.Hour),
		})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("vehicle mutation proceeded while the vehicle lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	require.NoError(t, <-done)
	require.NoError(t, <-done)
}
