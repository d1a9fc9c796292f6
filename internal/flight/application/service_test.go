package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/flight/domain"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/events"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/lock"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox"
)

type fakeRepo struct {
	reservations []domain.Reservation
	cancels      []string
	records      []outbox.Record
	reserveErr   error
}

func (f *fakeRepo) ReserveWithOutbox(_ context.Context, res domain.Reservation, rec outbox.Record) error {
	if f.reserveErr != nil {
		return f.reserveErr
	}
	f.reservations = append(f.reservations, res)
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeRepo) CancelWithOutbox(_ context.Context, sagaID, _, _ string, rec outbox.Record) error {
	f.cancels = append(f.cancels, sagaID)
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeRepo) AppendResult(_ context.Context, rec outbox.Record) error {
	f.records = append(f.records, rec)
	return nil
}

type fakeLocker struct {
	busyFor  int
	attempts int
	held     map[string]string
	released []string
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: map[string]string{}} }

func (f *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (string, error) {
	f.attempts++
	if f.attempts <= f.busyFor {
		return "", lock.ErrBusy
	}
	f.held[key] = "tok-" + key
	return f.held[key], nil
}

func (f *fakeLocker) Release(_ context.Context, key, token string) error {
	f.released = append(f.released, key)
	delete(f.held, key)
	return nil
}

func newTestService(repo *fakeRepo, locks *fakeLocker) *Service {
	log := slog.New(slog.DiscardHandler)
	return NewService(log, repo, locks, Options{
		LockTTL:        time.Second,
		LockAttempts:   3,
		LockRetryDelay: time.Millisecond,
	})
}

func reserveCmd() events.ReserveFlight {
	return events.ReserveFlight{
		SagaID:         "sg-1",
		BookingID:      "bk-1",
		IdempotencyKey: "sg-1:flight",
		FlightNumber:   "VN123",
		FareClass:      "ECONOMY",
		Seats:          2,
	}
}

func TestReserveHoldsSeatsAndEmitsSuccess(t *testing.T) {
	repo := &fakeRepo{}
	locks := newFakeLocker()
	svc := newTestService(repo, locks)

	require.NoError(t, svc.Reserve(context.Background(), reserveCmd()))

	require.Len(t, repo.reservations, 1)
	assert.Equal(t, "sg-1:flight", repo.reservations[0].IdempotencyKey)
	assert.Equal(t, domain.ReservationActive, repo.reservations[0].Status)

	require.Len(t, repo.records, 1)
	assert.Equal(t, events.TypeFlightReserved, repo.records[0].Type)
	assert.Equal(t, "bk-1", repo.records[0].AggregateID)
	assert.Equal(t, []string{"flight:VN123:ECONOMY"}, locks.released)
}

func TestReserveLockBusyEmitsRetryableFailure(t *testing.T) {
	repo := &fakeRepo{}
	locks := newFakeLocker()
	locks.busyFor = 99
	svc := newTestService(repo, locks)

	require.NoError(t, svc.Reserve(context.Background(), reserveCmd()))

	assert.Equal(t, 3, locks.attempts)
	assert.Empty(t, repo.reservations)
	require.Len(t, repo.records, 1)
	assert.Equal(t, events.TypeFlightReservationFailed, repo.records[0].Type)

	var p events.FlightReservationFailed
	require.NoError(t, json.Unmarshal(repo.records[0].Payload, &p))
	assert.True(t, p.Retryable)
}

func TestReserveRecoversWithinLockRetryBudget(t *testing.T) {
	repo := &fakeRepo{}
	locks := newFakeLocker()
	locks.busyFor = 2
	svc := newTestService(repo, locks)

	require.NoError(t, svc.Reserve(context.Background(), reserveCmd()))

	assert.Equal(t, 3, locks.attempts)
	require.Len(t, repo.records, 1)
	assert.Equal(t, events.TypeFlightReserved, repo.records[0].Type)
}

func TestReserveInsufficientSeatsIsDefinitive(t *testing.T) {
	repo := &fakeRepo{reserveErr: domain.ErrInsufficientSeats}
	locks := newFakeLocker()
	svc := newTestService(repo, locks)

	require.NoError(t, svc.Reserve(context.Background(), reserveCmd()))

	require.Len(t, repo.records, 1)
	assert.Equal(t, events.TypeFlightReservationFailed, repo.records[0].Type)

	var p events.FlightReservationFailed
	require.NoError(t, json.Unmarshal(repo.records[0].Payload, &p))
	assert.False(t, p.Retryable)
	assert.Equal(t, "insufficient seats", p.Reason)

	// Lock was held during the attempt and released afterwards.
	assert.Len(t, locks.released, 1)
	assert.Empty(t, locks.held)
}

func TestCancelEmitsSuccessEvenWhenNothingToCancel(t *testing.T) {
	repo := &fakeRepo{}
	locks := newFakeLocker()
	svc := newTestService(repo, locks)

	cmd := events.CancelFlight{
		SagaID: "sg-1", BookingID: "bk-1", IdempotencyKey: "sg-1:flight:undo",
		FlightNumber: "VN123", FareClass: "ECONOMY",
	}
	require.NoError(t, svc.Cancel(context.Background(), cmd))

	assert.Equal(t, []string{"sg-1"}, repo.cancels)
	require.Len(t, repo.records, 1)
	assert.Equal(t, events.TypeFlightCancelled, repo.records[0].Type)
}

func TestCancelLockBusyEmitsNothing(t *testing.T) {
	repo := &fakeRepo{}
	locks := newFakeLocker()
	locks.busyFor = 99
	svc := newTestService(repo, locks)

	cmd := events.CancelFlight{
		SagaID: "sg-1", BookingID: "bk-1", IdempotencyKey: "sg-1:flight:undo",
		FlightNumber: "VN123", FareClass: "ECONOMY",
	}
	err := svc.Cancel(context.Background(), cmd)
	require.ErrorIs(t, err, lock.ErrBusy)
	assert.Empty(t, repo.records)
}
