package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/orchestrator/domain"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/events"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/fault"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox"
)

type fakeRepo struct {
	sagas    map[string]domain.Saga
	bookings map[string]domain.Booking
	records  []outbox.Record
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{sagas: map[string]domain.Saga{}, bookings: map[string]domain.Booking{}}
}

func (f *fakeRepo) CreateWithOutbox(ctx context.Context, b domain.Booking, sg domain.Saga, recs []outbox.Record) error {
	for _, existing := range f.sagas {
		if existing.BookingID == b.ID {
			return fault.New(fault.KindConflict, "saga already exists for booking %s", b.ID)
		}
	}
	f.bookings[b.ID] = b
	f.sagas[sg.ID] = sg
	f.records = append(f.records, recs...)
	return nil
}

func (f *fakeRepo) UpdateWithOutbox(ctx context.Context, sg domain.Saga, recs []outbox.Record) error {
	f.sagas[sg.ID] = sg
	if b, ok := f.bookings[sg.BookingID]; ok {
		b.Status = domain.StatusForState(sg.CurrentState)
		f.bookings[sg.BookingID] = b
	}
	f.records = append(f.records, recs...)
	return nil
}

func (f *fakeRepo) GetSaga(ctx context.Context, sagaID string) (domain.Saga, error) {
	sg, ok := f.sagas[sagaID]
	if !ok {
		return domain.Saga{}, ErrSagaNotFound
	}
	return sg, nil
}

func (f *fakeRepo) GetBooking(ctx context.Context, bookingID string) (domain.Booking, error) {
	b, ok := f.bookings[bookingID]
	if !ok {
		return domain.Booking{}, ErrSagaNotFound
	}
	return b, nil
}

func (f *fakeRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Saga, error) {
	var out []domain.Saga
	for _, sg := range f.sagas {
		if !sg.Terminal() && sg.NextRetryAt != nil && !sg.NextRetryAt.After(now) {
			out = append(out, sg)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]domain.Saga, error) {
	var out []domain.Saga
	for _, sg := range f.sagas {
		if !sg.Terminal() && sg.NextRetryAt == nil && sg.UpdatedAt.Before(cutoff) {
			out = append(out, sg)
		}
	}
	return out, nil
}

func (f *fakeRepo) recordsOfType(t string) []outbox.Record {
	var out []outbox.Record
	for _, r := range f.records {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

type fakeDedupe struct{ seen map[string]bool }

func (f *fakeDedupe) Seen(ctx context.Context, eventID string) (bool, error) {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	dup := f.seen[eventID]
	f.seen[eventID] = true
	return dup, nil
}

func newTestService(repo *fakeRepo) *Service {
	svc := NewService(slog.New(slog.DiscardHandler), repo, &fakeDedupe{}, Options{
		MaxStepRetries:          2,
		MaxCompensationAttempts: 3,
		RetryBaseDelay:          time.Second,
	})
	return svc
}

func flightBooking() CreateBooking {
	return CreateBooking{
		BookingID:   "bk-1",
		UserID:      "user-1",
		BookingType: "FLIGHT",
		TotalAmount: 2_000_000,
		Currency:    "VND",
		Flight:      &FlightDetails{FlightNumber: "VN123", FareClass: "ECONOMY", Seats: 1},
		Payment:     PaymentDetails{Method: "CARD"},
	}
}

func comboBooking() CreateBooking {
	cmd := flightBooking()
	cmd.BookingType = "FLIGHT_AND_HOTEL"
	cmd.Hotel = &HotelDetails{HotelID: "H9", RoomType: "DELUXE", CheckIn: "2026-09-01", CheckOut: "2026-09-03", Rooms: 1}
	return cmd
}

func resultEnv(t *testing.T, eventType, eventID, sagaID string, payload any) events.Envelope {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return events.Envelope{
		EventID:   eventID,
		EventType: eventType,
		SagaID:    sagaID,
		Payload:   body,
	}
}

func TestStartSaga(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	sagaID, err := svc.StartSaga(context.Background(), flightBooking())
	require.NoError(t, err)
	require.NotEmpty(t, sagaID)

	sg := repo.sagas[sagaID]
	assert.Equal(t, domain.StateFlightPending, sg.CurrentState)
	assert.Equal(t, domain.StateBookingInitiated, sg.PreviousState)
	assert.Equal(t, []domain.Step{domain.StepFlight, domain.StepPayment}, sg.Plan)
	assert.Equal(t, domain.BookingPending, repo.bookings["bk-1"].Status)

	// One BookingInitiated plus exactly one outbound command for the first step.
	require.Len(t, repo.records, 2)
	assert.Equal(t, events.TypeBookingInitiated, repo.records[0].Type)
	assert.Equal(t, events.TypeReserveFlight, repo.records[1].Type)

	var cmd events.ReserveFlight
	require.NoError(t, json.Unmarshal(repo.records[1].Payload, &cmd))
	assert.Equal(t, sagaID+":flight", cmd.IdempotencyKey)
	assert.Equal(t, "VN123", cmd.FlightNumber)
}

func TestStartSagaValidation(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	cmd := flightBooking()
	cmd.UserID = ""
	_, err := svc.StartSaga(context.Background(), cmd)
	assert.True(t, fault.Is(err, fault.KindValidation))

	cmd = flightBooking()
	cmd.Flight = nil
	_, err = svc.StartSaga(context.Background(), cmd)
	assert.True(t, fault.Is(err, fault.KindValidation))

	assert.Empty(t, repo.records, "no state change before validation passes")
}

func TestStartSagaConflict(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	_, err := svc.StartSaga(context.Background(), flightBooking())
	require.NoError(t, err)

	_, err = svc.StartSaga(context.Background(), flightBooking())
	assert.True(t, fault.Is(err, fault.KindConflict))
}

func TestHappyPathFlightBooking(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	sagaID, err := svc.StartSaga(ctx, flightBooking())
	require.NoError(t, err)

	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeFlightReserved, "ev-1", sagaID,
		events.FlightReserved{SagaID: sagaID, BookingID: "bk-1"})))

	sg := repo.sagas[sagaID]
	assert.Equal(t, domain.StatePaymentPending, sg.CurrentState)
	require.Len(t, repo.recordsOfType(events.TypeProcessPayment), 1)

	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypePaymentProcessed, "ev-2", sagaID,
		events.PaymentProcessed{SagaID: sagaID, BookingID: "bk-1"})))

	sg = repo.sagas[sagaID]
	assert.Equal(t, domain.StateBookingCompleted, sg.CurrentState)
	assert.Equal(t, []domain.Step{domain.StepFlight, domain.StepPayment}, sg.CompletedSteps)
	assert.Equal(t, domain.BookingConfirmed, repo.bookings["bk-1"].Status)
}

func TestHappyPathComboBooking(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	sagaID, err := svc.StartSaga(ctx, comboBooking())
	require.NoError(t, err)

	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeFlightReserved, "ev-1", sagaID, events.FlightReserved{})))
	assert.Equal(t, domain.StateHotelPending, repo.sagas[sagaID].CurrentState)
	require.Len(t, repo.recordsOfType(events.TypeReserveHotel), 1)

	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeHotelReserved, "ev-2", sagaID, events.HotelReserved{})))
	assert.Equal(t, domain.StatePaymentPending, repo.sagas[sagaID].CurrentState)

	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypePaymentProcessed, "ev-3", sagaID, events.PaymentProcessed{})))
	assert.Equal(t, domain.StateBookingCompleted, repo.sagas[sagaID].CurrentState)
}

func TestDuplicateResultDoesNotDoubleAdvance(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	sagaID, err := svc.StartSaga(ctx, flightBooking())
	require.NoError(t, err)

	env := resultEnv(t, events.TypeFlightReserved, "ev-dup", sagaID, events.FlightReserved{})
	require.NoError(t, svc.HandleResult(ctx, env))
	require.NoError(t, svc.HandleResult(ctx, env))

	assert.Len(t, repo.recordsOfType(events.TypeProcessPayment), 1, "payment command issued exactly once")
}

func TestPaymentFailureCompensatesFlight(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	sagaID, err := svc.StartSaga(ctx, flightBooking())
	require.NoError(t, err)

	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeFlightReserved, "ev-1", sagaID, events.FlightReserved{})))
	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypePaymentFailed, "ev-2", sagaID,
		events.PaymentFailed{Reason: "card declined", Retryable: false})))

	sg := repo.sagas[sagaID]
	assert.Equal(t, domain.StateCompensationFlightCancel, sg.CurrentState)
	require.Len(t, repo.recordsOfType(events.TypeCancelFlight), 1)
	assert.NotEmpty(t, sg.ErrorTrail)

	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeFlightCancelled, "ev-3", sagaID, events.FlightCancelled{})))

	sg = repo.sagas[sagaID]
	assert.Equal(t, domain.StateCompensated, sg.CurrentState)
	assert.Equal(t, domain.BookingCancelled, repo.bookings["bk-1"].Status)
}

func TestCompensationRunsInReverseOrder(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	sagaID, err := svc.StartSaga(ctx, comboBooking())
	require.NoError(t, err)

	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeFlightReserved, "ev-1", sagaID, events.FlightReserved{})))
	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeHotelReserved, "ev-2", sagaID, events.HotelReserved{})))
	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypePaymentFailed, "ev-3", sagaID,
		events.PaymentFailed{Reason: "insufficient funds"})))

	// Hotel completed last, so it is undone first.
	assert.Equal(t, domain.StateCompensationHotelCancel, repo.sagas[sagaID].CurrentState)
	require.Len(t, repo.recordsOfType(events.TypeCancelHotel), 1)
	assert.Empty(t, repo.recordsOfType(events.TypeCancelFlight))

	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeHotelCancelled, "ev-4", sagaID, events.HotelCancelled{})))
	assert.Equal(t, domain.StateCompensationFlightCancel, repo.sagas[sagaID].CurrentState)
	require.Len(t, repo.recordsOfType(events.TypeCancelFlight), 1)

	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeFlightCancelled, "ev-5", sagaID, events.FlightCancelled{})))
	sg := repo.sagas[sagaID]
	assert.Equal(t, domain.StateCompensated, sg.CurrentState)
	assert.Equal(t, []domain.Step{domain.StepHotel, domain.StepFlight}, sg.CompensatedSteps)

	// Exactly one compensating command per completed step.
	assert.Len(t, repo.recordsOfType(events.TypeCancelHotel), 1)
	assert.Len(t, repo.recordsOfType(events.TypeCancelFlight), 1)
	assert.Empty(t, repo.recordsOfType(events.TypeRefundPayment), "payment never succeeded, nothing to refund")
}

func TestFailureBeforeAnyReservationFailsDirectly(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	sagaID, err := svc.StartSaga(ctx, flightBooking())
	require.NoError(t, err)

	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeFlightReservationFailed, "ev-1", sagaID,
		events.FlightReservationFailed{Reason: "no seats", Retryable: false})))

	sg := repo.sagas[sagaID]
	assert.Equal(t, domain.StateFailed, sg.CurrentState)
	assert.Equal(t, domain.BookingFailed, repo.bookings["bk-1"].Status)
	assert.Empty(t, repo.recordsOfType(events.TypeCancelFlight))
}

func TestRetryableFailureSchedulesReissue(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	sagaID, err := svc.StartSaga(ctx, flightBooking())
	require.NoError(t, err)

	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeFlightReservationFailed, "ev-1", sagaID,
		events.FlightReservationFailed{Reason: "lock busy", Retryable: true})))

	sg := repo.sagas[sagaID]
	assert.Equal(t, domain.StateFlightPending, sg.CurrentState, "retryable failure does not compensate")
	assert.Equal(t, 1, sg.RetryCount)
	require.NotNil(t, sg.NextRetryAt)
	assert.Len(t, repo.recordsOfType(events.TypeReserveFlight), 1, "re-issue waits for the schedule")

	// Fast-forward past the schedule and run the retry pass.
	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	require.NoError(t, svc.RetryDue(ctx))

	cmds := repo.recordsOfType(events.TypeReserveFlight)
	require.Len(t, cmds, 2)

	var first, second events.ReserveFlight
	require.NoError(t, json.Unmarshal(cmds[0].Payload, &first))
	require.NoError(t, json.Unmarshal(cmds[1].Payload, &second))
	assert.Equal(t, first.IdempotencyKey, second.IdempotencyKey, "retried delivery cannot double-reserve")
}

func TestRetryableFailureExhaustionCompensates(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	sagaID, err := svc.StartSaga(ctx, flightBooking())
	require.NoError(t, err)
	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeFlightReserved, "ev-0", sagaID, events.FlightReserved{})))

	for i := 1; i <= 2; i++ {
		require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypePaymentFailed, "ev-"+string(rune('0'+i)), sagaID,
			events.PaymentFailed{Reason: "gateway timeout", Retryable: true})))
		assert.Equal(t, domain.StatePaymentPending, repo.sagas[sagaID].CurrentState)
	}

	// Third retryable failure exceeds MaxStepRetries=2 and hands off to compensation.
	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypePaymentFailed, "ev-last", sagaID,
		events.PaymentFailed{Reason: "gateway timeout", Retryable: true})))
	assert.Equal(t, domain.StateCompensationFlightCancel, repo.sagas[sagaID].CurrentState)
}

func TestCancelWinsRaceAgainstInFlightStep(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	sagaID, err := svc.StartSaga(ctx, flightBooking())
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, CancelBooking{BookingID: "bk-1", SagaID: sagaID, UserID: "user-1", Reason: "changed plans"}))
	assert.Equal(t, domain.StateBookingCancelled, repo.sagas[sagaID].CurrentState)

	// The in-flight reservation completes anyway; cancel dominates and it is undone.
	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeFlightReserved, "ev-1", sagaID, events.FlightReserved{})))
	assert.Equal(t, domain.StateCompensationFlightCancel, repo.sagas[sagaID].CurrentState)
	require.Len(t, repo.recordsOfType(events.TypeCancelFlight), 1)
	assert.Empty(t, repo.recordsOfType(events.TypeProcessPayment), "cancelled saga never advances")

	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeFlightCancelled, "ev-2", sagaID, events.FlightCancelled{})))
	assert.Equal(t, domain.StateCompensated, repo.sagas[sagaID].CurrentState)
	assert.Equal(t, domain.BookingCancelled, repo.bookings["bk-1"].Status)
}

func TestCancelIdempotentAndTerminalConflict(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	sagaID, err := svc.StartSaga(ctx, flightBooking())
	require.NoError(t, err)

	cancel := CancelBooking{BookingID: "bk-1", SagaID: sagaID, UserID: "user-1"}
	require.NoError(t, svc.Cancel(ctx, cancel))
	require.NoError(t, svc.Cancel(ctx, cancel), "repeated cancel is a no-op success")

	// Drive to terminal, then cancel again.
	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeFlightReservationFailed, "ev-1", sagaID,
		events.FlightReservationFailed{Reason: "no seats"})))
	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeFlightCancelled, "ev-x", sagaID, events.FlightCancelled{})))

	err = svc.Cancel(ctx, cancel)
	assert.True(t, fault.Is(err, fault.KindConflict))
}

func TestLateResultForTerminalSagaDropped(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	sagaID, err := svc.StartSaga(ctx, flightBooking())
	require.NoError(t, err)
	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeFlightReserved, "ev-1", sagaID, events.FlightReserved{})))
	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypePaymentProcessed, "ev-2", sagaID, events.PaymentProcessed{})))
	require.Equal(t, domain.StateBookingCompleted, repo.sagas[sagaID].CurrentState)

	before := len(repo.records)
	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeFlightReservationFailed, "ev-3", sagaID,
		events.FlightReservationFailed{Reason: "late"})))
	assert.Equal(t, domain.StateBookingCompleted, repo.sagas[sagaID].CurrentState)
	assert.Len(t, repo.records, before)
}

func TestCompensationRetriesExhaustedFreezesSaga(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	sagaID, err := svc.StartSaga(ctx, flightBooking())
	require.NoError(t, err)
	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeFlightReserved, "ev-1", sagaID, events.FlightReserved{})))
	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypePaymentFailed, "ev-2", sagaID,
		events.PaymentFailed{Reason: "declined"})))
	require.Equal(t, domain.StateCompensationFlightCancel, repo.sagas[sagaID].CurrentState)

	// FlightCancelled never arrives; every reaper pass re-issues until the
	// budget (3) runs out and the saga freezes.
	for i := 0; i < 4; i++ {
		offset := time.Duration(i+1) * time.Hour
		svc.now = func() time.Time { return time.Now().Add(offset) }
		require.NoError(t, svc.RetryDue(ctx))
	}

	sg := repo.sagas[sagaID]
	assert.Equal(t, domain.StateFailed, sg.CurrentState)
	assert.Equal(t, domain.BookingFailed, repo.bookings["bk-1"].Status)
	assert.NotEmpty(t, sg.ErrorTrail, "error trail preserved for operators")
	assert.Len(t, repo.recordsOfType(events.TypeCancelFlight), 4, "initial issue plus three retries")
}

func TestReaperCompensatesStuckSaga(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	sagaID, err := svc.StartSaga(ctx, comboBooking())
	require.NoError(t, err)
	require.NoError(t, svc.HandleResult(ctx, resultEnv(t, events.TypeFlightReserved, "ev-1", sagaID, events.FlightReserved{})))
	require.Equal(t, domain.StateHotelPending, repo.sagas[sagaID].CurrentState)

	// The hotel result is lost; past the timeout the reaper treats the saga
	// as failed and starts compensation.
	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	require.NoError(t, svc.ReapStuck(ctx, 2*time.Minute))

	sg := repo.sagas[sagaID]
	assert.Equal(t, domain.StateCompensationFlightCancel, sg.CurrentState)
	require.Len(t, repo.recordsOfType(events.TypeCancelFlight), 1)
	assert.NotEmpty(t, sg.ErrorTrail)
}
