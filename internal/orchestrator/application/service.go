package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/orchestrator/domain"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/events"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/fault"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/tracing"
)

// Options bound the orchestrator's patience: forward steps are re-issued at
// most MaxStepRetries times on retryable failures, compensation commands at
// most MaxCompensationAttempts times before the saga is frozen in FAILED.
type Options struct {
	MaxStepRetries          int
	MaxCompensationAttempts int
	RetryBaseDelay          time.Duration
}

type Service struct {
	log      *slog.Logger
	repo     Repository
	dedupe   Deduper
	validate *validator.Validate
	opts     Options
	now      func() time.Time
}

func NewService(log *slog.Logger, repo Repository, dedupe Deduper, opts Options) *Service {
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 2 * time.Second
	}
	return &Service{
		log:      log,
		repo:     repo,
		dedupe:   dedupe,
		validate: validator.New(),
		opts:     opts,
		now:      time.Now,
	}
}

// paymentData is the per-step payload kept on the saga row so a payment
// command can be rebuilt for retries without reloading the booking.
type paymentData struct {
	Method   string `json:"method"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	UserID   string `json:"user_id"`
}

// StartSaga validates the command, persists the booking, the saga and the
// first step command in one transaction, and returns the trackable saga id.
func (s *Service) StartSaga(ctx context.Context, cmd CreateBooking) (string, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return "", fault.Wrap(fault.KindValidation, err, "invalid create booking command")
	}
	bookingType := domain.BookingType(cmd.BookingType)
	plan, err := domain.PlanFor(bookingType)
	if err != nil {
		return "", fault.Wrap(fault.KindValidation, err, "invalid booking type")
	}
	if containsStep(plan, domain.StepFlight) && cmd.Flight == nil {
		return "", fault.New(fault.KindValidation, "flight details required for booking type %s", cmd.BookingType)
	}
	if containsStep(plan, domain.StepHotel) && cmd.Hotel == nil {
		return "", fault.New(fault.KindValidation, "hotel details required for booking type %s", cmd.BookingType)
	}

	now := s.now().UTC()
	sg := domain.Saga{
		ID:            uuid.NewString(),
		BookingID:     cmd.BookingID,
		CorrelationID: uuid.NewString(),
		CurrentState:  domain.StateBookingInitiated,
		Plan:          plan,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if cmd.Flight != nil {
		sg.FlightData, _ = json.Marshal(cmd.Flight)
	}
	if cmd.Hotel != nil {
		sg.HotelData, _ = json.Marshal(cmd.Hotel)
	}
	sg.PaymentData, _ = json.Marshal(paymentData{
		Method:   cmd.Payment.Method,
		Amount:   cmd.TotalAmount,
		Currency: cmd.Currency,
		UserID:   cmd.UserID,
	})

	booking := domain.Booking{
		ID:          cmd.BookingID,
		SagaID:      sg.ID,
		UserID:      cmd.UserID,
		BookingType: bookingType,
		TotalAmount: cmd.TotalAmount,
		Currency:    cmd.Currency,
		Status:      domain.BookingPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	initiated, err := s.newRecord(ctx, events.TypeBookingInitiated, &sg, events.BookingInitiated{
		SagaID:      sg.ID,
		BookingID:   booking.ID,
		UserID:      booking.UserID,
		BookingType: cmd.BookingType,
		TotalAmount: booking.TotalAmount,
		Currency:    booking.Currency,
	})
	if err != nil {
		return "", err
	}

	first := plan[0]
	if err := sg.Transition(first.PendingState()); err != nil {
		return "", err
	}
	firstCmd, err := s.buildForwardCommand(ctx, &sg, first)
	if err != nil {
		return "", err
	}

	if err := s.repo.CreateWithOutbox(ctx, booking, sg, []outbox.Record{initiated, firstCmd}); err != nil {
		return "", err
	}
	s.log.Info("saga started", "saga_id", sg.ID, "booking_id", booking.ID, "state", sg.CurrentState)
	return sg.ID, nil
}

// HandleResult applies a downstream result event to the saga. Duplicate and
// late events are acknowledged and dropped rather than erroring.
func (s *Service) HandleResult(ctx context.Context, env events.Envelope) error {
	seen, err := s.dedupe.Seen(ctx, env.EventID)
	if err != nil {
		return err
	}
	if seen {
		s.log.Info("duplicate result dropped", "event_id", env.EventID, "saga_id", env.SagaID)
		return nil
	}

	sg, err := s.repo.GetSaga(ctx, env.SagaID)
	if err != nil {
		if err == ErrSagaNotFound {
			s.log.Warn("result for unknown saga dropped", "saga_id", env.SagaID, "type", env.EventType)
			return nil
		}
		return err
	}
	if sg.Terminal() {
		s.log.Info("late result for terminal saga dropped", "saga_id", sg.ID, "state", sg.CurrentState, "type", env.EventType)
		return nil
	}

	switch env.EventType {
	case events.TypeFlightReserved:
		return s.onStepSucceeded(ctx, &sg, domain.StepFlight)
	case events.TypeHotelReserved:
		return s.onStepSucceeded(ctx, &sg, domain.StepHotel)
	case events.TypePaymentProcessed:
		return s.onStepSucceeded(ctx, &sg, domain.StepPayment)

	case events.TypeFlightReservationFailed:
		var p events.FlightReservationFailed
		if err := env.Decode(&p); err != nil {
			return err
		}
		return s.onStepFailed(ctx, &sg, domain.StepFlight, p.Reason, p.Retryable)
	case events.TypeHotelReservationFailed:
		var p events.HotelReservationFailed
		if err := env.Decode(&p); err != nil {
			return err
		}
		return s.onStepFailed(ctx, &sg, domain.StepHotel, p.Reason, p.Retryable)
	case events.TypePaymentFailed:
		var p events.PaymentFailed
		if err := env.Decode(&p); err != nil {
			return err
		}
		return s.onStepFailed(ctx, &sg, domain.StepPayment, p.Reason, p.Retryable)

	case events.TypeFlightCancelled:
		return s.onStepCompensated(ctx, &sg, domain.StepFlight)
	case events.TypeHotelCancelled:
		return s.onStepCompensated(ctx, &sg, domain.StepHotel)
	case events.TypePaymentRefunded:
		return s.onStepCompensated(ctx, &sg, domain.StepPayment)
	}

	s.log.Warn("unhandled event type dropped", "type", env.EventType, "saga_id", sg.ID)
	return nil
}

// Cancel requests cancellation. The in-flight step, if any, is allowed to
// finish; its result flips the saga into compensation instead of continuing
// forward.
func (s *Service) Cancel(ctx context.Context, cmd CancelBooking) error {
	if err := s.validate.Struct(cmd); err != nil {
		return fault.Wrap(fault.KindValidation, err, "invalid cancel booking command")
	}
	sg, err := s.repo.GetSaga(ctx, cmd.SagaID)
	if err != nil {
		return err
	}
	if sg.BookingID != cmd.BookingID {
		return fault.New(fault.KindValidation, "saga %s does not belong to booking %s", cmd.SagaID, cmd.BookingID)
	}
	if sg.Terminal() {
		return fault.New(fault.KindConflict, "saga %s already finished in %s", sg.ID, sg.CurrentState)
	}
	if sg.CancelRequested || sg.CurrentState.Compensating() {
		// Already being undone; replay is a success.
		return nil
	}

	sg.CancelRequested = true
	if err := sg.Transition(domain.StateBookingCancelled); err != nil {
		return err
	}
	sg.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateWithOutbox(ctx, sg, nil); err != nil {
		return err
	}
	s.log.Info("cancel requested", "saga_id", sg.ID, "reason", cmd.Reason)
	return nil
}

func (s *Service) SagaStatus(ctx context.Context, sagaID string) (domain.Saga, domain.Booking, error) {
	sg, err := s.repo.GetSaga(ctx, sagaID)
	if err != nil {
		return domain.Saga{}, domain.Booking{}, err
	}
	b, err := s.repo.GetBooking(ctx, sg.BookingID)
	if err != nil {
		return domain.Saga{}, domain.Booking{}, err
	}
	return sg, b, nil
}

func (s *Service) onStepSucceeded(ctx context.Context, sg *domain.Saga, step domain.Step) error {
	if sg.CurrentState == domain.StateBookingCancelled {
		// The cancel won the race; the step that just completed is undone
		// with everything before it.
		sg.MarkCompleted(step)
		return s.beginCancelCompensation(ctx, sg)
	}
	if sg.CurrentState != step.PendingState() {
		s.log.Info("stale step result dropped", "saga_id", sg.ID, "step", step, "state", sg.CurrentState)
		return nil
	}

	sg.MarkCompleted(step)
	if err := sg.Transition(step.CompletedState()); err != nil {
		return err
	}
	sg.RetryCount = 0
	sg.NextRetryAt = nil

	var recs []outbox.Record
	if next, ok := sg.NextStep(); ok {
		if err := sg.Transition(next.PendingState()); err != nil {
			return err
		}
		rec, err := s.buildForwardCommand(ctx, sg, next)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	} else {
		if err := sg.Transition(domain.StateBookingCompleted); err != nil {
			return err
		}
	}

	sg.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateWithOutbox(ctx, *sg, recs); err != nil {
		return err
	}
	s.log.Info("step completed", "saga_id", sg.ID, "step", step, "state", sg.CurrentState)
	return nil
}

func (s *Service) onStepFailed(ctx context.Context, sg *domain.Saga, step domain.Step, reason string, retryable bool) error {
	sg.RecordError(fmt.Sprintf("%s step failed: %s", step, reason))

	if sg.CurrentState == domain.StateBookingCancelled {
		return s.beginCancelCompensation(ctx, sg)
	}
	if sg.CurrentState != step.PendingState() {
		s.log.Info("stale failure dropped", "saga_id", sg.ID, "step", step, "state", sg.CurrentState)
		return nil
	}

	if retryable && sg.RetryCount < s.opts.MaxStepRetries {
		sg.RetryCount++
		at := s.now().UTC().Add(s.retryDelay(sg.RetryCount))
		sg.NextRetryAt = &at
		sg.UpdatedAt = s.now().UTC()
		if err := s.repo.UpdateWithOutbox(ctx, *sg, nil); err != nil {
			return err
		}
		s.log.Info("retryable step failure, re-issue scheduled",
			"saga_id", sg.ID, "step", step, "attempt", sg.RetryCount, "at", at)
		return nil
	}

	return s.beginCompensation(ctx, sg)
}

// beginCompensation undoes completed steps in reverse completion order, or
// fails the saga outright when nothing was reserved yet.
func (s *Service) beginCompensation(ctx context.Context, sg *domain.Saga) error {
	comp, ok := sg.NextCompensation()
	if !ok {
		if err := sg.Transition(domain.StateFailed); err != nil {
			return err
		}
		sg.NextRetryAt = nil
		sg.UpdatedAt = s.now().UTC()
		if err := s.repo.UpdateWithOutbox(ctx, *sg, nil); err != nil {
			return err
		}
		s.log.Info("saga failed with nothing to compensate", "saga_id", sg.ID)
		return nil
	}

	if err := sg.Transition(domain.StateCompensationInitiated); err != nil {
		return err
	}
	return s.issueCompensation(ctx, sg, comp)
}

func (s *Service) beginCancelCompensation(ctx context.Context, sg *domain.Saga) error {
	if err := sg.Transition(domain.StateCompensationBookingCancel); err != nil {
		return err
	}
	comp, ok := sg.NextCompensation()
	if !ok {
		if err := sg.Transition(domain.StateCompensated); err != nil {
			return err
		}
		sg.NextRetryAt = nil
		sg.UpdatedAt = s.now().UTC()
		return s.repo.UpdateWithOutbox(ctx, *sg, nil)
	}
	return s.issueCompensation(ctx, sg, comp)
}

func (s *Service) issueCompensation(ctx context.Context, sg *domain.Saga, comp domain.Step) error {
	if err := sg.Transition(comp.CompensationState()); err != nil {
		return err
	}
	rec, err := s.buildCompensationCommand(ctx, sg, comp)
	if err != nil {
		return err
	}
	sg.RetryCount = 0
	at := s.now().UTC().Add(s.retryDelay(1))
	sg.NextRetryAt = &at
	sg.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateWithOutbox(ctx, *sg, []outbox.Record{rec}); err != nil {
		return err
	}
	s.log.Info("compensation issued", "saga_id", sg.ID, "step", comp, "state", sg.CurrentState)
	return nil
}

func (s *Service) onStepCompensated(ctx context.Context, sg *domain.Saga, step domain.Step) error {
	if sg.CurrentState != step.CompensationState() {
		s.log.Info("stale compensation confirmation dropped", "saga_id", sg.ID, "step", step, "state", sg.CurrentState)
		return nil
	}
	sg.MarkCompensated(step)
	sg.RetryCount = 0

	if next, ok := sg.NextCompensation(); ok {
		return s.issueCompensation(ctx, sg, next)
	}

	if err := sg.Transition(domain.StateCompensated); err != nil {
		return err
	}
	sg.NextRetryAt = nil
	sg.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateWithOutbox(ctx, *sg, nil); err != nil {
		return err
	}
	s.log.Info("saga compensated", "saga_id", sg.ID)
	return nil
}

func (s *Service) buildForwardCommand(ctx context.Context, sg *domain.Saga, step domain.Step) (outbox.Record, error) {
	key := step.IdempotencyKey(sg.ID)
	switch step {
	case domain.StepFlight:
		var fd FlightDetails
		if err := json.Unmarshal(sg.FlightData, &fd); err != nil {
			return outbox.Record{}, err
		}
		return s.newRecord(ctx, events.TypeReserveFlight, sg, events.ReserveFlight{
			SagaID: sg.ID, BookingID: sg.BookingID, IdempotencyKey: key,
			FlightNumber: fd.FlightNumber, FareClass: fd.FareClass, Seats: fd.Seats,
		})
	case domain.StepHotel:
		var hd HotelDetails
		if err := json.Unmarshal(sg.HotelData, &hd); err != nil {
			return outbox.Record{}, err
		}
		return s.newRecord(ctx, events.TypeReserveHotel, sg, events.ReserveHotel{
			SagaID: sg.ID, BookingID: sg.BookingID, IdempotencyKey: key,
			HotelID: hd.HotelID, RoomType: hd.RoomType, CheckIn: hd.CheckIn, CheckOut: hd.CheckOut, Rooms: hd.Rooms,
		})
	default:
		var pd paymentData
		if err := json.Unmarshal(sg.PaymentData, &pd); err != nil {
			return outbox.Record{}, err
		}
		return s.newRecord(ctx, events.TypeProcessPayment, sg, events.ProcessPayment{
			SagaID: sg.ID, BookingID: sg.BookingID, IdempotencyKey: key,
			UserID: pd.UserID, Amount: pd.Amount, Currency: pd.Currency, Method: pd.Method,
		})
	}
}

func (s *Service) buildCompensationCommand(ctx context.Context, sg *domain.Saga, step domain.Step) (outbox.Record, error) {
	key := step.CompensationKey(sg.ID)
	switch step {
	case domain.StepFlight:
		var fd FlightDetails
		if err := json.Unmarshal(sg.FlightData, &fd); err != nil {
			return outbox.Record{}, err
		}
		return s.newRecord(ctx, events.TypeCancelFlight, sg, events.CancelFlight{
			SagaID: sg.ID, BookingID: sg.BookingID, IdempotencyKey: key,
			FlightNumber: fd.FlightNumber, FareClass: fd.FareClass,
		})
	case domain.StepHotel:
		var hd HotelDetails
		if err := json.Unmarshal(sg.HotelData, &hd); err != nil {
			return outbox.Record{}, err
		}
		return s.newRecord(ctx, events.TypeCancelHotel, sg, events.CancelHotel{
			SagaID: sg.ID, BookingID: sg.BookingID, IdempotencyKey: key,
			HotelID: hd.HotelID, RoomType: hd.RoomType, CheckIn: hd.CheckIn,
		})
	default:
		var pd paymentData
		if err := json.Unmarshal(sg.PaymentData, &pd); err != nil {
			return outbox.Record{}, err
		}
		return s.newRecord(ctx, events.TypeRefundPayment, sg, events.RefundPayment{
			SagaID: sg.ID, BookingID: sg.BookingID, IdempotencyKey: key,
			Amount: pd.Amount, Currency: pd.Currency,
		})
	}
}

func (s *Service) newRecord(ctx context.Context, eventType string, sg *domain.Saga, payload any) (outbox.Record, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return outbox.Record{}, err
	}
	return outbox.Record{
		EventID:       uuid.NewString(),
		AggregateType: "booking",
		AggregateID:   sg.BookingID,
		SagaID:        sg.ID,
		Type:          eventType,
		Payload:       body,
		Traceparent:   tracing.Traceparent(ctx),
	}, nil
}

func (s *Service) retryDelay(attempt int) time.Duration {
	d := s.opts.RetryBaseDelay << uint(attempt-1)
	if max := 5 * time.Minute; d > max {
		d = max
	}
	return d
}

func containsStep(steps []domain.Step, step domain.Step) bool {
	for _, s := range steps {
		if s == step {
			return true
		}
	}
	return false
}
