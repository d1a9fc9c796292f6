package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type State string

const (
	StateBookingInitiated State = "BOOKING_INITIATED"
	StateFlightPending    State = "FLIGHT_RESERVATION_PENDING"
	StateFlightReserved   State = "FLIGHT_RESERVED"
	StateHotelPending     State = "HOTEL_RESERVATION_PENDING"
	StateHotelReserved    State = "HOTEL_RESERVED"
	StatePaymentPending   State = "PAYMENT_PENDING"
	StatePaymentProcessed State = "PAYMENT_PROCESSED"
	StateBookingCompleted State = "BOOKING_COMPLETED"

	StateBookingCancelled State = "BOOKING_CANCELLED"

	StateCompensationInitiated     State = "COMPENSATION_INITIATED"
	StateCompensationBookingCancel State = "COMPENSATION_BOOKING_CANCEL"
	StateCompensationPaymentRefund State = "COMPENSATION_PAYMENT_REFUND"
	StateCompensationHotelCancel   State = "COMPENSATION_HOTEL_CANCEL"
	StateCompensationFlightCancel  State = "COMPENSATION_FLIGHT_CANCEL"
	StateCompensated               State = "COMPENSATED"

	StateFailed State = "FAILED"
)

var ErrInvalidTransition = fmt.Errorf("invalid saga transition")

// transitions is the complete edge set of the state machine. A saga never
// moves except along one of these edges, and never back to a forward state
// once compensation has begun.
var transitions = map[State][]State{
	StateBookingInitiated: {StateFlightPending, StateHotelPending, StateBookingCancelled, StateFailed},
	StateFlightPending:    {StateFlightReserved, StateCompensationInitiated, StateBookingCancelled, StateFailed},
	StateFlightReserved:   {StateHotelPending, StatePaymentPending, StateCompensationInitiated, StateBookingCancelled},
	StateHotelPending:     {StateHotelReserved, StateCompensationInitiated, StateBookingCancelled, StateFailed},
	StateHotelReserved:    {StatePaymentPending, StateCompensationInitiated, StateBookingCancelled},
	StatePaymentPending:   {StatePaymentProcessed, StateCompensationInitiated, StateBookingCancelled, StateFailed},
	StatePaymentProcessed: {StateBookingCompleted},

	StateBookingCancelled: {StateCompensationBookingCancel},

	StateCompensationInitiated:     {StateCompensationPaymentRefund, StateCompensationHotelCancel, StateCompensationFlightCancel, StateFailed},
	StateCompensationBookingCancel: {StateCompensationPaymentRefund, StateCompensationHotelCancel, StateCompensationFlightCancel, StateCompensated},
	StateCompensationPaymentRefund: {StateCompensationHotelCancel, StateCompensationFlightCancel, StateCompensated, StateFailed},
	StateCompensationHotelCancel:   {StateCompensationFlightCancel, StateCompensated, StateFailed},
	StateCompensationFlightCancel:  {StateCompensated, StateFailed},
}

func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s State) Terminal() bool {
	return s == StateBookingCompleted || s == StateCompensated || s == StateFailed
}

func (s State) Compensating() bool {
	switch s {
	case StateCompensationInitiated, StateCompensationBookingCancel,
		StateCompensationPaymentRefund, StateCompensationHotelCancel, StateCompensationFlightCancel:
		return true
	}
	return false
}

// Saga is the durable per-booking state machine row. It is mutated only by
// the orchestrator; each transition keeps the previous state for audit.
type Saga struct {
	ID            string
	BookingID     string
	CorrelationID string
	CurrentState  State
	PreviousState State

	Plan             []Step
	CompletedSteps   []Step
	CompensatedSteps []Step
	CancelRequested  bool

	RetryCount  int
	NextRetryAt *time.Time

	FlightData  json.RawMessage
	HotelData   json.RawMessage
	PaymentData json.RawMessage

	ErrorTrail []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Saga) Transition(to State) error {
	if !CanTransition(s.CurrentState, to) {
		return fmt.Errorf("%w: %s -> %s (saga %s)", ErrInvalidTransition, s.CurrentState, to, s.ID)
	}
	s.PreviousState = s.CurrentState
	s.CurrentState = to
	return nil
}

func (s *Saga) Terminal() bool { return s.CurrentState.Terminal() }

// NextStep returns the first planned step that has not completed yet.
func (s *Saga) NextStep() (Step, bool) {
	for _, step := range s.Plan {
		if !containsStep(s.CompletedSteps, step) {
			return step, true
		}
	}
	return "", false
}

// NextCompensation returns the most recently completed step that has not been
// compensated yet: compensation runs in reverse completion order.
func (s *Saga) NextCompensation() (Step, bool) {
	for i := len(s.CompletedSteps) - 1; i >= 0; i-- {
		if !containsStep(s.CompensatedSteps, s.CompletedSteps[i]) {
			return s.CompletedSteps[i], true
		}
	}
	return "", false
}

func (s *Saga) MarkCompleted(step Step) {
	if !containsStep(s.CompletedSteps, step) {
		s.CompletedSteps = append(s.CompletedSteps, step)
	}
}

func (s *Saga) MarkCompensated(step Step) {
	if !containsStep(s.CompensatedSteps, step) {
		s.CompensatedSteps = append(s.CompensatedSteps, step)
	}
}

func (s *Saga) RecordError(msg string) {
	s.ErrorTrail = append(s.ErrorTrail, fmt.Sprintf("%s: %s", time.Now().UTC().Format(time.RFC3339), msg))
}

func containsStep(steps []Step, step Step) bool {
	for _, s := range steps {
		if s == step {
			return true
		}
	}
	return false
}
