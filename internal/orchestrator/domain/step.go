package domain

import "fmt"

type Step string

const (
	StepFlight  Step = "flight"
	StepHotel   Step = "hotel"
	StepPayment Step = "payment"
)

type BookingType string

const (
	TypeFlight         BookingType = "FLIGHT"
	TypeHotel          BookingType = "HOTEL"
	TypeFlightAndHotel BookingType = "FLIGHT_AND_HOTEL"
)

// PlanFor derives the forward step sequence from the booking type once, at
// saga start. Payment is always last.
func PlanFor(t BookingType) ([]Step, error) {
	switch t {
	case TypeFlight:
		return []Step{StepFlight, StepPayment}, nil
	case TypeHotel:
		return []Step{StepHotel, StepPayment}, nil
	case TypeFlightAndHotel:
		return []Step{StepFlight, StepHotel, StepPayment}, nil
	}
	return nil, fmt.Errorf("unknown booking type %q", t)
}

func (s Step) PendingState() State {
	switch s {
	case StepFlight:
		return StateFlightPending
	case StepHotel:
		return StateHotelPending
	default:
		return StatePaymentPending
	}
}

func (s Step) CompletedState() State {
	switch s {
	case StepFlight:
		return StateFlightReserved
	case StepHotel:
		return StateHotelReserved
	default:
		return StatePaymentProcessed
	}
}

func (s Step) CompensationState() State {
	switch s {
	case StepFlight:
		return StateCompensationFlightCancel
	case StepHotel:
		return StateCompensationHotelCancel
	default:
		return StateCompensationPaymentRefund
	}
}

// IdempotencyKey derives the per-step command key; re-issuing the same step
// command for the same saga always carries the same key.
func (s Step) IdempotencyKey(sagaID string) string {
	return fmt.Sprintf("%s:%s", sagaID, s)
}

// CompensationKey is distinct from the forward key so that a cancel command
// cannot be confused with the reserve it undoes.
func (s Step) CompensationKey(sagaID string) string {
	return fmt.Sprintf("%s:%s:undo", sagaID, s)
}
