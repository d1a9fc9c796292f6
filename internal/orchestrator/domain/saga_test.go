package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardPath(t *testing.T) {
	sg := &Saga{ID: "sg-1", CurrentState: StateBookingInitiated}

	for _, next := range []State{
		StateFlightPending, StateFlightReserved,
		StateHotelPending, StateHotelReserved,
		StatePaymentPending, StatePaymentProcessed,
		StateBookingCompleted,
	} {
		require.NoError(t, sg.Transition(next))
	}
	assert.True(t, sg.Terminal())
	assert.Equal(t, StatePaymentProcessed, sg.PreviousState)
}

func TestNoRegressionAfterCompensationBegins(t *testing.T) {
	sg := &Saga{ID: "sg-1", CurrentState: StateCompensationInitiated}

	for _, forward := range []State{
		StateFlightPending, StateFlightReserved, StateHotelPending,
		StateHotelReserved, StatePaymentPending, StatePaymentProcessed,
		StateBookingCompleted,
	} {
		assert.ErrorIs(t, sg.Transition(forward), ErrInvalidTransition, "comp -> %s must be rejected", forward)
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for _, terminal := range []State{StateBookingCompleted, StateCompensated, StateFailed} {
		assert.Empty(t, transitions[terminal])
		assert.True(t, terminal.Terminal())
	}
}

func TestDirectFailWhenNothingReserved(t *testing.T) {
	sg := &Saga{ID: "sg-1", CurrentState: StateFlightPending}
	require.NoError(t, sg.Transition(StateFailed))
	assert.True(t, sg.Terminal())
}

func TestCancelDominance(t *testing.T) {
	sg := &Saga{ID: "sg-1", CurrentState: StateHotelPending}
	require.NoError(t, sg.Transition(StateBookingCancelled))
	require.NoError(t, sg.Transition(StateCompensationBookingCancel))
	require.NoError(t, sg.Transition(StateCompensationFlightCancel))
	require.NoError(t, sg.Transition(StateCompensated))
}

func TestPlanFor(t *testing.T) {
	plan, err := PlanFor(TypeFlight)
	require.NoError(t, err)
	assert.Equal(t, []Step{StepFlight, StepPayment}, plan)

	plan, err = PlanFor(TypeFlightAndHotel)
	require.NoError(t, err)
	assert.Equal(t, []Step{StepFlight, StepHotel, StepPayment}, plan)

	_, err = PlanFor(BookingType("CRUISE"))
	assert.Error(t, err)
}

func TestNextStepAndCompensationOrder(t *testing.T) {
	sg := &Saga{Plan: []Step{StepFlight, StepHotel, StepPayment}}

	step, ok := sg.NextStep()
	require.True(t, ok)
	assert.Equal(t, StepFlight, step)

	sg.MarkCompleted(StepFlight)
	sg.MarkCompleted(StepHotel)

	step, ok = sg.NextStep()
	require.True(t, ok)
	assert.Equal(t, StepPayment, step)

	// Compensation runs in reverse completion order.
	comp, ok := sg.NextCompensation()
	require.True(t, ok)
	assert.Equal(t, StepHotel, comp)

	sg.MarkCompensated(StepHotel)
	comp, ok = sg.NextCompensation()
	require.True(t, ok)
	assert.Equal(t, StepFlight, comp)

	sg.MarkCompensated(StepFlight)
	_, ok = sg.NextCompensation()
	assert.False(t, ok)
}

func TestMarkCompletedIdempotent(t *testing.T) {
	sg := &Saga{Plan: []Step{StepFlight, StepPayment}}
	sg.MarkCompleted(StepFlight)
	sg.MarkCompleted(StepFlight)
	assert.Equal(t, []Step{StepFlight}, sg.CompletedSteps)
}

func TestStepStatesAndKeys(t *testing.T) {
	assert.Equal(t, StateFlightPending, StepFlight.PendingState())
	assert.Equal(t, StateHotelReserved, StepHotel.CompletedState())
	assert.Equal(t, StateCompensationPaymentRefund, StepPayment.CompensationState())

	assert.Equal(t, "sg-1:flight", StepFlight.IdempotencyKey("sg-1"))
	assert.Equal(t, "sg-1:flight:undo", StepFlight.CompensationKey("sg-1"))
}

func TestStatusForState(t *testing.T) {
	assert.Equal(t, BookingConfirmed, StatusForState(StateBookingCompleted))
	assert.Equal(t, BookingCancelled, StatusForState(StateCompensated))
	assert.Equal(t, BookingFailed, StatusForState(StateFailed))
	assert.Equal(t, BookingPending, StatusForState(StatePaymentPending))
}
