package domain

import "time"

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingFailed    BookingStatus = "FAILED"
)

// Booking is owned exclusively by the orchestrator; downstream services never
// mutate it.
type Booking struct {
	ID          string
	SagaID      string
	UserID      string
	BookingType BookingType
	TotalAmount int64
	Currency    string
	Status      BookingStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StatusForState maps saga terminal states onto the user-facing booking
// status. Non-terminal states keep the booking pending.
func StatusForState(s State) BookingStatus {
	switch s {
	case StateBookingCompleted:
		return BookingConfirmed
	case StateCompensated:
		return BookingCancelled
	case StateFailed:
		return BookingFailed
	default:
		return BookingPending
	}
}
