package domain

import (
	"errors"
	"time"
)

// ErrInsufficientSeats is a definitive refusal; the orchestrator compensates
// rather than retries.
var ErrInsufficientSeats = errors.New("insufficient seats")

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Inventory tracks remaining capacity for one fare class on one flight leg.
type Inventory struct {
	FlightNumber   string
	FareClass      string
	SeatsTotal     int
	SeatsAvailable int
}

// Reservation holds seats for a saga. The idempotency key makes redelivered
// reserve commands land on the same row instead of double-booking.
type Reservation struct {
	ID             string
	IdempotencyKey string
	SagaID         string
	BookingID      string
	FlightNumber   string
	FareClass      string
	Seats          int
	Status         ReservationStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ResourceKey names the lock protecting one (leg, fare class) inventory row.
func ResourceKey(flightNumber, fareClass string) string {
	return "flight:" + flightNumber + ":" + fareClass
}
