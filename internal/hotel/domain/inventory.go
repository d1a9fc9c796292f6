package domain

import (
	"errors"
	"time"
)

var (
	// ErrInsufficientRooms is a definitive refusal; the orchestrator
	// compensates rather than retries.
	ErrInsufficientRooms = errors.New("insufficient rooms")
	ErrInvalidStay       = errors.New("check-out must be after check-in")
)

const DateLayout = "2006-01-02"

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Inventory tracks remaining rooms of one type for one night.
type Inventory struct {
	HotelID        string
	RoomType       string
	Night          time.Time
	RoomsTotal     int
	RoomsAvailable int
}

// Reservation holds rooms for every night of the stay, check-out exclusive.
type Reservation struct {
	ID             string
	IdempotencyKey string
	SagaID         string
	BookingID      string
	HotelID        string
	RoomType       string
	CheckIn        time.Time
	CheckOut       time.Time
	Rooms          int
	Status         ReservationStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Nights is the number of inventory rows the stay occupies.
func (r Reservation) Nights() int {
	return int(r.CheckOut.Sub(r.CheckIn).Hours() / 24)
}

// ParseStay validates and parses the wire-format stay dates.
func ParseStay(checkIn, checkOut string) (time.Time, time.Time, error) {
	in, err := time.Parse(DateLayout, checkIn)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	out, err := time.Parse(DateLayout, checkOut)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !out.After(in) {
		return time.Time{}, time.Time{}, ErrInvalidStay
	}
	return in, out, nil
}

// ResourceKey names the lock protecting one (hotel, room type, check-in)
// slice of inventory. Stays starting on different nights rarely contend, so
// the date keeps the lock narrow.
func ResourceKey(hotelID, roomType, checkIn string) string {
	return "hotel:" + hotelID + ":" + roomType + ":" + checkIn
}
