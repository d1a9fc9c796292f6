package application

import (
	"context"
	"time"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/flight/domain"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox"
)

// Repository mutates inventory and reservations. Every mutation carries its
// result outbox record in the same transaction.
type Repository interface {
	// ReserveWithOutbox inserts the reservation, decrements availability and
	// appends rec atomically. A redelivered key leaves inventory untouched and
	// only appends rec. Returns domain.ErrInsufficientSeats when capacity is
	// short.
	ReserveWithOutbox(ctx context.Context, res domain.Reservation, rec outbox.Record) error
	// CancelWithOutbox restores the reservation's seats and appends rec. A
	// missing or already-cancelled reservation only appends rec.
	CancelWithOutbox(ctx context.Context, sagaID, flightNumber, fareClass string, rec outbox.Record) error
	// AppendResult publishes a result without touching inventory.
	AppendResult(ctx context.Context, rec outbox.Record) error
}

// Locker serializes inventory access across service instances.
type Locker interface {
	Acquire(ctx context.Context, resourceKey string, ttl time.Duration) (string, error)
	Release(ctx context.Context, resourceKey, token string) error
}
