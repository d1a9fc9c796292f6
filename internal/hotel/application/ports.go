package application

import (
	"context"
	"time"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/hotel/domain"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox"
)

// Repository mutates room inventory and reservations. Every mutation carries
// its result outbox record in the same transaction.
type Repository interface {
	// ReserveWithOutbox inserts the reservation, decrements every night of the
	// stay and appends rec atomically. A redelivered key leaves inventory
	// untouched and only appends rec. Returns domain.ErrInsufficientRooms when
	// any night is short.
	ReserveWithOutbox(ctx context.Context, res domain.Reservation, rec outbox.Record) error
	// CancelWithOutbox restores the stay's rooms and appends rec. A missing or
	// already-cancelled reservation only appends rec.
	CancelWithOutbox(ctx context.Context, sagaID, hotelID, roomType string, rec outbox.Record) error
	// AppendResult publishes a result without touching inventory.
	AppendResult(ctx context.Context, rec outbox.Record) error
}

// Locker serializes inventory access across service instances.
type Locker interface {
	Acquire(ctx context.Context, resourceKey string, ttl time.Duration) (string, error)
	Release(ctx context.Context, resourceKey, token string) error
}
