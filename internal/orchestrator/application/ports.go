package application

import (
	"context"
	"errors"
	"time"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/orchestrator/domain"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox"
)

var ErrSagaNotFound = errors.New("saga not found")

// Repository persists bookings and sagas. Every mutation writes its outbox
// records in the same transaction as the state change.
type Repository interface {
	// CreateWithOutbox inserts the booking, the saga and the initial outbox
	// records atomically. Returns a conflict fault when a saga already exists
	// for the booking.
	CreateWithOutbox(ctx context.Context, b domain.Booking, sg domain.Saga, recs []outbox.Record) error
	// UpdateWithOutbox persists the saga transition, derives the booking
	// status from the new state, and appends the given records, all in one
	// transaction.
	UpdateWithOutbox(ctx context.Context, sg domain.Saga, recs []outbox.Record) error
	GetSaga(ctx context.Context, sagaID string) (domain.Saga, error)
	GetBooking(ctx context.Context, bookingID string) (domain.Booking, error)
	// ListDue returns non-terminal sagas whose next_retry_at has passed.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Saga, error)
	// ListStuck returns non-terminal sagas without a retry schedule that have
	// not moved since the cutoff.
	ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]domain.Saga, error)
}

// Deduper recognizes already-processed result events by their envelope id.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}
