package application

import (
	"context"
	"time"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/payment/domain"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox"
)

// Repository mutates accounts and payments. Every mutation carries its result
// outbox record in the same transaction.
type Repository interface {
	// ChargeWithOutbox debits the account, inserts the payment and appends rec
	// atomically. A redelivered key leaves the balance untouched and only
	// appends rec. Returns domain.ErrInsufficientFunds when the balance is
	// short.
	ChargeWithOutbox(ctx context.Context, p domain.Payment, rec outbox.Record) error
	// FindCapturedCharge returns the captured payment for the saga, if any.
	FindCapturedCharge(ctx context.Context, sagaID string) (domain.Payment, bool, error)
	// RefundWithOutbox credits the charge back and appends rec. The payment
	// must still be captured.
	RefundWithOutbox(ctx context.Context, paymentID string, rec outbox.Record) error
	// AppendResult publishes a result without touching accounts.
	AppendResult(ctx context.Context, rec outbox.Record) error
}

// Locker serializes charge against refund per booking across instances.
type Locker interface {
	Acquire(ctx context.Context, resourceKey string, ttl time.Duration) (string, error)
	Release(ctx context.Context, resourceKey, token string) error
}
