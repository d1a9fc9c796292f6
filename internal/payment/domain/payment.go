package domain

import (
	"errors"
	"time"
)

// ErrInsufficientFunds is a definitive decline; the orchestrator compensates
// rather than retries.
var ErrInsufficientFunds = errors.New("insufficient funds")

type Status string

const (
	StatusCaptured Status = "CAPTURED"
	StatusRefunded Status = "REFUNDED"
)

// Account is the debit side of a charge. Balances are minor units of the
// account currency.
type Account struct {
	UserID   string
	Currency string
	Balance  int64
}

// Payment is one captured charge. The idempotency key makes a redelivered
// charge command land on the same row instead of double-charging.
type Payment struct {
	ID             string
	IdempotencyKey string
	SagaID         string
	BookingID      string
	UserID         string
	Amount         int64
	Currency       string
	Method         string
	Provider       string
	TransactionID  string
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ResourceKey names the lock serializing charge against refund for one
// booking.
func ResourceKey(bookingID string) string {
	return "payment:" + bookingID
}
