package application

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/payment/domain"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/events"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/lock"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/tracing"
)

type Options struct {
	LockTTL        time.Duration
	LockAttempts   int
	LockRetryDelay time.Duration
	// MaxAmount caps a single charge across all providers.
	MaxAmount int64
}

func (o *Options) defaults() {
	if o.LockTTL == 0 {
		o.LockTTL = 10 * time.Second
	}
	if o.LockAttempts == 0 {
		o.LockAttempts = 3
	}
	if o.LockRetryDelay == 0 {
		o.LockRetryDelay = 100 * time.Millisecond
	}
	if o.MaxAmount == 0 {
		o.MaxAmount = 50_000_000
	}
}

type Service struct {
	log   *slog.Logger
	repo  Repository
	locks Locker
	opts  Options
}

func NewService(log *slog.Logger, repo Repository, locks Locker, opts Options) *Service {
	opts.defaults()
	return &Service{log: log, repo: repo, locks: locks, opts: opts}
}

// Charge captures the booking amount. The provider is resolved once from the
// method before any money moves; a decline or unknown method is definitive,
// a busy lock is retryable.
func (s *Service) Charge(ctx context.Context, cmd events.ProcessPayment) error {
	provider, err := domain.SelectProvider(cmd.Method, s.opts.MaxAmount)
	if err != nil {
		return s.fail(ctx, cmd.SagaID, cmd.BookingID, err.Error(), false)
	}

	key := domain.ResourceKey(cmd.BookingID)
	token, err := s.acquire(ctx, key)
	if errors.Is(err, lock.ErrBusy) {
		s.log.Warn("payment lock busy", "resource", key, "saga_id", cmd.SagaID)
		return s.fail(ctx, cmd.SagaID, cmd.BookingID, "payment lock busy", true)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := s.locks.Release(ctx, key, token); err != nil {
			s.log.Warn("lock release failed", "resource", key, "err", err)
		}
	}()

	txID, err := provider.Charge(cmd.Amount, cmd.Currency)
	if errors.Is(err, domain.ErrDeclined) {
		s.log.Info("charge declined", "provider", provider.Name(), "saga_id", cmd.SagaID, "reason", err)
		return s.fail(ctx, cmd.SagaID, cmd.BookingID, err.Error(), false)
	}
	if err != nil {
		return err
	}

	p := domain.Payment{
		ID:             uuid.NewString(),
		IdempotencyKey: cmd.IdempotencyKey,
		SagaID:         cmd.SagaID,
		BookingID:      cmd.BookingID,
		UserID:         cmd.UserID,
		Amount:         cmd.Amount,
		Currency:       cmd.Currency,
		Method:         cmd.Method,
		Provider:       provider.Name(),
		TransactionID:  txID,
		Status:         domain.StatusCaptured,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	rec, err := s.result(ctx, cmd.SagaID, cmd.BookingID, events.TypePaymentProcessed, events.PaymentProcessed{
		SagaID: cmd.SagaID, BookingID: cmd.BookingID, TransactionID: txID, Provider: provider.Name(),
	})
	if err != nil {
		return err
	}

	err = s.repo.ChargeWithOutbox(ctx, p, rec)
	if errors.Is(err, domain.ErrInsufficientFunds) {
		s.log.Info("charge refused", "saga_id", cmd.SagaID, "user_id", cmd.UserID, "amount", cmd.Amount)
		return s.fail(ctx, cmd.SagaID, cmd.BookingID, "insufficient funds", false)
	}
	if err != nil {
		return err
	}
	s.log.Info("payment captured", "provider", provider.Name(), "saga_id", cmd.SagaID, "amount", cmd.Amount)
	return nil
}

// Refund returns a captured charge. Refunding an unknown or already-refunded
// charge emits success so compensation can converge.
func (s *Service) Refund(ctx context.Context, cmd events.RefundPayment) error {
	key := domain.ResourceKey(cmd.BookingID)
	token, err := s.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.locks.Release(ctx, key, token); err != nil {
			s.log.Warn("lock release failed", "resource", key, "err", err)
		}
	}()

	p, found, err := s.repo.FindCapturedCharge(ctx, cmd.SagaID)
	if err != nil {
		return err
	}

	rec, err := s.result(ctx, cmd.SagaID, cmd.BookingID, events.TypePaymentRefunded, events.PaymentRefunded{
		SagaID: cmd.SagaID, BookingID: cmd.BookingID, TransactionID: p.TransactionID,
	})
	if err != nil {
		return err
	}

	if !found {
		s.log.Info("nothing to refund", "saga_id", cmd.SagaID)
		return s.repo.AppendResult(ctx, rec)
	}
	if err := s.repo.RefundWithOutbox(ctx, p.ID, rec); err != nil {
		return err
	}
	s.log.Info("payment refunded", "provider", p.Provider, "saga_id", cmd.SagaID, "amount", p.Amount)
	return nil
}

func (s *Service) acquire(ctx context.Context, key string) (string, error) {
	var token string
	op := func() error {
		t, err := s.locks.Acquire(ctx, key, s.opts.LockTTL)
		if err != nil {
			if errors.Is(err, lock.ErrBusy) {
				return err
			}
			return backoff.Permanent(err)
		}
		token = t
		return nil
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.LockRetryDelay), uint64(s.opts.LockAttempts-1))
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return token, nil
}

func (s *Service) fail(ctx context.Context, sagaID, bookingID, reason string, retryable bool) error {
	rec, err := s.result(ctx, sagaID, bookingID, events.TypePaymentFailed, events.PaymentFailed{
		SagaID: sagaID, BookingID: bookingID, Reason: reason, Retryable: retryable,
	})
	if err != nil {
		return err
	}
	return s.repo.AppendResult(ctx, rec)
}

func (s *Service) result(ctx context.Context, sagaID, bookingID, eventType string, payload any) (outbox.Record, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return outbox.Record{}, err
	}
	return outbox.Record{
		EventID:       uuid.NewString(),
		AggregateType: "payment",
		AggregateID:   bookingID,
		SagaID:        sagaID,
		Type:          eventType,
		Payload:       body,
		Traceparent:   tracing.Traceparent(ctx),
	}, nil
}
