package application

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/hotel/domain"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/events"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/lock"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/tracing"
)

type Options struct {
	LockTTL        time.Duration
	LockAttempts   int
	LockRetryDelay time.Duration
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

// Reserve holds rooms for every night of the stay under the inventory lock. A
// busy lock after the bounded retry loop is a retryable failure; a malformed
// stay or a short night is definitive.
func (s *Service) Reserve(ctx context.Context, cmd events.ReserveHotel) error {
	checkIn, checkOut, err := domain.ParseStay(cmd.CheckIn, cmd.CheckOut)
	if err != nil {
		return s.fail(ctx, cmd.SagaID, cmd.BookingID, "invalid stay: "+err.Error(), false)
	}

	key := domain.ResourceKey(cmd.HotelID, cmd.RoomType, cmd.CheckIn)
	token, err := s.acquire(ctx, key)
	if errors.Is(err, lock.ErrBusy) {
		s.log.Warn("inventory lock busy", "resource", key, "saga_id", cmd.SagaID)
		return s.fail(ctx, cmd.SagaID, cmd.BookingID, "inventory lock busy", true)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := s.locks.Release(ctx, key, token); err != nil {
			s.log.Warn("lock release failed", "resource", key, "err", err)
		}
	}()

	res := domain.Reservation{
		ID:             uuid.NewString(),
		IdempotencyKey: cmd.IdempotencyKey,
		SagaID:         cmd.SagaID,
		BookingID:      cmd.BookingID,
		HotelID:        cmd.HotelID,
		RoomType:       cmd.RoomType,
		CheckIn:        checkIn,
		CheckOut:       checkOut,
		Rooms:          cmd.Rooms,
		Status:         domain.ReservationActive,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	rec, err := s.result(ctx, cmd.SagaID, cmd.BookingID, events.TypeHotelReserved, events.HotelReserved{
		SagaID: cmd.SagaID, BookingID: cmd.BookingID, ReservationID: res.ID,
	})
	if err != nil {
		return err
	}

	err = s.repo.ReserveWithOutbox(ctx, res, rec)
	if errors.Is(err, domain.ErrInsufficientRooms) {
		s.log.Info("reservation refused", "resource", key, "saga_id", cmd.SagaID, "rooms", cmd.Rooms)
		return s.fail(ctx, cmd.SagaID, cmd.BookingID, "insufficient rooms", false)
	}
	if err != nil {
		return err
	}
	s.log.Info("rooms reserved", "resource", key, "saga_id", cmd.SagaID, "rooms", cmd.Rooms, "nights", res.Nights())
	return nil
}

// Cancel releases a stay. Cancelling a reservation that never existed or is
// already cancelled still emits success so compensation can converge.
func (s *Service) Cancel(ctx context.Context, cmd events.CancelHotel) error {
	key := domain.ResourceKey(cmd.HotelID, cmd.RoomType, cmd.CheckIn)
	token, err := s.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.locks.Release(ctx, key, token); err != nil {
			s.log.Warn("lock release failed", "resource", key, "err", err)
		}
	}()

	rec, err := s.result(ctx, cmd.SagaID, cmd.BookingID, events.TypeHotelCancelled, events.HotelCancelled{
		SagaID: cmd.SagaID, BookingID: cmd.BookingID,
	})
	if err != nil {
		return err
	}
	if err := s.repo.CancelWithOutbox(ctx, cmd.SagaID, cmd.HotelID, cmd.RoomType, rec); err != nil {
		return err
	}
	s.log.Info("reservation cancelled", "resource", key, "saga_id", cmd.SagaID)
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
	rec, err := s.result(ctx, sagaID, bookingID, events.TypeHotelReservationFailed, events.HotelReservationFailed{
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
		AggregateType: "hotel",
		AggregateID:   bookingID,
		SagaID:        sagaID,
		Type:          eventType,
		Payload:       body,
		Traceparent:   tracing.Traceparent(ctx),
	}, nil
}
