package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/flight/domain"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox/outboxpg"
)

const schema = `
CREATE TABLE IF NOT EXISTS flight_inventory (
	flight_number TEXT NOT NULL,
	fare_class TEXT NOT NULL,
	seats_total INT NOT NULL,
	seats_available INT NOT NULL CHECK (seats_available >= 0),
	PRIMARY KEY (flight_number, fare_class)
);
CREATE TABLE IF NOT EXISTS flight_reservations (
	id TEXT PRIMARY KEY,
	idempotency_key TEXT NOT NULL UNIQUE,
	saga_id TEXT NOT NULL,
	booking_id TEXT NOT NULL,
	flight_number TEXT NOT NULL,
	fare_class TEXT NOT NULL,
	seats INT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS flight_reservations_saga_idx ON flight_reservations (saga_id);
`

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

// SeedInventory upserts capacity for a fare class without disturbing seats
// already held by reservations.
func (r *Repository) SeedInventory(ctx context.Context, inv domain.Inventory) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO flight_inventory (flight_number, fare_class, seats_total, seats_available)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (flight_number, fare_class) DO UPDATE
		SET seats_total = $3,
		    seats_available = flight_inventory.seats_available + ($3 - flight_inventory.seats_total)`,
		inv.FlightNumber, inv.FareClass, inv.SeatsTotal, inv.SeatsAvailable)
	return err
}

func (r *Repository) ReserveWithOutbox(ctx context.Context, res domain.Reservation, rec outbox.Record) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `INSERT INTO flight_reservations
		(id, idempotency_key, saga_id, booking_id, flight_number, fare_class, seats, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		res.ID, res.IdempotencyKey, res.SagaID, res.BookingID, res.FlightNumber, res.FareClass,
		res.Seats, res.Status, res.CreatedAt, res.UpdatedAt)
	if err != nil {
		return err
	}

	// Redelivered key: the seats are already held, only the result is re-sent.
	if ct.RowsAffected() == 1 {
		dec, err := tx.Exec(ctx, `UPDATE flight_inventory
			SET seats_available = seats_available - $3
			WHERE flight_number = $1 AND fare_class = $2 AND seats_available >= $3`,
			res.FlightNumber, res.FareClass, res.Seats)
		if err != nil {
			return err
		}
		if dec.RowsAffected() == 0 {
			return domain.ErrInsufficientSeats
		}
	}

	if err := outboxpg.Append(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) CancelWithOutbox(ctx context.Context, sagaID, flightNumber, fareClass string, rec outbox.Record) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var seats int
	err = tx.QueryRow(ctx, `UPDATE flight_reservations SET status = $4, updated_at = $5
		WHERE saga_id = $1 AND flight_number = $2 AND fare_class = $3 AND status = $6
		RETURNING seats`,
		sagaID, flightNumber, fareClass, domain.ReservationCancelled, time.Now().UTC(), domain.ReservationActive).
		Scan(&seats)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Nothing held, cancellation is a no-op success.
	case err != nil:
		return err
	default:
		_, err = tx.Exec(ctx, `UPDATE flight_inventory SET seats_available = seats_available + $3
			WHERE flight_number = $1 AND fare_class = $2`,
			flightNumber, fareClass, seats)
		if err != nil {
			return err
		}
	}

	if err := outboxpg.Append(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) AppendResult(ctx context.Context, rec outbox.Record) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := outboxpg.Append(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
