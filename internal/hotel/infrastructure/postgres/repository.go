package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/hotel/domain"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox/outboxpg"
)

const schema = `
CREATE TABLE IF NOT EXISTS hotel_inventory (
	hotel_id TEXT NOT NULL,
	room_type TEXT NOT NULL,
	night DATE NOT NULL,
	rooms_total INT NOT NULL,
	rooms_available INT NOT NULL CHECK (rooms_available >= 0),
	PRIMARY KEY (hotel_id, room_type, night)
);
CREATE TABLE IF NOT EXISTS hotel_reservations (
	id TEXT PRIMARY KEY,
	idempotency_key TEXT NOT NULL UNIQUE,
	saga_id TEXT NOT NULL,
	booking_id TEXT NOT NULL,
	hotel_id TEXT NOT NULL,
	room_type TEXT NOT NULL,
	check_in DATE NOT NULL,
	check_out DATE NOT NULL,
	rooms INT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS hotel_reservations_saga_idx ON hotel_reservations (saga_id);
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

// SeedInventory upserts one night's capacity without disturbing rooms already
// held by reservations.
func (r *Repository) SeedInventory(ctx context.Context, inv domain.Inventory) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO hotel_inventory (hotel_id, room_type, night, rooms_total, rooms_available)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (hotel_id, room_type, night) DO UPDATE
		SET rooms_total = $4,
		    rooms_available = hotel_inventory.rooms_available + ($4 - hotel_inventory.rooms_total)`,
		inv.HotelID, inv.RoomType, inv.Night, inv.RoomsTotal, inv.RoomsAvailable)
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

	ct, err := tx.Exec(ctx, `INSERT INTO hotel_reservations
		(id, idempotency_key, saga_id, booking_id, hotel_id, room_type, check_in, check_out, rooms, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		res.ID, res.IdempotencyKey, res.SagaID, res.BookingID, res.HotelID, res.RoomType,
		res.CheckIn, res.CheckOut, res.Rooms, res.Status, res.CreatedAt, res.UpdatedAt)
	if err != nil {
		return err
	}

	// Redelivered key: the stay is already held, only the result is re-sent.
	if ct.RowsAffected() == 1 {
		dec, err := tx.Exec(ctx, `UPDATE hotel_inventory
			SET rooms_available = rooms_available - $4
			WHERE hotel_id = $1 AND room_type = $2
			  AND night >= $3::date AND night < $5::date
			  AND rooms_available >= $4`,
			res.HotelID, res.RoomType, res.CheckIn, res.Rooms, res.CheckOut)
		if err != nil {
			return err
		}
		// Every night of the stay must have had capacity; a partial update
		// means at least one night was short or missing.
		if int(dec.RowsAffected()) != res.Nights() {
			return domain.ErrInsufficientRooms
		}
	}

	if err := outboxpg.Append(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) CancelWithOutbox(ctx context.Context, sagaID, hotelID, roomType string, rec outbox.Record) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var checkIn, checkOut time.Time
	var rooms int
	err = tx.QueryRow(ctx, `UPDATE hotel_reservations SET status = $4, updated_at = $5
		WHERE saga_id = $1 AND hotel_id = $2 AND room_type = $3 AND status = $6
		RETURNING check_in, check_out, rooms`,
		sagaID, hotelID, roomType, domain.ReservationCancelled, time.Now().UTC(), domain.ReservationActive).
		Scan(&checkIn, &checkOut, &rooms)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Nothing held, cancellation is a no-op success.
	case err != nil:
		return err
	default:
		_, err = tx.Exec(ctx, `UPDATE hotel_inventory SET rooms_available = rooms_available + $4
			WHERE hotel_id = $1 AND room_type = $2
			  AND night >= $3::date AND night < $5::date`,
			hotelID, roomType, checkIn, rooms, checkOut)
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
