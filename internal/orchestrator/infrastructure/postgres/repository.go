package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/orchestrator/application"
	"github.com/pdhuy2k3/booking-platform-sub005/internal/orchestrator/domain"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/fault"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox/outboxpg"
)

const schema = `
CREATE TABLE IF NOT EXISTS bookings (
	id TEXT PRIMARY KEY,
	saga_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	booking_type TEXT NOT NULL,
	total_amount BIGINT NOT NULL,
	currency TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS sagas (
	id TEXT PRIMARY KEY,
	booking_id TEXT NOT NULL UNIQUE,
	correlation_id TEXT NOT NULL,
	current_state TEXT NOT NULL,
	previous_state TEXT NOT NULL DEFAULT '',
	plan JSONB NOT NULL,
	completed_steps JSONB NOT NULL DEFAULT '[]',
	compensated_steps JSONB NOT NULL DEFAULT '[]',
	cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
	retry_count INT NOT NULL DEFAULT 0,
	next_retry_at TIMESTAMPTZ,
	flight_data JSONB,
	hotel_data JSONB,
	payment_data JSONB,
	error_trail JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS sagas_retry_idx ON sagas (next_retry_at) WHERE next_retry_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS sagas_updated_idx ON sagas (updated_at);
`

const sagaColumns = `id, booking_id, correlation_id, current_state, previous_state, plan,
	completed_steps, compensated_steps, cancel_requested, retry_count, next_retry_at,
	flight_data, hotel_data, payment_data, error_trail, created_at, updated_at`

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

func (r *Repository) CreateWithOutbox(ctx context.Context, b domain.Booking, sg domain.Saga, recs []outbox.Record) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `INSERT INTO bookings (id, saga_id, user_id, booking_type, total_amount, currency, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		b.ID, b.SagaID, b.UserID, b.BookingType, b.TotalAmount, b.Currency, b.Status, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fault.Wrap(fault.KindConflict, err, "booking already exists")
		}
		return err
	}

	if err := r.insertSaga(ctx, tx, sg); err != nil {
		if isUniqueViolation(err) {
			return fault.Wrap(fault.KindConflict, err, "saga already exists for booking")
		}
		return err
	}

	for _, rec := range recs {
		if err := outboxpg.Append(ctx, tx, rec); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Repository) UpdateWithOutbox(ctx context.Context, sg domain.Saga, recs []outbox.Record) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	completed, _ := json.Marshal(sg.CompletedSteps)
	compensated, _ := json.Marshal(sg.CompensatedSteps)
	trail, _ := json.Marshal(sg.ErrorTrail)

	ct, err := tx.Exec(ctx, `UPDATE sagas SET current_state=$2, previous_state=$3, completed_steps=$4,
		compensated_steps=$5, cancel_requested=$6, retry_count=$7, next_retry_at=$8, error_trail=$9, updated_at=$10
		WHERE id=$1`,
		sg.ID, sg.CurrentState, sg.PreviousState, completed, compensated,
		sg.CancelRequested, sg.RetryCount, sg.NextRetryAt, trail, sg.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrSagaNotFound
	}

	_, err = tx.Exec(ctx, `UPDATE bookings SET status=$2, updated_at=$3 WHERE id=$1`,
		sg.BookingID, domain.StatusForState(sg.CurrentState), sg.UpdatedAt)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		if err := outboxpg.Append(ctx, tx, rec); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetSaga(ctx context.Context, sagaID string) (domain.Saga, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sagaColumns+` FROM sagas WHERE id=$1`, sagaID)
	return scanSaga(row)
}

func (r *Repository) GetBooking(ctx context.Context, bookingID string) (domain.Booking, error) {
	var b domain.Booking
	err := r.pool.QueryRow(ctx, `SELECT id, saga_id, user_id, booking_type, total_amount, currency, status, created_at, updated_at
		FROM bookings WHERE id=$1`, bookingID).
		Scan(&b.ID, &b.SagaID, &b.UserID, &b.BookingType, &b.TotalAmount, &b.Currency, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Booking{}, application.ErrSagaNotFound
	}
	if err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}

func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Saga, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sagaColumns+` FROM sagas
		WHERE next_retry_at IS NOT NULL AND next_retry_at <= $1
		  AND current_state NOT IN ($2,$3,$4)
		ORDER BY next_retry_at LIMIT $5`,
		now, domain.StateBookingCompleted, domain.StateCompensated, domain.StateFailed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSagas(rows)
}

func (r *Repository) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]domain.Saga, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sagaColumns+` FROM sagas
		WHERE next_retry_at IS NULL AND updated_at < $1
		  AND current_state NOT IN ($2,$3,$4)
		ORDER BY updated_at LIMIT $5`,
		cutoff, domain.StateBookingCompleted, domain.StateCompensated, domain.StateFailed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSagas(rows)
}

func (r *Repository) insertSaga(ctx context.Context, tx pgx.Tx, sg domain.Saga) error {
	plan, _ := json.Marshal(sg.Plan)
	completed, _ := json.Marshal(sg.CompletedSteps)
	compensated, _ := json.Marshal(sg.CompensatedSteps)
	trail, _ := json.Marshal(sg.ErrorTrail)

	_, err := tx.Exec(ctx, `INSERT INTO sagas (`+sagaColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		sg.ID, sg.BookingID, sg.CorrelationID, sg.CurrentState, sg.PreviousState, plan,
		completed, compensated, sg.CancelRequested, sg.RetryCount, sg.NextRetryAt,
		sg.FlightData, sg.HotelData, sg.PaymentData, trail, sg.CreatedAt, sg.UpdatedAt)
	return err
}

func scanSagas(rows pgx.Rows) ([]domain.Saga, error) {
	var out []domain.Saga
	for rows.Next() {
		sg, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

func scanSaga(row pgx.Row) (domain.Saga, error) {
	var sg domain.Saga
	var plan, completed, compensated, trail []byte
	err := row.Scan(&sg.ID, &sg.BookingID, &sg.CorrelationID, &sg.CurrentState, &sg.PreviousState, &plan,
		&completed, &compensated, &sg.CancelRequested, &sg.RetryCount, &sg.NextRetryAt,
		&sg.FlightData, &sg.HotelData, &sg.PaymentData, &trail, &sg.CreatedAt, &sg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Saga{}, application.ErrSagaNotFound
	}
	if err != nil {
		return domain.Saga{}, err
	}
	if err := json.Unmarshal(plan, &sg.Plan); err != nil {
		return domain.Saga{}, err
	}
	if err := json.Unmarshal(completed, &sg.CompletedSteps); err != nil {
		return domain.Saga{}, err
	}
	if err := json.Unmarshal(compensated, &sg.CompensatedSteps); err != nil {
		return domain.Saga{}, err
	}
	if err := json.Unmarshal(trail, &sg.ErrorTrail); err != nil {
		return domain.Saga{}, err
	}
	return sg, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
