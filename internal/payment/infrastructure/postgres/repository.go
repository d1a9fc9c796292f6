package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/payment/domain"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox/outboxpg"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id TEXT PRIMARY KEY,
	currency TEXT NOT NULL,
	balance BIGINT NOT NULL CHECK (balance >= 0)
);
CREATE TABLE IF NOT EXISTS payments (
	id TEXT PRIMARY KEY,
	idempotency_key TEXT NOT NULL UNIQUE,
	saga_id TEXT NOT NULL,
	booking_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	amount BIGINT NOT NULL,
	currency TEXT NOT NULL,
	method TEXT NOT NULL,
	provider TEXT NOT NULL,
	transaction_id TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS payments_saga_idx ON payments (saga_id);
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

// SeedAccount upserts a user balance.
func (r *Repository) SeedAccount(ctx context.Context, acc domain.Account) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO accounts (user_id, currency, balance) VALUES ($1,$2,$3)
		ON CONFLICT (user_id) DO UPDATE SET currency=$2, balance=$3`,
		acc.UserID, acc.Currency, acc.Balance)
	return err
}

func (r *Repository) ChargeWithOutbox(ctx context.Context, p domain.Payment, rec outbox.Record) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `INSERT INTO payments
		(id, idempotency_key, saga_id, booking_id, user_id, amount, currency, method, provider, transaction_id, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		p.ID, p.IdempotencyKey, p.SagaID, p.BookingID, p.UserID, p.Amount, p.Currency,
		p.Method, p.Provider, p.TransactionID, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return err
	}

	// Redelivered key: the charge is already captured, only the result is
	// re-sent.
	if ct.RowsAffected() == 1 {
		dec, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance - $2
			WHERE user_id = $1 AND currency = $3 AND balance >= $2`,
			p.UserID, p.Amount, p.Currency)
		if err != nil {
			return err
		}
		if dec.RowsAffected() == 0 {
			return domain.ErrInsufficientFunds
		}
	}

	if err := outboxpg.Append(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) FindCapturedCharge(ctx context.Context, sagaID string) (domain.Payment, bool, error) {
	var p domain.Payment
	err := r.pool.QueryRow(ctx, `SELECT id, idempotency_key, saga_id, booking_id, user_id, amount, currency,
		method, provider, transaction_id, status, created_at, updated_at
		FROM payments WHERE saga_id = $1 AND status = $2`, sagaID, domain.StatusCaptured).
		Scan(&p.ID, &p.IdempotencyKey, &p.SagaID, &p.BookingID, &p.UserID, &p.Amount, &p.Currency,
			&p.Method, &p.Provider, &p.TransactionID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, false, nil
	}
	if err != nil {
		return domain.Payment{}, false, err
	}
	return p, true, nil
}

func (r *Repository) RefundWithOutbox(ctx context.Context, paymentID string, rec outbox.Record) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var userID string
	var amount int64
	err = tx.QueryRow(ctx, `UPDATE payments SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
		RETURNING user_id, amount`,
		paymentID, domain.StatusRefunded, time.Now().UTC(), domain.StatusCaptured).
		Scan(&userID, &amount)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Already refunded by a concurrent attempt; only the result goes out.
	case err != nil:
		return err
	default:
		_, err = tx.Exec(ctx, `UPDATE accounts SET balance = balance + $2 WHERE user_id = $1`,
			userID, amount)
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
