// Package outboxpg is the pgx implementation of the outbox store. Every
// service owns its own outbox table in its own database; the schema is
// identical across services.
package outboxpg

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox"
)

const schema = `
CREATE TABLE IF NOT EXISTS outbox (
	id BIGSERIAL PRIMARY KEY,
	event_id TEXT NOT NULL UNIQUE,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	saga_id TEXT NOT NULL,
	type TEXT NOT NULL,
	payload JSONB NOT NULL,
	traceparent TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	relay_id TEXT,
	lease_until TIMESTAMPTZ,
	retry_count INT NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS outbox_pending_idx ON outbox (next_attempt_at) WHERE status <> 'sent';
`

// Append writes an outbox row inside the caller's transaction. If that
// transaction rolls back, the row never existed; there is no event without
// the state change that produced it.
func Append(ctx context.Context, tx pgx.Tx, rec outbox.Record) error {
	_, err := tx.Exec(ctx, `INSERT INTO outbox (event_id, aggregate_type, aggregate_id, saga_id, type, payload, traceparent)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rec.EventID, rec.AggregateType, rec.AggregateID, rec.SagaID, rec.Type, rec.Payload, rec.Traceparent)
	return err
}

type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// LockBatch leases the oldest due rows. Expired leases from a crashed relay
// are stolen here, so no row is stranded in in_progress.
func (s *Store) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, saga_id, type, payload, traceparent, retry_count, created_at
		FROM outbox
		WHERE (status = 'pending' AND next_attempt_at <= now())
		   OR (status = 'in_progress' AND lease_until < now())
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch []outbox.Event
	for rows.Next() {
		var e outbox.Event
		if err := rows.Scan(&e.ID, &e.EventID, &e.AggregateType, &e.AggregateID, &e.SagaID, &e.Type,
			&e.Payload, &e.Traceparent, &e.RetryCount, &e.CreatedAt); err != nil {
			return nil, err
		}
		batch = append(batch, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, 0, len(batch))
	for _, e := range batch {
		ids = append(ids, e.ID)
	}
	_, err = tx.Exec(ctx, `UPDATE outbox SET status='in_progress', relay_id=$1, lease_until=now() + $2::interval WHERE id = ANY($3)`,
		relayID, lease.String(), ids)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *Store) MarkSent(ctx context.Context, ids []int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET status='sent', relay_id=NULL, lease_until=NULL WHERE id = ANY($1)`, ids)
	return err
}

func (s *Store) Requeue(ctx context.Context, id int64, errMsg string, retryIn time.Duration) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox
		SET status='pending', relay_id=NULL, lease_until=NULL,
		    last_error=$2, retry_count=retry_count+1, next_attempt_at=now() + $3::interval
		WHERE id=$1`, id, errMsg, retryIn.String())
	return err
}

func (s *Store) ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET lease_until=now() + $1::interval WHERE id = ANY($2) AND relay_id=$3`,
		lease.String(), ids, relayID)
	return err
}
