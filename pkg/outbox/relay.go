package outbox

import (
	"context"
	"log/slog"
	"time"
)

// Store is the per-service outbox table. LockBatch leases pending rows to one
// relay instance; a lease that outlives a crashed relay simply expires and the
// rows become leasable again, which is where the at-least-once redelivery
// comes from.
type Store interface {
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	Requeue(ctx context.Context, id int64, errMsg string, retryIn time.Duration) error
	ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error
}

type Relay struct {
	log       *slog.Logger
	store     Store
	dispatch  *Dispatcher
	relayID   string
	batchSize int
	interval  time.Duration
	lease     time.Duration
	maxDelay  time.Duration
}

func NewRelay(log *slog.Logger, store Store, dispatch *Dispatcher, relayID string) *Relay {
	return &Relay{
		log:       log,
		store:     store,
		dispatch:  dispatch,
		relayID:   relayID,
		batchSize: 100,
		interval:  500 * time.Millisecond,
		lease:     30 * time.Second,
		maxDelay:  time.Minute,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopping", "relay_id", r.relayID)
			return nil
		case <-t.C:
			batch, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.lease)
			if err != nil {
				r.log.Error("relay lock batch error", "err", err)
				continue
			}
			if len(batch) == 0 {
				continue
			}

			sent := make([]int64, 0, len(batch))
			for _, e := range batch {
				if err := r.dispatch.Dispatch(ctx, e); err != nil {
					// Requeued with backoff, retried indefinitely; a row is
					// retired only after a broker-acknowledged publish.
					if qErr := r.store.Requeue(ctx, e.ID, err.Error(), r.retryDelay(e.RetryCount)); qErr != nil {
						r.log.Error("relay requeue error", "event_id", e.EventID, "err", qErr)
					}
					continue
				}
				sent = append(sent, e.ID)
			}
			if len(sent) > 0 {
				if err := r.store.MarkSent(ctx, sent); err != nil {
					r.log.Error("relay mark sent error", "err", err)
				}
			}
		}
	}
}

func (r *Relay) retryDelay(retryCount int) time.Duration {
	d := time.Second << uint(min(retryCount, 10))
	if d > r.maxDelay {
		d = r.maxDelay
	}
	return d
}
