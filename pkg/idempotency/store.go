// Package idempotency gives at-least-once consumers a dedupe check keyed by
// the outbox event id carried in every envelope.
package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewStore(rdb redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Seen marks eventID as processed and reports whether it already was. The TTL
// bounds the dedupe window; redelivery beyond it is caught by the consumers'
// own state guards.
func (s *Store) Seen(ctx context.Context, eventID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, "dedupe:"+eventID, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}
