// Package lock implements short-lived exclusive inventory locks on Redis.
// Every acquisition gets a random owner token; release and extend verify the
// token server-side, so a crashed holder's stale release can never evict a
// newer holder.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrBusy     = errors.New("lock already held")
	ErrNotOwner = errors.New("lock not held by this token")
	ErrExpired  = errors.New("lock expired or lost")
)

const keyPrefix = "invlock:"

// Check-and-set scripts run atomically on the server; a plain GET+DEL pair
// would reintroduce the lost-update hazard the token exists to prevent.
const (
	releaseScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript  = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

type Manager struct {
	client redis.UniversalClient
}

func NewManager(client redis.UniversalClient) *Manager {
	return &Manager{client: client}
}

// Acquire is non-blocking: when the resource is held it fails immediately
// with ErrBusy and the caller decides whether to back off and retry.
func (m *Manager) Acquire(ctx context.Context, resourceKey string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, keyPrefix+resourceKey, token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("acquire %s: %w", resourceKey, ErrBusy)
	}
	return token, nil
}

func (m *Manager) Release(ctx context.Context, resourceKey, token string) error {
	res, err := m.client.Eval(ctx, releaseScript, []string{keyPrefix + resourceKey}, token).Result()
	if err != nil {
		return err
	}
	if res == int64(0) {
		return fmt.Errorf("release %s: %w", resourceKey, ErrNotOwner)
	}
	return nil
}

func (m *Manager) Extend(ctx context.Context, resourceKey, token string, ttl time.Duration) error {
	res, err := m.client.Eval(ctx, extendScript, []string{keyPrefix + resourceKey}, token,
		fmt.Sprintf("%d", ttl.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if res == int64(0) {
		return fmt.Errorf("extend %s: %w", resourceKey, ErrExpired)
	}
	return nil
}
