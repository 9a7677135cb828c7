package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-reminders/internal/lock"
)

// AvailabilityLocker is the Redis flavour of lock.Locker, for deployments where
// several hosts share the availability file over storage without flock support.
type AvailabilityLocker struct {
	client     *redis.Client
	key        string
	ttl        time.Duration
	timeout    time.Duration
	retryDelay time.Duration
}

var _ lock.Locker = (*AvailabilityLocker)(nil)

// NewAvailabilityLocker creates a locker keyed on the store name.
func NewAvailabilityLocker(client *redis.Client, name string, ttl, timeout, retryDelay time.Duration) *AvailabilityLocker {
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}
	return &AvailabilityLocker{
		client:     client,
		key:        fmt.Sprintf("lock:availability:%s", name),
		ttl:        ttl,
		timeout:    timeout,
		retryDelay: retryDelay,
	}
}

func (l *AvailabilityLocker) Key() string {
	return l.key
}

func (l *AvailabilityLocker) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	if err := l.acquire(ctx, token); err != nil {
		return err
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *AvailabilityLocker) acquire(ctx context.Context, token string) error {
	deadline := time.NewTimer(l.timeout)
	defer deadline.Stop()

	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire availability lock: %w", err)
		}
		if ok {
			return nil
		}

		retry := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			retry.Stop()
			return ctx.Err()
		case <-deadline.C:
			retry.Stop()
			return fmt.Errorf("%w: redis key %s after %s", lock.ErrTimeout, l.key, l.timeout)
		case <-retry.C:
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *AvailabilityLocker) release(ctx context.Context, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{l.key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release availability lock: %w", err)
	}
	return nil
}
