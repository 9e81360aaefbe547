package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// pollInterval is how often a blocked Lock retries the Redis lease.
const pollInterval = 500 * time.Millisecond

// releaseScript deletes the lease only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis extends Local with a lease in Redis so that several gateway
// processes syncing the same mailbox still run one at a time. The lease
// expires after ttl, which must exceed the longest run.
type Redis struct {
	local  *Local
	client redis.UniversalClient
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
}

// NewRedis creates a Redis-backed lock on key.
func NewRedis(client redis.UniversalClient, key string, ttl time.Duration) *Redis {
	return &Redis{
		local:  NewLocal(),
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

// NewRedisClient creates a client for addr with conservative timeouts.
func NewRedisClient(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
}

// Lock waits for the local lock and then for the shared lease.
func (r *Redis) Lock(ctx context.Context) error {
	if err := r.local.Lock(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ok, err := r.acquire(ctx)
		if err != nil {
			_ = r.local.Unlock(ctx)
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			_ = r.local.Unlock(ctx)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TryLock takes the lock only if both the local lock and the lease are free.
func (r *Redis) TryLock(ctx context.Context) (bool, error) {
	ok, _ := r.local.TryLock(ctx)
	if !ok {
		return false, nil
	}

	ok, err := r.acquire(ctx)
	if err != nil || !ok {
		_ = r.local.Unlock(ctx)
		return false, err
	}
	return true, nil
}

// Unlock releases the lease, if still ours, and the local lock.
func (r *Redis) Unlock(ctx context.Context) error {
	r.mu.Lock()
	token := r.token
	r.token = ""
	r.mu.Unlock()

	var releaseErr error
	if token != "" {
		if err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Err(); err != nil {
			releaseErr = fmt.Errorf("releasing lease %s: %w", r.key, err)
		}
	}

	if err := r.local.Unlock(ctx); err != nil {
		return err
	}
	return releaseErr
}

func (r *Redis) acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lease %s: %w", r.key, err)
	}
	if ok {
		r.mu.Lock()
		r.token = token
		r.mu.Unlock()
	}
	return ok, nil
}
