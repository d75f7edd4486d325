package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LockBackend is the external lock store serializing quota bookings
// across processes.  Acquire returns an opaque token that must be
// presented on Release so a lock that expired and was re-acquired by
// someone else is never released by its previous holder.
//
// Acquire returns ErrBusy while the lock is held elsewhere and
// ErrBackendUnavailable when the store cannot be reached; the two are
// handled very differently by the ledger.
type LockBackend interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Release(ctx context.Context, key, token string) error
	Count(ctx context.Context) (int64, error)
}

// RedisBackend implements LockBackend on a single Redis instance using
// SET NX with a TTL.  Release is a compare-and-delete script so only
// the token holder can free the lock.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisBackend returns a RedisBackend namespacing its keys under
// the given prefix.
func NewRedisBackend(rdb *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "quotalock"
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

var releaseScript = redis.NewScript(`
    if redis.call('GET', KEYS[1]) == ARGV[1] then
        return redis.call('DEL', KEYS[1])
    end
    return 0
`)

func (b *RedisBackend) key(k string) string { return b.prefix + ":" + k }

// Acquire takes the lock for at most ttl.  The TTL is a safety net
// against crashed holders; well-behaved callers release explicitly.
// A backend constructed without a client reports itself unavailable,
// pushing every quota into degraded mode on first use.
func (b *RedisBackend) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if b.rdb == nil {
		return "", ErrBackendUnavailable
	}
	token := uuid.NewString()
	ok, err := b.rdb.SetNX(ctx, b.key(key), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !ok {
		return "", ErrBusy
	}
	return token, nil
}

// Release frees the lock if it is still held under the given token.
// Releasing an already expired lock is not an error.
func (b *RedisBackend) Release(ctx context.Context, key, token string) error {
	if b.rdb == nil {
		return ErrBackendUnavailable
	}
	err := releaseScript.Run(ctx, b.rdb, []string{b.key(key)}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Count reports the number of locks currently held.  The number is a
// snapshot for display; it drifts while locks come and go.
func (b *RedisBackend) Count(ctx context.Context) (int64, error) {
	if b.rdb == nil {
		return 0, ErrBackendUnavailable
	}
	var total int64
	var cursor uint64
	for {
		keys, next, err := b.rdb.Scan(ctx, cursor, b.prefix+":*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		total += int64(len(keys))
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}
