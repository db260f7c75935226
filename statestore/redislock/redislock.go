// Package redislock implements statestore.Lock as a single-instance
// Redis lock: SET NX PX to acquire, a compare-and-delete Lua script to
// release only the holder's own token. Callers build a Redis connection and
// pass it to New, mirroring the Options/New wrapper style used elsewhere in
// this codebase for thin client wrappers around a shared connection.
package redislock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/coopersmall/agentruntime/statestore"
)

const keyPrefix = "agentruntime:lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

type (
	// Options configures the Redis-backed lock.
	Options struct {
		// Redis is the connection used to back the lock. Required.
		Redis *redis.Client
		// KeyPrefix overrides the default key namespace.
		KeyPrefix string
	}

	// Lock implements statestore.Lock on top of a Redis connection.
	Lock struct {
		redis  *redis.Client
		prefix string
	}

	handle struct {
		lock  *Lock
		runID string
		token string
	}
)

// New constructs a Lock backed by the provided Redis connection.
func New(opts Options) (*Lock, error) {
	if opts.Redis == nil {
		return nil, errors.New("redislock: redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = keyPrefix
	}
	return &Lock{redis: opts.Redis, prefix: prefix}, nil
}

// Acquire implements statestore.Lock by attempting SET key value NX PX ttl.
// It returns statestore.ErrAlreadyHeld if the key is already set.
func (l *Lock) Acquire(ctx context.Context, runID string, ttl time.Duration) (statestore.LockHandle, error) {
	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, l.key(runID), token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, statestore.ErrAlreadyHeld
	}
	return &handle{lock: l, runID: runID, token: token}, nil
}

func (l *Lock) key(runID string) string { return l.prefix + runID }

func (h *handle) RunID() string { return h.runID }

// Release deletes the lock key only if it still holds this handle's token,
// so a lock that expired and was reacquired by another holder is never torn
// down from under them.
func (h *handle) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, h.lock.redis, []string{h.lock.key(h.runID)}, h.token).Err()
}

var _ statestore.Lock = (*Lock)(nil)
