package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const pendingMarker = "pending"

// RequestLock guards idempotent requests. The first request with a given
// key takes the lock; repeats see either the in-flight marker or the result
// recorded by Complete until the TTL expires.
type RequestLock struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

func NewRequestLock(client *redis.Client, prefix string, ttl time.Duration) *RequestLock {
	return &RequestLock{Client: client, Prefix: prefix, TTL: ttl}
}

func (l *RequestLock) key(caller, requestKey string) string {
	k := fmt.Sprintf("idempotency:%s:%s", caller, requestKey)
	if l.Prefix == "" {
		return k
	}
	return l.Prefix + ":" + k
}

// Acquire takes the lock for (caller, requestKey). It returns false when the
// key is already held or completed.
func (l *RequestLock) Acquire(ctx context.Context, caller, requestKey string) (bool, error) {
	ok, err := l.Client.SetNX(ctx, l.key(caller, requestKey), pendingMarker, l.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire request lock: %w", err)
	}
	return ok, nil
}

// Result returns the recorded result for a completed request. done is false
// while the request is still in flight or when no lock exists.
func (l *RequestLock) Result(ctx context.Context, caller, requestKey string) (result string, done bool, err error) {
	val, err := l.Client.Get(ctx, l.key(caller, requestKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read request lock: %w", err)
	}
	if val == pendingMarker {
		return "", false, nil
	}
	return strings.TrimPrefix(val, "done:"), true, nil
}

// Complete records result for the held key, keeping it for the lock TTL.
func (l *RequestLock) Complete(ctx context.Context, caller, requestKey, result string) error {
	if err := l.Client.Set(ctx, l.key(caller, requestKey), "done:"+result, l.TTL).Err(); err != nil {
		return fmt.Errorf("complete request lock: %w", err)
	}
	return nil
}

// Release drops an in-flight lock so the request can be retried. Completed
// keys are left in place.
func (l *RequestLock) Release(ctx context.Context, caller, requestKey string) error {
	key := l.key(caller, requestKey)
	val, err := l.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil // already released
	}
	if err != nil {
		return err
	}
	if val == pendingMarker {
		return l.Client.Del(ctx, key).Err()
	}
	return nil
}
