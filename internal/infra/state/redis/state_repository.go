package redisstate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisStateRepository is the Redis-backed implementation of repository.StateRepository.
type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "collabrun:"
	}
	return &RedisStateRepository{client: client, keyPrefix: keyPrefix}
}

func (r *RedisStateRepository) crdtCacheKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:crdt_debounce", r.keyPrefix, roomID)
}

func (r *RedisStateRepository) queueDepthKey() string {
	return fmt.Sprintf("%sdispatcher:queue_depth", r.keyPrefix)
}

// CheckRateLimit increments key and reports whether the caller is over limit, using a
// pipelined INCR+EXPIRE so the check and its window reset are a single round trip.
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	pipe := r.client.Pipeline()
	incrCmd := pipe.Incr(ctx, r.keyPrefix+key)
	pipe.Expire(ctx, r.keyPrefix+key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: pipeline failed for rate limit check on key %s: %w", key, err)
	}
	count, err := incrCmd.Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to get incr result for rate limit on key %s: %w", key, err)
	}
	return count > int64(limit), nil
}

func (r *RedisStateRepository) PublishEvent(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, r.keyPrefix+channel, payload).Err(); err != nil {
		logrus.WithFields(logrus.Fields{"channel": channel, "payload_size": len(payload)}).WithError(err).Error("redis publish failed")
		return fmt.Errorf("redis: publish to channel %s: %w", channel, err)
	}
	return nil
}

// CacheCrdtState debounce-writes the latest CRDT state for a room using SET with NX and
// a TTL equal to minInterval: the write only lands if no write has happened within the
// interval, giving a cheap distributed debounce without a separate timestamp read.
func (r *RedisStateRepository) CacheCrdtState(ctx context.Context, roomID string, state []byte, minInterval time.Duration) (bool, error) {
	key := r.crdtCacheKey(roomID)
	ok, err := r.client.SetNX(ctx, key, state, minInterval).Result()
	if err != nil {
		return false, fmt.Errorf("redis: debounce-cache crdt state for room %s: %w", roomID, err)
	}
	return ok, nil
}

func (r *RedisStateRepository) QueueDepth(ctx context.Context) (int, error) {
	val, err := r.client.Get(ctx, r.queueDepthKey()).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("redis: get queue depth: %w", err)
	}
	return val, nil
}
