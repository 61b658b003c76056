package repository

import (
	"context"
	"time"
)

// StateRepository backs the ephemeral, Redis-resident concerns: rate limiting, pub/sub
// lifecycle events, and the debounced CRDT-state write-back cache.
type StateRepository interface {
	// CheckRateLimit increments the counter for key and reports whether the caller is
	// over limit within the rolling window (pipelined INCR+EXPIRE).
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// PublishEvent publishes a lifecycle/pubsub event on channel.
	PublishEvent(ctx context.Context, channel string, payload []byte) error

	// CacheCrdtState debounce-writes the latest opaque CRDT state for a room, at most once
	// per minInterval; returns false without writing if called again too soon.
	CacheCrdtState(ctx context.Context, roomID string, state []byte, minInterval time.Duration) (bool, error)

	// QueueDepth reads the integer stored at the Redis queue-depth key (0 when absent).
	// Nothing in this module writes that key; the admission policy's queue-saturation
	// check uses JobQueue.Stats instead.
	QueueDepth(ctx context.Context) (int, error)
}
