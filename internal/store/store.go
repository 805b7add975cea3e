// Package store is the typed wrapper around the shared coordination store
// (C1 of the design). It exposes only the operations the rest of the
// engine needs — atomic counters, sorted-set sliding windows, sets,
// strings with TTL, and publish/subscribe — so no other package imports
// the underlying Redis client directly.
package store

import (
	"context"
	"errors"
	"time"
)

// StoreError wraps any failure from the underlying coordination store.
// The request pipeline translates it to a 503 (spec §7, StoreUnavailable).
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "store: " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: not found")

// ZMember is one scored member of a sorted set.
type ZMember struct {
	Score  float64
	Member string
}

// Message is a published/received pub-sub payload. Channel identifies the
// topic it arrived on; Payload is the raw published bytes.
type Message struct {
	Channel string
	Payload []byte
}

// Store is the full contract of the coordination store client (spec §4.1).
// All operations may fail; callers receive a *StoreError on failure.
type Store interface {
	// Incr atomically increments key by delta and returns the new value.
	// If the key is new, an optional ttl is applied on first write.
	Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key only if it does not already exist; returns true if the
	// set happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Exists(ctx context.Context, key string) (bool, error)

	// ZAdd adds member with score to the sorted set at key.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRangeByScore returns members scored within [min, max].
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	// ZRemRangeByScore removes members scored within [min, max].
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	ZCard(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// SlidingWindowCount prunes entries older than the window, inserts a
	// fresh member scored "now", and returns the post-insert cardinality —
	// all as a single pipelined round trip (spec §5's ordering guarantee).
	SlidingWindowCount(ctx context.Context, key string, now time.Time, window time.Duration, member string) (int64, error)
	// SlidingWindowOldest returns the oldest surviving member's score in
	// the window, used to compute retry_after_seconds on rejection.
	SlidingWindowOldest(ctx context.Context, key string, now time.Time, window time.Duration) (time.Time, bool, error)

	// SAdd adds member to the set at key; reports whether it was new.
	SAdd(ctx context.Context, key, member string, ttl time.Duration) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// Publish sends payload on channel. Fire-and-forget; failures are
	// logged by the caller but never fail the HTTP response (spec §7).
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel of messages published to channel. The
	// returned func must be called to release the subscription.
	Subscribe(ctx context.Context, channel string) (<-chan Message, func() error)

	// LPushCapped pushes member onto the head of a list, trimming it to
	// cap entries (used for CityIndex, spec §4.8).
	LPushCapped(ctx context.Context, key, member string, cap int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}
