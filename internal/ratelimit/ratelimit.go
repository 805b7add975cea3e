// Package ratelimit implements the sliding-window rate limiter (C3): post,
// reveal, and burst classes over sorted sets, plus the IP-global block
// list consulted ahead of every other check.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adred-codev/cityfeed/internal/store"
)

// Class identifies which sliding window a request counts against.
type Class string

const (
	ClassPost   Class = "post"
	ClassReveal Class = "reveal"
	ClassBurst  Class = "burst"
)

// limits mirrors the table in spec §4.3.
var limits = map[Class]struct {
	Capacity int64
	Window   time.Duration
}{
	ClassPost:   {Capacity: 1, Window: 60 * time.Second},
	ClassReveal: {Capacity: 5, Window: 3600 * time.Second},
	ClassBurst:  {Capacity: 20, Window: 2 * time.Second},
}

const blockTTL = 30 * time.Minute

// Result is the outcome of a Check call.
type Result struct {
	Allowed           bool
	RetryAfterSeconds int
}

// Limiter enforces sliding-window limits and the global IP block set.
type Limiter struct {
	store store.Store
}

func New(s store.Store) *Limiter {
	return &Limiter{store: s}
}

func windowKey(class Class, identity string) string {
	return fmt.Sprintf("ratelimit:%s:%s", class, identity)
}

func blockKey(ip string) string {
	return "blocked:ip:" + ip
}

// Check runs the §4.3 algorithm for class against identity: remove stale
// entries, insert the current attempt, and read back the cardinality in
// one pipelined round trip. A post-commit count over capacity is the
// authoritative rejection per spec §5 — concurrent callers racing on the
// same window may both observe "under capacity" only if the store's
// check-and-insert were non-atomic, which SlidingWindowCount avoids by
// pipelining remove+insert+count together.
func (l *Limiter) Check(ctx context.Context, class Class, identity string) (Result, error) {
	cfg := limits[class]
	now := time.Now()
	key := windowKey(class, identity)

	count, err := l.store.SlidingWindowCount(ctx, key, now, cfg.Window, uuid.NewString())
	if err != nil {
		return Result{}, err
	}

	if count > cfg.Capacity {
		retryAfter, err := l.retryAfter(ctx, key, now, cfg.Window)
		if err != nil {
			return Result{}, err
		}
		return Result{Allowed: false, RetryAfterSeconds: retryAfter}, nil
	}
	return Result{Allowed: true}, nil
}

// Peek reports class's current window state for identity without
// recording a new attempt — used to answer "can you post right now"
// (GET /api/cooldown) without consuming a slot a real request would
// need.
func (l *Limiter) Peek(ctx context.Context, class Class, identity string) (Result, error) {
	cfg := limits[class]
	now := time.Now()
	key := windowKey(class, identity)

	if err := l.store.ZRemRangeByScore(ctx, key, 0, float64(now.Add(-cfg.Window).UnixMilli())); err != nil {
		return Result{}, err
	}
	count, err := l.store.ZCard(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if count >= cfg.Capacity {
		retryAfter, err := l.retryAfter(ctx, key, now, cfg.Window)
		if err != nil {
			return Result{}, err
		}
		return Result{Allowed: false, RetryAfterSeconds: retryAfter}, nil
	}
	return Result{Allowed: true}, nil
}

func (l *Limiter) retryAfter(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	oldest, ok, err := l.store.SlidingWindowOldest(ctx, key, now, window)
	if err != nil {
		return 0, err
	}
	if !ok {
		return int(window.Seconds()), nil
	}
	remaining := int(oldest.Add(window).Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// BlockIP adds ip to the global block set for 30 minutes (used by the
// burst rate limit's over-limit action and by the burst profiler on a bot
// flag, spec §4.3/§4.4).
func (l *Limiter) BlockIP(ctx context.Context, ip string) error {
	return l.store.Set(ctx, blockKey(ip), "1", blockTTL)
}

// IsBlocked reports whether ip is currently in the global block set. The
// pipeline checks this before any other consumer of identity (spec §4.11
// step 1).
func (l *Limiter) IsBlocked(ctx context.Context, ip string) (bool, error) {
	return l.store.Exists(ctx, blockKey(ip))
}
