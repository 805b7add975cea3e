// Package burst implements the behavioral bot detector (C4): it counts
// distinct endpoints an identity touches inside a 500ms sliding window.
// Raw request volume is already covered by the burst rate limit in
// internal/ratelimit; this package's only job is the distinct-endpoint
// signal that volume alone can't catch.
package burst

import (
	"context"
	"fmt"
	"time"

	"github.com/adred-codev/cityfeed/internal/store"
)

const (
	window           = 500 * time.Millisecond
	distinctThreshold = 5
)

// Verdict reports whether an identity's request pattern looks automated.
type Verdict struct {
	Bot bool
	// DistinctEndpoints is included for audit logging.
	DistinctEndpoints int
}

// Profiler tracks per-identity endpoint touches.
type Profiler struct {
	store store.Store
}

func New(s store.Store) *Profiler {
	return &Profiler{store: s}
}

func key(identity string) string {
	return "burst:" + identity
}

// Record appends (endpoint, now) to the identity's window, prunes stale
// entries, and reports whether the distinct-endpoint count has crossed
// the bot threshold. The sorted-set member encodes both the endpoint and
// a uniquifier so that repeated hits on the same endpoint in the same
// millisecond don't collide and undercount, while scoring is purely by
// timestamp so pruning stays a simple range removal.
func (p *Profiler) Record(ctx context.Context, identity, endpoint string) (Verdict, error) {
	now := time.Now()
	k := key(identity)
	floor := now.Add(-window)

	if err := p.store.ZRemRangeByScore(ctx, k, 0, float64(floor.UnixMilli())); err != nil {
		return Verdict{}, err
	}
	member := fmt.Sprintf("%d:%s", now.UnixNano(), endpoint)
	if err := p.store.ZAdd(ctx, k, float64(now.UnixMilli()), member); err != nil {
		return Verdict{}, err
	}
	if err := p.store.Expire(ctx, k, window+time.Second); err != nil {
		return Verdict{}, err
	}

	members, err := p.store.ZRangeByScore(ctx, k, float64(floor.UnixMilli()), float64(now.UnixMilli()))
	if err != nil {
		return Verdict{}, err
	}

	distinct := map[string]struct{}{}
	for _, m := range members {
		distinct[endpointOf(m)] = struct{}{}
	}

	return Verdict{
		Bot:               len(distinct) >= distinctThreshold,
		DistinctEndpoints: len(distinct),
	}, nil
}

func endpointOf(member string) string {
	for i := 0; i < len(member); i++ {
		if member[i] == ':' {
			return member[i+1:]
		}
	}
	return member
}
