// Package storetest provides an in-memory store.Store implementation used
// by unit tests across the security pipeline packages, so each package's
// tests can exercise real sliding-window/set/string semantics without a
// live Redis instance.
package storetest

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/adred-codev/cityfeed/internal/store"
)

type entry struct {
	value   string
	expires time.Time
	hasTTL  bool
}

type zmember struct {
	score  float64
	member string
}

// Memory is a single-process, mutex-guarded stand-in for store.Store.
type Memory struct {
	mu      sync.Mutex
	strings map[string]entry
	zsets   map[string][]zmember
	sets    map[string]map[string]struct{}
	lists   map[string][]string
	subs    map[string][]chan store.Message
}

func New() *Memory {
	return &Memory{
		strings: map[string]entry{},
		zsets:   map[string][]zmember{},
		sets:    map[string]map[string]struct{}{},
		lists:   map[string][]string{},
		subs:    map[string][]chan store.Message{},
	}
}

func (m *Memory) expired(e entry) bool {
	return e.hasTTL && time.Now().After(e.expires)
}

func (m *Memory) Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.strings[key]
	if !ok || m.expired(e) {
		e = entry{value: "0"}
		if ttl > 0 {
			e.expires = time.Now().Add(ttl)
			e.hasTTL = true
		}
	}
	cur, _ := strconv.ParseInt(e.value, 10, 64)
	cur += delta
	e.value = strconv.FormatInt(cur, 10)
	m.strings[key] = e
	return cur, nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.strings[key]
	if !ok || m.expired(e) {
		return "", store.ErrNotFound
	}
	return e.value, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
		e.hasTTL = true
	}
	m.strings[key] = e
	return nil
}

func (m *Memory) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.strings[key]; ok && !m.expired(e) {
		return false, nil
	}
	e := entry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
		e.hasTTL = true
	}
	m.strings[key] = e
	return true, nil
}

func (m *Memory) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.strings, key)
	delete(m.zsets, key)
	delete(m.sets, key)
	delete(m.lists, key)
	return nil
}

func (m *Memory) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.strings[key]
	if !ok || m.expired(e) || !e.hasTTL {
		return -1, nil
	}
	return time.Until(e.expires), nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.strings[key]
	return ok && !m.expired(e), nil
}

func (m *Memory) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zadd(key, score, member)
	return nil
}

func (m *Memory) zadd(key string, score float64, member string) {
	members := m.zsets[key]
	for i, zm := range members {
		if zm.member == member {
			members[i].score = score
			return
		}
	}
	m.zsets[key] = append(members, zmember{score: score, member: member})
}

func (m *Memory) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	members := append([]zmember(nil), m.zsets[key]...)
	sort.Slice(members, func(i, j int) bool { return members[i].score < members[j].score })
	for _, zm := range members {
		if zm.score >= min && zm.score <= max {
			out = append(out, zm.member)
		}
	}
	return out, nil
}

func (m *Memory) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []zmember
	for _, zm := range m.zsets[key] {
		if zm.score >= min && zm.score <= max {
			continue
		}
		kept = append(kept, zm)
	}
	m.zsets[key] = kept
	return nil
}

func (m *Memory) ZCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.zsets[key])), nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (m *Memory) SlidingWindowCount(ctx context.Context, key string, now time.Time, window time.Duration, member string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	floor := float64(now.Add(-window).UnixMilli())
	var kept []zmember
	for _, zm := range m.zsets[key] {
		if zm.score >= floor {
			kept = append(kept, zm)
		}
	}
	kept = append(kept, zmember{score: float64(now.UnixMilli()), member: member})
	m.zsets[key] = kept
	return int64(len(kept)), nil
}

func (m *Memory) SlidingWindowOldest(ctx context.Context, key string, now time.Time, window time.Duration) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	floor := float64(now.Add(-window).UnixMilli())
	var best *zmember
	for i, zm := range m.zsets[key] {
		if zm.score < floor {
			continue
		}
		if best == nil || zm.score < best.score {
			best = &m.zsets[key][i]
		}
	}
	if best == nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(best.score)), true, nil
}

func (m *Memory) SAdd(ctx context.Context, key, member string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = map[string]struct{}{}
		m.sets[key] = set
	}
	_, existed := set[member]
	set[member] = struct{}{}
	return !existed, nil
}

func (m *Memory) SCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sets[key])), nil
}

func (m *Memory) SIsMember(ctx context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sets[key][member]
	return ok, nil
}

func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	subs := append([]chan store.Message(nil), m.subs[channel]...)
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- store.Message{Channel: channel, Payload: payload}:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan store.Message, func() error) {
	ch := make(chan store.Message, 64)
	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()
	return ch, func() error { return nil }
}

func (m *Memory) LPushCapped(ctx context.Context, key, member string, capN int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]string{member}, m.lists[key]...)
	if int64(len(list)) > capN {
		list = list[:capN]
	}
	m.lists[key] = list
	return nil
}

func (m *Memory) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if stop < 0 || stop >= int64(len(list)) {
		stop = int64(len(list)) - 1
	}
	if start > stop || start >= int64(len(list)) {
		return nil, nil
	}
	return append([]string(nil), list[start:stop+1]...), nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
func (m *Memory) Close() error                   { return nil }
