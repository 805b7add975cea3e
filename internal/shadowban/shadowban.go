// Package shadowban implements the per-identity ghost-ban (C5): a
// reason+TTL record that lets a banned identity keep receiving 2xx
// responses while the broadcast bus silently drops its output, plus the
// violation counter that auto-escalates three content rejections into a
// 24h ban.
package shadowban

import (
	"context"
	"time"

	"github.com/adred-codev/cityfeed/internal/store"
)

const (
	violationTTL           = 24 * time.Hour
	violationAutoBanAt     = 3
	autoBanDuration        = 24 * time.Hour
)

func banKey(identity string) string       { return "shadowban:" + identity }
func violationKey(identity string) string { return "violations:" + identity }

// Manager is the shadowban and violation-counter store.
type Manager struct {
	store store.Store
}

func New(s store.Store) *Manager {
	return &Manager{store: s}
}

// IsShadowbanned reports whether identity currently carries an active
// ban.
func (m *Manager) IsShadowbanned(ctx context.Context, identity string) (bool, error) {
	return m.store.Exists(ctx, banKey(identity))
}

// Ban creates (or refreshes) a ban on identity for ttl, recording reason
// for operator audit. A ttl of 0 means "effectively permanent" (used by
// the honeypot path) and is stored with a long fixed TTL instead of no
// TTL at all, so a key never outlives its usefulness indefinitely.
func (m *Manager) Ban(ctx context.Context, identity, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 365 * 24 * time.Hour
	}
	return m.store.Set(ctx, banKey(identity), reason, ttl)
}

// TTL returns the remaining duration of identity's ban, or 0 if it isn't
// currently banned.
func (m *Manager) TTL(ctx context.Context, identity string) (time.Duration, error) {
	d, err := m.store.TTL(ctx, banKey(identity))
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Clear removes both the ban and violation counter for identity.
func (m *Manager) Clear(ctx context.Context, identity string) error {
	if err := m.store.Del(ctx, banKey(identity)); err != nil {
		return err
	}
	return m.store.Del(ctx, violationKey(identity))
}

// RecordViolation increments identity's violation counter (24h TTL on
// first write) and auto-bans for 24h once the count reaches three
// distinct violations within the window (spec §4.5/§4.7).
func (m *Manager) RecordViolation(ctx context.Context, identity string) (count int64, banned bool, err error) {
	count, err = m.store.Incr(ctx, violationKey(identity), 1, violationTTL)
	if err != nil {
		return 0, false, err
	}
	if count >= violationAutoBanAt {
		if err := m.Ban(ctx, identity, "violations", autoBanDuration); err != nil {
			return count, false, err
		}
		return count, true, nil
	}
	return count, false, nil
}
