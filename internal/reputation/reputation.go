// Package reputation implements the IP reputation engine (C6): unique
// reported-fingerprint counts per IP map to a risk level, which in turn
// drives a cooldown and a broadcast visibility mode; plus the parallel
// per-message report counter that shadow-hides a heavily-reported
// message without deleting it.
package reputation

import (
	"context"
	"time"

	"github.com/adred-codev/cityfeed/internal/store"
)

// Visibility is the broadcast policy attached to an accepted message.
type Visibility int

const (
	VisibilityNormal Visibility = iota
	VisibilityThrottled
	VisibilityHidden
)

func (v Visibility) String() string {
	switch v {
	case VisibilityThrottled:
		return "throttled"
	case VisibilityHidden:
		return "hidden"
	default:
		return "normal"
	}
}

// Risk is the table from spec §4.6.
type Risk struct {
	Level      int
	Cooldown   time.Duration
	Visibility Visibility
}

// messageReportThreshold is the distinct-reporter count at which a single
// message is treated as shadow-hidden (spec §4.6/§8 invariant 5).
const messageReportThreshold = 3

// riskFor maps a unique-report count to its risk row.
func riskFor(uniqueReports int64) Risk {
	switch {
	case uniqueReports >= 6:
		return Risk{Level: 3, Cooldown: 7200 * time.Second, Visibility: VisibilityHidden}
	case uniqueReports >= 3:
		return Risk{Level: 2, Cooldown: 900 * time.Second, Visibility: VisibilityThrottled}
	case uniqueReports == 2:
		return Risk{Level: 1, Cooldown: 300 * time.Second, Visibility: VisibilityNormal}
	default:
		return Risk{Level: 0, Cooldown: 60 * time.Second, Visibility: VisibilityNormal}
	}
}

func ipReportsKey(ip string) string        { return "reports:ip:" + ip }
func messageReportsKey(id string) string   { return "reports:message:" + id }
func cooldownKey(identity string) string   { return "cooldown:" + identity }

// Engine is the reputation tracker.
type Engine struct {
	store store.Store
}

func New(s store.Store) *Engine {
	return &Engine{store: s}
}

// ReportIP adds reporterFingerprint to ip's report set (idempotent: a
// repeat reporter never increases the cardinality) and returns the
// resulting risk row.
func (e *Engine) ReportIP(ctx context.Context, ip, reporterFingerprint string) (Risk, error) {
	if _, err := e.store.SAdd(ctx, ipReportsKey(ip), reporterFingerprint, 0); err != nil {
		return Risk{}, err
	}
	n, err := e.store.SCard(ctx, ipReportsKey(ip))
	if err != nil {
		return Risk{}, err
	}
	return riskFor(n), nil
}

// RiskFor returns ip's current risk row without recording a new report.
func (e *Engine) RiskFor(ctx context.Context, ip string) (Risk, error) {
	n, err := e.store.SCard(ctx, ipReportsKey(ip))
	if err != nil {
		return Risk{}, err
	}
	return riskFor(n), nil
}

// ReportMessage increments the distinct-reporter counter for a message id
// and reports whether it has now crossed the shadow-hide threshold.
// Distinctness is enforced by the caller, which skips this call when the
// reporter is already in ip's report set — the message counter itself is a plain integer
// because spec §4.6 defines it as a simple count, not a set; duplicate
// reports on a message are therefore only deduped via reports:ip's set
// membership at the handler layer (see internal/handlers "report"), not
// here.
func (e *Engine) ReportMessage(ctx context.Context, messageID string) (count int64, hidden bool, err error) {
	count, err = e.store.Incr(ctx, messageReportsKey(messageID), 1, 0)
	if err != nil {
		return 0, false, err
	}
	return count, count >= messageReportThreshold, nil
}

// MessageReportCount reads the current distinct-reporter count for a
// message without incrementing it.
func (e *Engine) MessageReportCount(ctx context.Context, messageID string) (int64, error) {
	v, err := e.store.Get(ctx, messageReportsKey(messageID))
	if err == store.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int64
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, nil
		}
		n = n*10 + int64(c-'0')
	}
	return n, nil
}

// SetCooldown writes identity's cooldown expiry, conditional on it being
// later than any existing one (spec §4.6's "writes are conditional
// set-if-newer"). Since the coordination store's Set has no compare step,
// the conditional check is done here by reading the current TTL before
// writing a longer one.
func (e *Engine) SetCooldown(ctx context.Context, identity string, cooldown time.Duration) error {
	existing, err := e.store.TTL(ctx, cooldownKey(identity))
	if err != nil {
		return err
	}
	if existing > cooldown {
		return nil
	}
	return e.store.Set(ctx, cooldownKey(identity), "1", cooldown)
}

// CooldownRemaining returns how long identity must still wait, or 0 if it
// may post now.
func (e *Engine) CooldownRemaining(ctx context.Context, identity string) (time.Duration, error) {
	d, err := e.store.TTL(ctx, cooldownKey(identity))
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}
