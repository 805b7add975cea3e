// Package messages implements the message store (C8): ChatMessage
// persistence with a 48h TTL, a per-city index, and lazily-fetched phone
// numbers.
package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adred-codev/cityfeed/internal/reputation"
	"github.com/adred-codev/cityfeed/internal/store"
)

const (
	// ttl is the message retention window (spec §3).
	ttl = 48 * time.Hour
	// cityIndexCap bounds the per-city id list (spec §4.8).
	cityIndexCap = 500
	// maxBodyCodePoints is the §3 body length invariant.
	maxBodyCodePoints = 280
)

// Kind is the message classification.
type Kind string

const (
	KindOffered   Kind = "offered"
	KindRequested Kind = "requested"
)

// ChatMessage is the persisted record (spec §3). Phone is never embedded
// here on the wire — it is written to a separate key and only surfaced
// through GetPhone.
type ChatMessage struct {
	ID        string `json:"id"`
	BrowserID string `json:"browser_id"`
	Body      string `json:"message"`
	Kind      Kind   `json:"message_type"`
	CreatedAt int64  `json:"timestamp"`
	City      string `json:"location"`
	// OriginIP is stored so /api/report can resolve which IP to penalize;
	// it is never serialized in feed/broadcast responses.
	OriginIP string `json:"-"`
}

// storedMessage is the record written under msg:<id>: the ChatMessage plus
// its OriginIP, which ChatMessage's own JSON encoding leaves out.
type storedMessage struct {
	ChatMessage
	OriginIP string `json:"origin_ip"`
}

// ErrBodyTooLong is returned by Put when Body exceeds 280 unicode code
// points.
var ErrBodyTooLong = fmt.Errorf("message body exceeds %d unicode code points", maxBodyCodePoints)

// ErrNoContact is returned by GetPhone when the message has no phone on
// file.
var ErrNoContact = fmt.Errorf("no contact available for this message")

// ErrNotFound is returned when a message id doesn't exist or has expired.
var ErrNotFound = fmt.Errorf("message not found")

func msgKey(id string) string   { return "msg:" + id }
func phoneKey(id string) string { return "phone:" + id }
func cityKey(city string) string { return "city:" + city }

// Store persists ChatMessages against the coordination store.
type Store struct {
	store      store.Store
	reputation *reputation.Engine
}

func New(s store.Store, rep *reputation.Engine) *Store {
	return &Store{store: s, reputation: rep}
}

// NewID generates a fresh v4-style random message identifier.
func NewID() string {
	return uuid.NewString()
}

// Put persists msg under a 48h TTL, indexes it by city, and stores phone
// (if present) under its own TTL-matched key.
func (s *Store) Put(ctx context.Context, msg ChatMessage, phone string) error {
	if codePointLen(msg.Body) > maxBodyCodePoints {
		return ErrBodyTooLong
	}

	encoded, err := json.Marshal(storedMessage{ChatMessage: msg, OriginIP: msg.OriginIP})
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, msgKey(msg.ID), string(encoded), ttl); err != nil {
		return err
	}
	if err := s.store.LPushCapped(ctx, cityKey(msg.City), msg.ID, cityIndexCap); err != nil {
		return err
	}
	if phone != "" {
		if err := s.store.Set(ctx, phoneKey(msg.ID), phone, ttl); err != nil {
			return err
		}
	}
	return nil
}

// GetByCity returns up to limit live, non-hidden messages for city,
// newest first (spec §4.8). IDs whose backing record has expired, or
// whose message has crossed the report-hide threshold, are silently
// skipped rather than erroring — both are expected steady-state outcomes,
// not failures.
func (s *Store) GetByCity(ctx context.Context, city string, limit int) ([]ChatMessage, error) {
	ids, err := s.store.LRange(ctx, cityKey(city), 0, int64(cityIndexCap-1))
	if err != nil {
		return nil, err
	}

	out := make([]ChatMessage, 0, limit)
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		msg, ok, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if s.reputation != nil {
			count, err := s.reputation.MessageReportCount(ctx, id)
			if err != nil {
				return nil, err
			}
			if count >= 3 {
				continue
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *Store) get(ctx context.Context, id string) (ChatMessage, bool, error) {
	raw, err := s.store.Get(ctx, msgKey(id))
	if err == store.ErrNotFound {
		return ChatMessage{}, false, nil
	}
	if err != nil {
		return ChatMessage{}, false, err
	}
	var rec storedMessage
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return ChatMessage{}, false, err
	}
	msg := rec.ChatMessage
	msg.OriginIP = rec.OriginIP
	return msg, true, nil
}

// Get fetches a single message by id, regardless of report-hide status —
// used by the reveal and report handlers, which need the record even if
// fresh feed reads would filter it.
func (s *Store) Get(ctx context.Context, id string) (ChatMessage, error) {
	msg, ok, err := s.get(ctx, id)
	if err != nil {
		return ChatMessage{}, err
	}
	if !ok {
		return ChatMessage{}, ErrNotFound
	}
	return msg, nil
}

// GetPhone returns the phone number on file for a message id, or
// ErrNoContact if the message exists but carries none, or ErrNotFound if
// the message id itself is unknown/expired.
func (s *Store) GetPhone(ctx context.Context, id string) (string, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return "", err
	}
	phone, err := s.store.Get(ctx, phoneKey(id))
	if err == store.ErrNotFound {
		return "", ErrNoContact
	}
	if err != nil {
		return "", err
	}
	return phone, nil
}

func codePointLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}
