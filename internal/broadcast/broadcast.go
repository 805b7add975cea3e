// Package broadcast implements the broadcast bus (C9): a single shared
// channel carrying accepted messages between stateless instances. Each
// instance runs exactly one subscriber goroutine that deserializes
// envelopes and hands them to the local connection registry.
package broadcast

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/adred-codev/cityfeed/internal/messages"
	"github.com/adred-codev/cityfeed/internal/reputation"
	"github.com/adred-codev/cityfeed/internal/store"
)

// Channel is the shared pub/sub topic name (spec §4.9).
const Channel = "chat:messages"

// Envelope is what's published on Channel.
type Envelope struct {
	Message        messages.ChatMessage  `json:"message"`
	OriginInstance string                `json:"origin_instance"`
	Visibility     reputation.Visibility `json:"visibility"`
	SenderIP       string                `json:"sender_ip"`
}

// Sink receives locally-delivered envelopes; internal/registry implements
// this to fan out to matching sockets.
type Sink interface {
	Deliver(env Envelope)
}

// Bus publishes accepted messages and runs the subscriber loop.
type Bus struct {
	store    store.Store
	instance string
	logger   zerolog.Logger
}

func New(s store.Store, instanceID string, logger zerolog.Logger) *Bus {
	return &Bus{store: s, instance: instanceID, logger: logger.With().Str("component", "broadcast").Logger()}
}

// Publish serializes and publishes env. A shadowbanned sender or a
// Hidden-visibility message must never reach this call — that decision is
// made by the caller (internal/handlers' PostMessage, from the pipeline's
// SecurityContext), not here, so this package has
// no special-case branch for it (spec §4.9/§4.5: the broadcast bus simply
// never sees those envelopes).
func (b *Bus) Publish(ctx context.Context, env Envelope) error {
	env.OriginInstance = b.instance
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := b.store.Publish(ctx, Channel, payload); err != nil {
		// Broadcast failures are logged and metered but never fail the
		// HTTP response — persistence is the source of truth (spec §7).
		b.logger.Warn().Err(err).Str("message_id", env.Message.ID).Msg("broadcast publish failed")
		return err
	}
	return nil
}

// Run subscribes to Channel and delivers every envelope to sink until ctx
// is canceled. It never blocks on a slow sink — Sink.Deliver is expected
// to be non-blocking itself (internal/registry's fan-out is).
func (b *Bus) Run(ctx context.Context, sink Sink) {
	msgs, unsubscribe := b.store.Subscribe(ctx, Channel)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal(m.Payload, &env); err != nil {
				b.logger.Warn().Err(err).Msg("discarding malformed broadcast envelope")
				continue
			}
			sink.Deliver(env)
		}
	}
}
