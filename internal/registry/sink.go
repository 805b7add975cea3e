package registry

import (
	"encoding/json"

	"github.com/adred-codev/cityfeed/internal/broadcast"
	"github.com/adred-codev/cityfeed/internal/reputation"
)

// Sink adapts a Registry to the broadcast.Sink interface. Kept separate
// from Registry.Deliver (which takes plain city/IP/payload arguments and
// is independently testable) so the envelope-to-fan-out translation has
// its own seam.
type Sink struct {
	registry *Registry
}

func NewSink(r *Registry) *Sink { return &Sink{registry: r} }

// Deliver implements broadcast.Sink. A Hidden-visibility envelope never
// reaches this method — the Bus never publishes one (see
// broadcast.Bus.Publish's doc comment) — so there is no Hidden branch
// here; Throttled envelopes are delivered only to sockets whose remote IP
// equals the sender's IP.
func (s *Sink) Deliver(env broadcast.Envelope) {
	payload, err := json.Marshal(env.Message)
	if err != nil {
		return
	}
	throttle := env.Visibility == reputation.VisibilityThrottled
	s.registry.Deliver(env.Message.City, env.SenderIP, throttle, payload)
}
