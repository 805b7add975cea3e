package registry

import (
	"testing"
	"time"

	"github.com/adred-codev/cityfeed/internal/broadcast"
	"github.com/adred-codev/cityfeed/internal/messages"
	"github.com/adred-codev/cityfeed/internal/reputation"
)

func TestAddRemoveUpdatesGauge(t *testing.T) {
	var last int
	r := New(func(n int) { last = n })

	c1 := r.Add("s1", "Pune", "1.1.1.1")
	if last != 1 || r.Len() != 1 {
		t.Fatalf("expected 1 connection, got gauge=%d len=%d", last, r.Len())
	}
	r.Add("s2", "Pune", "2.2.2.2")
	if last != 2 {
		t.Fatalf("expected gauge 2, got %d", last)
	}

	c1.Close()
	if last != 1 {
		t.Fatalf("expected gauge back to 1 after close, got %d", last)
	}
}

func TestDeliverOnlyReachesMatchingCity(t *testing.T) {
	r := New(nil)
	pune := r.Add("s1", "Pune", "1.1.1.1")
	r.Add("s2", "Mumbai", "2.2.2.2")

	r.Deliver("Pune", "", false, []byte("hello"))

	select {
	case payload := <-pune.Outbound():
		if string(payload) != "hello" {
			t.Fatalf("unexpected payload %q", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected pune socket to receive the message")
	}
}

func TestDeliverThrottledOnlyReachesOriginIP(t *testing.T) {
	r := New(nil)
	origin := r.Add("s1", "Pune", "9.9.9.9")
	other := r.Add("s2", "Pune", "8.8.8.8")

	r.Deliver("Pune", "9.9.9.9", true, []byte("throttled"))

	select {
	case <-origin.Outbound():
	case <-time.After(time.Second):
		t.Fatal("origin socket should receive throttled delivery")
	}

	select {
	case payload, ok := <-other.Outbound():
		if ok {
			t.Fatalf("non-origin socket should not receive throttled delivery, got %q", payload)
		}
	case <-time.After(50 * time.Millisecond):
		// expected: nothing arrives
	}
}

func TestSendClosesConnectionWhenRateAllowanceExhausted(t *testing.T) {
	r := New(nil)
	conn := r.Add("s1", "Pune", "1.1.1.1")

	// The per-socket allowance (outboundRateLimit) is smaller than
	// sendBufferSize, so the first send past the allowance closes the
	// connection before the buffer fills.
	for i := 0; i < sendBufferSize+5; i++ {
		conn.Send([]byte("x"))
	}

	if r.Len() != 0 {
		t.Fatalf("expected connection to be dropped once its send allowance was exhausted, len=%d", r.Len())
	}
}

func TestSinkDeliversNormalVisibilityEnvelope(t *testing.T) {
	r := New(nil)
	conn := r.Add("s1", "Pune", "1.1.1.1")
	sink := NewSink(r)

	env := broadcast.Envelope{
		Message: messages.ChatMessage{
			ID:   "m1",
			Body: "room available",
			City: "Pune",
		},
		Visibility: reputation.VisibilityNormal,
	}
	sink.Deliver(env)

	select {
	case <-conn.Outbound():
	case <-time.After(time.Second):
		t.Fatal("expected normal-visibility envelope to reach the subscribed socket")
	}
}
