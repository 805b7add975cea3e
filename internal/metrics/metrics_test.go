package metrics

import (
	"testing"
	"time"
)

func TestCollectorSamplesWithoutPanicking(t *testing.T) {
	c, err := NewCollector(10 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	c.sample()
	if ProcessRSSBytes == nil {
		t.Fatal("expected RSS gauge to be registered")
	}
}

func TestCountersAreRegisteredAndUsable(t *testing.T) {
	MessagesAccepted.Inc()
	MessagesRejected.WithLabelValues("spam").Inc()
	RateLimitRejections.WithLabelValues("post").Inc()
	ShadowbanActivations.WithLabelValues("honeypot").Inc()
	ActiveConnections.Set(3)
}
