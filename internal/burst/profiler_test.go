package burst

import (
	"context"
	"testing"

	"github.com/adred-codev/cityfeed/internal/storetest"
)

func TestBotFlaggedAtFiveDistinctEndpoints(t *testing.T) {
	ctx := context.Background()
	p := New(storetest.New())

	endpoints := []string{"/messages", "/api/cooldown", "/api/stats/daily", "/api/stats/cities", "/health"}
	var last Verdict
	var err error
	for i, ep := range endpoints {
		last, err = p.Record(ctx, "id-1", ep)
		if err != nil {
			t.Fatal(err)
		}
		if i < 4 && last.Bot {
			t.Fatalf("should not flag before the 5th distinct endpoint, at i=%d", i)
		}
	}
	if !last.Bot {
		t.Fatalf("5th distinct endpoint in the window should flag as bot")
	}
}

func TestRepeatedEndpointDoesNotCountTwice(t *testing.T) {
	ctx := context.Background()
	p := New(storetest.New())

	for i := 0; i < 10; i++ {
		v, err := p.Record(ctx, "id-2", "/same-endpoint")
		if err != nil {
			t.Fatal(err)
		}
		if v.Bot {
			t.Fatalf("repeating a single endpoint must never trip the distinct-endpoint detector")
		}
	}
}
