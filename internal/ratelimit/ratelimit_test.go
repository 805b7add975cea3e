package ratelimit

import (
	"context"
	"testing"

	"github.com/adred-codev/cityfeed/internal/storetest"
)

func TestPostLimitCapacityOne(t *testing.T) {
	ctx := context.Background()
	l := New(storetest.New())

	r1, err := l.Check(ctx, ClassPost, "id-1")
	if err != nil {
		t.Fatal(err)
	}
	if !r1.Allowed {
		t.Fatalf("first post should be allowed")
	}

	r2, err := l.Check(ctx, ClassPost, "id-1")
	if err != nil {
		t.Fatal(err)
	}
	if r2.Allowed {
		t.Fatalf("second post within 60s must be rejected")
	}
	if r2.RetryAfterSeconds < 58 || r2.RetryAfterSeconds > 60 {
		t.Fatalf("retry_after_seconds = %d, want 58..60", r2.RetryAfterSeconds)
	}
}

func TestDistinctIdentitiesIndependent(t *testing.T) {
	ctx := context.Background()
	l := New(storetest.New())

	if r, _ := l.Check(ctx, ClassPost, "id-a"); !r.Allowed {
		t.Fatalf("id-a first post should be allowed")
	}
	if r, _ := l.Check(ctx, ClassPost, "id-b"); !r.Allowed {
		t.Fatalf("id-b first post should be allowed independently of id-a")
	}
}

func TestBurstCapacity(t *testing.T) {
	ctx := context.Background()
	l := New(storetest.New())

	for i := 0; i < 20; i++ {
		r, err := l.Check(ctx, ClassBurst, "id-1")
		if err != nil {
			t.Fatal(err)
		}
		if !r.Allowed {
			t.Fatalf("request %d should be under the 20-capacity burst window", i+1)
		}
	}
	r, err := l.Check(ctx, ClassBurst, "id-1")
	if err != nil {
		t.Fatal(err)
	}
	if r.Allowed {
		t.Fatalf("21st request within 2s must be rejected")
	}
}

func TestPeekDoesNotConsumeAWindowSlot(t *testing.T) {
	ctx := context.Background()
	l := New(storetest.New())

	for i := 0; i < 3; i++ {
		r, err := l.Peek(ctx, ClassPost, "id-1")
		if err != nil {
			t.Fatal(err)
		}
		if !r.Allowed {
			t.Fatalf("peek #%d should report allowed without consuming the window", i+1)
		}
	}

	r, err := l.Check(ctx, ClassPost, "id-1")
	if err != nil {
		t.Fatal(err)
	}
	if !r.Allowed {
		t.Fatal("a real post after only peeking should still be allowed")
	}

	if r2, err := l.Peek(ctx, ClassPost, "id-1"); err != nil {
		t.Fatal(err)
	} else if r2.Allowed {
		t.Fatal("peek should reflect the real post's consumed slot")
	}
}

func TestIPBlock(t *testing.T) {
	ctx := context.Background()
	l := New(storetest.New())

	blocked, err := l.IsBlocked(ctx, "9.9.9.9")
	if err != nil {
		t.Fatal(err)
	}
	if blocked {
		t.Fatalf("ip should not be blocked yet")
	}

	if err := l.BlockIP(ctx, "9.9.9.9"); err != nil {
		t.Fatal(err)
	}

	blocked, err = l.IsBlocked(ctx, "9.9.9.9")
	if err != nil {
		t.Fatal(err)
	}
	if !blocked {
		t.Fatalf("ip should be blocked after BlockIP")
	}
}
