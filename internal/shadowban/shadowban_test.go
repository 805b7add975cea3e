package shadowban

import (
	"context"
	"testing"
	"time"

	"github.com/adred-codev/cityfeed/internal/storetest"
)

func TestBanAndIsShadowbanned(t *testing.T) {
	ctx := context.Background()
	m := New(storetest.New())

	banned, err := m.IsShadowbanned(ctx, "id-1")
	if err != nil {
		t.Fatal(err)
	}
	if banned {
		t.Fatalf("should not start banned")
	}

	if err := m.Ban(ctx, "id-1", "burst", 24*time.Hour); err != nil {
		t.Fatal(err)
	}

	banned, err = m.IsShadowbanned(ctx, "id-1")
	if err != nil {
		t.Fatal(err)
	}
	if !banned {
		t.Fatalf("should be banned after Ban")
	}
}

func TestThreeViolationsAutoEscalate(t *testing.T) {
	ctx := context.Background()
	m := New(storetest.New())

	for i := 1; i <= 2; i++ {
		count, banned, err := m.RecordViolation(ctx, "id-1")
		if err != nil {
			t.Fatal(err)
		}
		if int(count) != i {
			t.Fatalf("violation %d: count = %d", i, count)
		}
		if banned {
			t.Fatalf("should not auto-ban before 3 violations, got ban at %d", i)
		}
	}

	count, banned, err := m.RecordViolation(ctx, "id-1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 || !banned {
		t.Fatalf("3rd violation should auto-ban, got count=%d banned=%v", count, banned)
	}

	isBanned, err := m.IsShadowbanned(ctx, "id-1")
	if err != nil {
		t.Fatal(err)
	}
	if !isBanned {
		t.Fatalf("shadowban key should exist after auto-escalation")
	}
}

func TestClearRemovesBothKeys(t *testing.T) {
	ctx := context.Background()
	m := New(storetest.New())

	_, _, _ = m.RecordViolation(ctx, "id-1")
	_ = m.Ban(ctx, "id-1", "manual", time.Hour)

	if err := m.Clear(ctx, "id-1"); err != nil {
		t.Fatal(err)
	}

	banned, _ := m.IsShadowbanned(ctx, "id-1")
	if banned {
		t.Fatalf("ban should be cleared")
	}
}
