package reputation

import (
	"context"
	"testing"
	"time"

	"github.com/adred-codev/cityfeed/internal/storetest"
)

func TestRiskLevelProgression(t *testing.T) {
	ctx := context.Background()
	e := New(storetest.New())

	cases := []struct {
		reporter string
		wantN    int64
		wantRisk Risk
	}{
		{"r1", 1, Risk{Level: 0, Cooldown: 60 * time.Second, Visibility: VisibilityNormal}},
		{"r2", 2, Risk{Level: 1, Cooldown: 300 * time.Second, Visibility: VisibilityNormal}},
		{"r3", 3, Risk{Level: 2, Cooldown: 900 * time.Second, Visibility: VisibilityThrottled}},
	}

	for _, c := range cases {
		risk, err := e.ReportIP(ctx, "9.9.9.9", c.reporter)
		if err != nil {
			t.Fatal(err)
		}
		if risk != c.wantRisk {
			t.Fatalf("after %d reports: got %+v, want %+v", c.wantN, risk, c.wantRisk)
		}
	}
}

func TestDuplicateReporterDoesNotIncreaseCardinality(t *testing.T) {
	ctx := context.Background()
	e := New(storetest.New())

	r1, err := e.ReportIP(ctx, "9.9.9.9", "r1")
	if err != nil {
		t.Fatal(err)
	}
	r2, err := e.ReportIP(ctx, "9.9.9.9", "r1")
	if err != nil {
		t.Fatal(err)
	}
	if r1 != r2 {
		t.Fatalf("re-reporting from same fingerprint must not change risk: %+v != %+v", r1, r2)
	}
}

func TestMessageHiddenAtThreeReports(t *testing.T) {
	ctx := context.Background()
	e := New(storetest.New())

	for i := 1; i <= 2; i++ {
		_, hidden, err := e.ReportMessage(ctx, "msg-1")
		if err != nil {
			t.Fatal(err)
		}
		if hidden {
			t.Fatalf("should not hide before 3 reports, at report %d", i)
		}
	}
	count, hidden, err := e.ReportMessage(ctx, "msg-1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 || !hidden {
		t.Fatalf("3rd report should hide the message, got count=%d hidden=%v", count, hidden)
	}
}

func TestHighestRiskIsHidden(t *testing.T) {
	risk := riskFor(6)
	if risk.Visibility != VisibilityHidden || risk.Level != 3 {
		t.Fatalf("6 unique reports should map to hidden/level 3, got %+v", risk)
	}
}
