package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/cityfeed/internal/burst"
	"github.com/adred-codev/cityfeed/internal/identity"
	"github.com/adred-codev/cityfeed/internal/moderation"
	"github.com/adred-codev/cityfeed/internal/ratelimit"
	"github.com/adred-codev/cityfeed/internal/reputation"
	"github.com/adred-codev/cityfeed/internal/shadowban"
	"github.com/adred-codev/cityfeed/internal/storetest"
)

func newTestPipeline() *Pipeline {
	mem := storetest.New()
	return New(
		identity.NewDeriver("test-secret-test-secret-test-secret", ""),
		ratelimit.New(mem),
		burst.New(mem),
		shadowban.New(mem),
		reputation.New(mem),
		moderation.New(nil),
		zerolog.Nop(),
	)
}

func postRequest(fp string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/messages", nil)
	r.Header.Set("X-Browser-Fingerprint", fp)
	r.RemoteAddr = "10.0.0.1:5555"
	return r
}

func TestAcceptedPostReturnsSecurityContext(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()

	secCtx, err := p.Run(ctx, postRequest("fp-1"), EndpointPost, "", "room for rent, furnished, available now")
	if err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
	if !secCtx.Moderated.Accepted {
		t.Fatal("expected moderation to accept this body")
	}
	if secCtx.IsShadowbanned || secCtx.ShortCircuit {
		t.Fatal("fresh identity should not be shadowbanned")
	}
}

func TestHoneypotTripsPermanentShadowbanAnd429(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()
	r := postRequest("fp-honeypot")

	_, err := p.Run(ctx, r, EndpointPost, "http://bot.test", "hello")
	if err == nil || err.Status != http.StatusTooManyRequests || err.Token != "honeypot" {
		t.Fatalf("expected 429 honeypot rejection, got %+v", err)
	}

	// A subsequent legitimate-looking post from the same identity
	// short-circuits to success without reaching moderation (spec §4.11
	// step 8 ordering).
	secCtx, err2 := p.Run(ctx, r, EndpointPost, "", "room for rent, furnished")
	if err2 != nil {
		t.Fatalf("expected short-circuited success, got error %+v", err2)
	}
	if !secCtx.ShortCircuit || !secCtx.IsShadowbanned {
		t.Fatalf("expected ShortCircuit+IsShadowbanned, got %+v", secCtx)
	}
}

func TestSecondPostWithinCooldownIsRateLimited(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()
	r := postRequest("fp-cooldown")

	if _, err := p.Run(ctx, r, EndpointPost, "", "room for rent, furnished and available"); err != nil {
		t.Fatalf("first post should be accepted, got %v", err)
	}
	_, err := p.Run(ctx, r, EndpointPost, "", "room for rent, furnished and available again")
	if err == nil || err.Status != http.StatusTooManyRequests {
		t.Fatalf("second immediate post should be rate limited, got %+v", err)
	}
}

func TestRejectedContentRecordsViolationAndBlocksFurtherPostsViaRateLimit(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()
	r := postRequest("fp-violator")

	body := strings.Repeat("x", 11) // trips the repeated-char spam rule
	_, err := p.Run(ctx, r, EndpointPost, "", body)
	if err == nil || err.Status != http.StatusForbidden {
		t.Fatalf("expected a 403 content rejection, got %+v", err)
	}

	// Within the same post-rate-limit window, even a clean body is
	// rejected before it would reach moderation again. Three violations
	// escalating to an auto-ban (verified at the shadowban package
	// level) therefore accumulate across separate windows, not in rapid
	// succession.
	_, err2 := p.Run(ctx, r, EndpointPost, "", "room for rent, furnished")
	if err2 == nil || err2.Token != "rate_limited" {
		t.Fatalf("expected the post rate limit to block the retry, got %+v", err2)
	}
}

func TestBurstBotFlagShadowbansFor24HoursNotPermanently(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()
	fp := "fp-bot"

	var lastErr *Error
	for i := 0; i < 5; i++ {
		r := postRequest(fp)
		r.URL.Path = fmt.Sprintf("/endpoint-%d", i)
		_, lastErr = p.Run(ctx, r, EndpointOther, "", "")
	}
	if lastErr == nil || lastErr.Token != "bot_profile" {
		t.Fatalf("expected the 5th distinct-endpoint hit to trip bot_profile, got %+v", lastErr)
	}

	ck := identity.NewDeriver("test-secret-test-secret-test-secret", "").Derive(postRequest(fp)).CompositeKey
	ttl, err := p.shadowban.TTL(ctx, ck)
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 0 || ttl > 24*time.Hour {
		t.Fatalf("expected a ~24h ban, got TTL %v", ttl)
	}
}

func TestIPBlockRejectsBeforeIdentityDerivation(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()
	r := postRequest("fp-blocked")

	if err := p.ratelimit.BlockIP(ctx, p.identity.ClientIP(r)); err != nil {
		t.Fatal(err)
	}
	_, err := p.Run(ctx, r, EndpointPost, "", "anything")
	if err == nil || err.Token != "ip_blocked" {
		t.Fatalf("expected ip_blocked rejection, got %+v", err)
	}
}
