// Package pipeline implements the request pipeline (C11): the fixed,
// ordered composition of C2 through C7 that runs in front of every
// mutating endpoint and hands handlers a SecurityContext.
package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/cityfeed/internal/burst"
	"github.com/adred-codev/cityfeed/internal/identity"
	"github.com/adred-codev/cityfeed/internal/metrics"
	"github.com/adred-codev/cityfeed/internal/moderation"
	"github.com/adred-codev/cityfeed/internal/ratelimit"
	"github.com/adred-codev/cityfeed/internal/reputation"
	"github.com/adred-codev/cityfeed/internal/shadowban"
)

// Endpoint identifies which variant of the fixed order applies (spec
// §4.11 steps 5-7 are endpoint-specific).
type Endpoint int

const (
	EndpointPost Endpoint = iota
	EndpointReveal
	EndpointOther
)

// Error is a pipeline rejection: a stable token for the client plus the
// HTTP status it maps to (spec §7).
type Error struct {
	Status            int
	Token             string
	Message           string
	RetryAfterSeconds int
}

func (e *Error) Error() string { return e.Token + ": " + e.Message }

func reject(status int, token, message string) *Error {
	return &Error{Status: status, Token: token, Message: message}
}

func rejectRetry(status int, token, message string, retryAfter int) *Error {
	return &Error{Status: status, Token: token, Message: message, RetryAfterSeconds: retryAfter}
}

// SecurityContext is what a handler receives once the pipeline accepts a
// request (spec §4.11 step 10).
type SecurityContext struct {
	Identity        identity.Identity
	Visibility      reputation.Visibility
	CooldownSeconds int
	IsShadowbanned  bool
	// ShortCircuit is true when a shadowbanned identity's post should get
	// a synthetic success response without persistence or broadcast
	// (spec §4.11 step 8).
	ShortCircuit bool
	// Moderated is only populated for EndpointPost once content
	// moderation has run (step 9).
	Moderated moderation.Decision
}

// Pipeline composes C2-C7 against a single request.
type Pipeline struct {
	identity   *identity.Deriver
	ratelimit  *ratelimit.Limiter
	burst      *burst.Profiler
	shadowban  *shadowban.Manager
	reputation *reputation.Engine
	moderation *moderation.Moderator
	audit      zerolog.Logger
}

func New(
	id *identity.Deriver,
	rl *ratelimit.Limiter,
	bp *burst.Profiler,
	sb *shadowban.Manager,
	rep *reputation.Engine,
	mod *moderation.Moderator,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		identity: id, ratelimit: rl, burst: bp, shadowban: sb, reputation: rep, moderation: mod,
		audit: logger.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes the spec §4.11 fixed order for r against endpoint.
// honeypot is the raw value of the post body's "website" field (ignored
// for non-post endpoints). body is the raw, pre-moderation post text
// (ignored for non-post endpoints).
func (p *Pipeline) Run(ctx context.Context, r *http.Request, endpoint Endpoint, honeypot, body string) (SecurityContext, *Error) {
	ip := p.identity.ClientIP(r)

	// Step 1: global IP block.
	blocked, err := p.ratelimit.IsBlocked(ctx, ip)
	if err != nil {
		return SecurityContext{}, storeErr(err)
	}
	if blocked {
		return SecurityContext{}, reject(http.StatusTooManyRequests, "ip_blocked", "this address is temporarily blocked")
	}

	// Step 2: CompositeKey.
	id := p.identity.Derive(r)

	// Step 3: burst rate limit.
	burstResult, err := p.ratelimit.Check(ctx, ratelimit.ClassBurst, id.CompositeKey)
	if err != nil {
		return SecurityContext{}, storeErr(err)
	}
	if !burstResult.Allowed {
		metrics.RateLimitRejections.WithLabelValues(string(ratelimit.ClassBurst)).Inc()
		if err := p.ratelimit.BlockIP(ctx, ip); err != nil {
			return SecurityContext{}, storeErr(err)
		}
		return SecurityContext{}, reject(http.StatusTooManyRequests, "burst_limit", "too many requests in a short window")
	}

	// Step 4: burst profiler.
	verdict, err := p.burst.Record(ctx, id.CompositeKey, r.URL.Path)
	if err != nil {
		return SecurityContext{}, storeErr(err)
	}
	if verdict.Bot {
		if err := p.shadowban.Ban(ctx, id.CompositeKey, "burst_profile", 24*time.Hour); err != nil {
			return SecurityContext{}, storeErr(err)
		}
		metrics.ShadowbanActivations.WithLabelValues("burst_profile").Inc()
		p.audit.Warn().Str("event", "shadowban_activated").Str("reason", "burst_profile").
			Str("composite_key", id.CompositeKey).Msg("identity shadowbanned for 24h")
		if err := p.ratelimit.BlockIP(ctx, ip); err != nil {
			return SecurityContext{}, storeErr(err)
		}
		if endpoint != EndpointPost {
			return SecurityContext{}, reject(http.StatusTooManyRequests, "bot_profile", "request pattern looks automated")
		}
		// Posts continue so the behavior isn't fingerprintable by
		// probing; step 8's shadowban check will short-circuit it.
	}

	// Step 5: honeypot (post only).
	if endpoint == EndpointPost && honeypot != "" {
		if err := p.shadowban.Ban(ctx, id.CompositeKey, "honeypot", 0); err != nil {
			return SecurityContext{}, storeErr(err)
		}
		metrics.ShadowbanActivations.WithLabelValues("honeypot").Inc()
		p.audit.Warn().Str("event", "shadowban_activated").Str("reason", "honeypot").
			Str("composite_key", id.CompositeKey).Msg("identity permanently shadowbanned")
		return SecurityContext{}, reject(http.StatusTooManyRequests, "honeypot", "request rejected")
	}

	// Step 6: post rate limit + reputation cooldown (post only).
	if endpoint == EndpointPost {
		postResult, err := p.ratelimit.Check(ctx, ratelimit.ClassPost, id.CompositeKey)
		if err != nil {
			return SecurityContext{}, storeErr(err)
		}
		remaining, err := p.reputation.CooldownRemaining(ctx, id.CompositeKey)
		if err != nil {
			return SecurityContext{}, storeErr(err)
		}
		wait := postResult.RetryAfterSeconds
		if s := int(remaining.Seconds()); s > wait {
			wait = s
		}
		if !postResult.Allowed || remaining > 0 {
			metrics.RateLimitRejections.WithLabelValues(string(ratelimit.ClassPost)).Inc()
			return SecurityContext{}, rejectRetry(http.StatusTooManyRequests, "rate_limited", "please wait before posting again", wait)
		}
	}

	// Step 7: reveal rate limit (reveal only).
	if endpoint == EndpointReveal {
		revealResult, err := p.ratelimit.Check(ctx, ratelimit.ClassReveal, id.CompositeKey)
		if err != nil {
			return SecurityContext{}, storeErr(err)
		}
		if !revealResult.Allowed {
			metrics.RateLimitRejections.WithLabelValues(string(ratelimit.ClassReveal)).Inc()
			return SecurityContext{}, reject(http.StatusTooManyRequests, "rate_limited", "too many reveal requests")
		}
	}

	// Step 8: shadowban check.
	banned, err := p.shadowban.IsShadowbanned(ctx, id.CompositeKey)
	if err != nil {
		return SecurityContext{}, storeErr(err)
	}
	if banned {
		if endpoint == EndpointPost {
			return SecurityContext{Identity: id, IsShadowbanned: true, ShortCircuit: true}, nil
		}
		return SecurityContext{}, reject(http.StatusNotFound, "not_found", "not found")
	}

	risk, err := p.reputation.RiskFor(ctx, ip)
	if err != nil {
		return SecurityContext{}, storeErr(err)
	}
	secCtx := SecurityContext{Identity: id, Visibility: risk.Visibility}

	// Step 9: content moderation (post only).
	if endpoint == EndpointPost {
		decision := p.moderation.Moderate(ctx, body)
		if !decision.Accepted {
			count, banned, err := p.shadowban.RecordViolation(ctx, id.CompositeKey)
			if err != nil {
				return SecurityContext{}, storeErr(err)
			}
			metrics.MessagesRejected.WithLabelValues(string(decision.Category)).Inc()
			p.audit.Warn().Str("event", "content_rejected").Str("category", string(decision.Category)).
				Str("composite_key", id.CompositeKey).Int64("violation_count", count).Msg("post rejected by content policy")
			if banned {
				metrics.ShadowbanActivations.WithLabelValues("violations").Inc()
				p.audit.Warn().Str("event", "shadowban_activated").Str("reason", "violations").
					Str("composite_key", id.CompositeKey).Msg("identity shadowbanned for 24h after repeated violations")
			}
			return SecurityContext{}, reject(http.StatusForbidden, string(decision.Category), "message rejected by content policy")
		}
		secCtx.Moderated = decision
		secCtx.CooldownSeconds = int(risk.Cooldown.Seconds())
		if err := p.reputation.SetCooldown(ctx, id.CompositeKey, risk.Cooldown); err != nil {
			return SecurityContext{}, storeErr(err)
		}
	}

	return secCtx, nil
}

func storeErr(err error) *Error {
	return reject(http.StatusServiceUnavailable, "store_unavailable", err.Error())
}
