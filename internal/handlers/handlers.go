// Package handlers implements C12: thin HTTP glue in front of the
// request pipeline, the message store, and the broadcast bus.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/cityfeed/internal/broadcast"
	"github.com/adred-codev/cityfeed/internal/identity"
	"github.com/adred-codev/cityfeed/internal/messages"
	"github.com/adred-codev/cityfeed/internal/metrics"
	"github.com/adred-codev/cityfeed/internal/pipeline"
	"github.com/adred-codev/cityfeed/internal/ratelimit"
	"github.com/adred-codev/cityfeed/internal/registry"
	"github.com/adred-codev/cityfeed/internal/reputation"
	"github.com/adred-codev/cityfeed/internal/stats"
	"github.com/adred-codev/cityfeed/internal/store"
)

// buildVersion is overridden at build time via -ldflags, mirroring the
// teacher's version stamping for /api/version.
var buildVersion = "dev"

// Handlers bundles every dependency a route needs.
type Handlers struct {
	pipeline   *pipeline.Pipeline
	identity   *identity.Deriver
	messages   *messages.Store
	ratelimit  *ratelimit.Limiter
	reputation *reputation.Engine
	broadcast  *broadcast.Bus
	registry   *registry.Registry
	stats      *stats.Tracker
	store      store.Store
	logger     zerolog.Logger
}

func New(
	p *pipeline.Pipeline,
	id *identity.Deriver,
	msgs *messages.Store,
	rl *ratelimit.Limiter,
	rep *reputation.Engine,
	bus *broadcast.Bus,
	reg *registry.Registry,
	st *stats.Tracker,
	s store.Store,
	logger zerolog.Logger,
) *Handlers {
	return &Handlers{
		pipeline: p, identity: id, messages: msgs, ratelimit: rl, reputation: rep,
		broadcast: bus, registry: reg, stats: st, store: s,
		logger: logger.With().Str("component", "handlers").Logger(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writePipelineError(w http.ResponseWriter, err *pipeline.Error) {
	body := map[string]any{"error": err.Token, "message": err.Message}
	if err.RetryAfterSeconds > 0 {
		body["retry_after_seconds"] = err.RetryAfterSeconds
	}
	writeJSON(w, err.Status, body)
}

type postRequest struct {
	BrowserID   string `json:"browser_id"`
	Message     string `json:"message"`
	MessageType string `json:"message_type"`
	Phone       string `json:"phone"`
	Location    string `json:"location"`
	Website     string `json:"website"`
}

type postResponse struct {
	ID          string `json:"id"`
	BrowserID   string `json:"browser_id"`
	Message     string `json:"message"`
	MessageType string `json:"message_type"`
	Timestamp   int64  `json:"timestamp"`
	Location    string `json:"location"`
}

// PostMessage implements POST /messages.
func (h *Handlers) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "malformed JSON body"})
		return
	}
	if req.BrowserID == "" || req.Message == "" || req.Location == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "browser_id, message, and location are required"})
		return
	}
	kind := messages.Kind(req.MessageType)
	if kind != messages.KindOffered && kind != messages.KindRequested {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "message_type must be offered or requested"})
		return
	}

	ctx := r.Context()
	secCtx, pErr := h.pipeline.Run(ctx, r, pipeline.EndpointPost, req.Website, req.Message)
	if pErr != nil {
		writePipelineError(w, pErr)
		return
	}

	msg := messages.ChatMessage{
		ID:        messages.NewID(),
		BrowserID: req.BrowserID,
		Body:      secCtx.Moderated.Sanitized,
		Kind:      kind,
		CreatedAt: time.Now().Unix(),
		City:      req.Location,
		OriginIP:  secCtx.Identity.IP,
	}

	if !secCtx.ShortCircuit {
		if err := h.messages.Put(ctx, msg, req.Phone); err != nil {
			if err == messages.ErrBodyTooLong {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": err.Error()})
				return
			}
			h.logger.Error().Err(err).Msg("failed to persist message")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable", "message": err.Error()})
			return
		}
		metrics.MessagesAccepted.Inc()
		if err := h.stats.RecordPost(ctx, secCtx.Identity.IP); err != nil {
			h.logger.Warn().Err(err).Msg("failed to record daily stats")
		}

		if secCtx.Visibility != reputation.VisibilityHidden {
			env := broadcast.Envelope{Message: msg, Visibility: secCtx.Visibility, SenderIP: secCtx.Identity.IP}
			if err := h.broadcast.Publish(ctx, env); err != nil {
				metrics.BroadcastPublishFailures.Inc()
			}
		}
	}

	writeJSON(w, http.StatusOK, postResponse{
		ID:          msg.ID,
		BrowserID:   msg.BrowserID,
		Message:     msg.Body,
		MessageType: string(msg.Kind),
		Timestamp:   msg.CreatedAt,
		Location:    msg.City,
	})
}

// GetMessages implements GET /messages?location=<city>.
func (h *Handlers) GetMessages(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("location")
	if city == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "location is required"})
		return
	}
	ctx := r.Context()
	feed, err := h.messages.GetByCity(ctx, city, 100)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable", "message": err.Error()})
		return
	}
	if err := h.stats.RecordCityView(ctx, city); err != nil {
		h.logger.Warn().Err(err).Msg("failed to record city view")
	}
	writeJSON(w, http.StatusOK, feed)
}

// GetContact implements GET /api/contact/{id}.
func (h *Handlers) GetContact(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/contact/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "message id is required"})
		return
	}

	ctx := r.Context()
	_, pErr := h.pipeline.Run(ctx, r, pipeline.EndpointReveal, "", "")
	if pErr != nil {
		writePipelineError(w, pErr)
		return
	}

	phone, err := h.messages.GetPhone(ctx, id)
	switch {
	case err == messages.ErrNotFound:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "message not found"})
		return
	case err == messages.ErrNoContact:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no_contact", "message": "no contact available for this message"})
		return
	case err != nil:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable", "message": err.Error()})
		return
	}

	metrics.RevealsServed.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"phone": phone})
}

type reportRequest struct {
	MessageID        string `json:"message_id"`
	ReportedBrowserID string `json:"reported_browser_id"`
}

// PostReport implements POST /api/report.
func (h *Handlers) PostReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MessageID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "message_id is required"})
		return
	}

	ctx := r.Context()
	secCtx, pErr := h.pipeline.Run(ctx, r, pipeline.EndpointOther, "", "")
	if pErr != nil {
		writePipelineError(w, pErr)
		return
	}

	msg, err := h.messages.Get(ctx, req.MessageID)
	if err == messages.ErrNotFound {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "message not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable", "message": err.Error()})
		return
	}

	// A reporter already in the reported IP's set does not increment the
	// message's report counter again.
	ipReportsKey := "reports:ip:" + msg.OriginIP
	repeat, err := h.store.SIsMember(ctx, ipReportsKey, secCtx.Identity.Fingerprint)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable", "message": err.Error()})
		return
	}
	var msgCount int64
	if repeat {
		msgCount, err = h.reputation.MessageReportCount(ctx, req.MessageID)
	} else {
		msgCount, _, err = h.reputation.ReportMessage(ctx, req.MessageID)
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable", "message": err.Error()})
		return
	}
	risk, err := h.reputation.ReportIP(ctx, msg.OriginIP, secCtx.Identity.Fingerprint)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable", "message": err.Error()})
		return
	}
	ipCount, err := h.store.SCard(ctx, ipReportsKey)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable", "message": err.Error()})
		return
	}
	metrics.ReportsFiled.Inc()
	if risk.Level > 0 {
		h.logger.Warn().Str("event", "reputation_escalated").Str("ip", msg.OriginIP).
			Int("risk_level", risk.Level).Str("visibility", risk.Visibility.String()).
			Msg("ip reputation escalated")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        "report recorded",
		"reports_on_ip":  ipCount,
		"reports_on_msg": msgCount,
	})
}

// GetCooldown implements GET /api/cooldown. can_post/remaining_seconds
// report the post rate-limit window, combined with any longer
// reputation-driven cooldown — the same two sources pipeline step 6
// enforces against an actual post (spec §9 Open Question resolution).
func (h *Handlers) GetCooldown(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ck := h.identity.Derive(r).CompositeKey

	postResult, err := h.ratelimit.Peek(ctx, ratelimit.ClassPost, ck)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable", "message": err.Error()})
		return
	}
	reputationRemaining, err := h.reputation.CooldownRemaining(ctx, ck)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable", "message": err.Error()})
		return
	}

	remaining := postResult.RetryAfterSeconds
	if s := int(reputationRemaining.Seconds()); s > remaining {
		remaining = s
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"can_post":          postResult.Allowed && reputationRemaining <= 0,
		"remaining_seconds": remaining,
	})
}

// GetDailyStats implements GET /api/stats/daily.
func (h *Handlers) GetDailyStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ips, count, err := h.stats.Daily(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unique_ips": ips, "message_count": count})
}

// GetCityStats implements GET /api/stats/cities?current_city=<city>.
func (h *Handlers) GetCityStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	city := r.URL.Query().Get("current_city")
	if city == "" {
		writeJSON(w, http.StatusOK, []stats.CityStat{})
		return
	}
	stat, err := h.stats.CityView(ctx, city)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, []stats.CityStat{stat})
}

// GetHealth implements GET /health.
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	err := h.store.Ping(ctx)
	body := map[string]any{
		"healthy":            err == nil,
		"redis_connected":    err == nil,
		"active_connections": h.registry.Len(),
		"timestamp":          time.Now().Unix(),
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

// GetVersion implements the supplemented GET /api/version.
func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": buildVersion})
}
