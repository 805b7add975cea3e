package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/adred-codev/cityfeed/internal/broadcast"
	"github.com/adred-codev/cityfeed/internal/burst"
	"github.com/adred-codev/cityfeed/internal/identity"
	"github.com/adred-codev/cityfeed/internal/messages"
	"github.com/adred-codev/cityfeed/internal/moderation"
	"github.com/adred-codev/cityfeed/internal/pipeline"
	"github.com/adred-codev/cityfeed/internal/ratelimit"
	"github.com/adred-codev/cityfeed/internal/registry"
	"github.com/adred-codev/cityfeed/internal/reputation"
	"github.com/adred-codev/cityfeed/internal/shadowban"
	"github.com/adred-codev/cityfeed/internal/stats"
	"github.com/adred-codev/cityfeed/internal/storetest"
)

func newTestHandlers() *Handlers {
	mem := storetest.New()
	id := identity.NewDeriver("test-secret-test-secret-test-secret", "")
	rep := reputation.New(mem)
	logger := zerolog.Nop()
	p := pipeline.New(id, ratelimit.New(mem), burst.New(mem), shadowban.New(mem), rep, moderation.New(nil), logger)
	msgs := messages.New(mem, rep)
	bus := broadcast.New(mem, "test-instance", logger)
	reg := registry.New(nil)
	st := stats.New(mem)
	return New(p, id, msgs, ratelimit.New(mem), rep, bus, reg, st, mem, logger)
}

func TestPostThenGetRoundTrip(t *testing.T) {
	h := newTestHandlers()

	body, _ := json.Marshal(postRequest{
		BrowserID:   "d1",
		Message:     "Looking for 1BHK near Koramangala, rent under 20000",
		MessageType: "requested",
		Location:    "Bangalore",
	})
	r := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(body))
	r.Header.Set("X-Browser-Fingerprint", "fp-1")
	w := httptest.NewRecorder()
	h.PostMessage(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp postResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID == "" {
		t.Fatal("expected a non-empty id")
	}

	getReq := httptest.NewRequest(http.MethodGet, "/messages?location=Bangalore", nil)
	getW := httptest.NewRecorder()
	h.GetMessages(getW, getReq)

	if getW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getW.Code)
	}
	var feed []messages.ChatMessage
	if err := json.Unmarshal(getW.Body.Bytes(), &feed); err != nil {
		t.Fatal(err)
	}
	if len(feed) != 1 || feed[0].ID != resp.ID {
		t.Fatalf("expected the posted message back, got %+v", feed)
	}
}

func TestPostMissingFieldsReturns400(t *testing.T) {
	h := newTestHandlers()

	body, _ := json.Marshal(postRequest{BrowserID: "d1"})
	r := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(body))
	r.Header.Set("X-Browser-Fingerprint", "fp-2")
	w := httptest.NewRecorder()
	h.PostMessage(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHoneypotReturns429(t *testing.T) {
	h := newTestHandlers()

	body, _ := json.Marshal(postRequest{
		BrowserID: "d1", Message: "hello", MessageType: "offered",
		Location: "Pune", Website: "http://bot.test",
	})
	r := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(body))
	r.Header.Set("X-Browser-Fingerprint", "fp-honeypot")
	w := httptest.NewRecorder()
	h.PostMessage(w, r)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", w.Code, w.Body.String())
	}
}

func TestContactRevealStates(t *testing.T) {
	h := newTestHandlers()
	ctx := context.Background()

	msg := messages.ChatMessage{ID: messages.NewID(), Body: "room for rent, furnished", City: "Pune"}
	if err := h.messages.Put(ctx, msg, "9990001111"); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/contact/"+msg.ID, nil)
	r.Header.Set("X-Browser-Fingerprint", "fp-reveal")
	w := httptest.NewRecorder()
	h.GetContact(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out map[string]string
	json.Unmarshal(w.Body.Bytes(), &out)
	if out["phone"] != "9990001111" {
		t.Fatalf("expected phone back, got %+v", out)
	}

	r2 := httptest.NewRequest(http.MethodGet, "/api/contact/does-not-exist", nil)
	r2.Header.Set("X-Browser-Fingerprint", "fp-reveal-2")
	w2 := httptest.NewRecorder()
	h.GetContact(w2, r2)
	if w2.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", w2.Code)
	}
}

func TestCooldownReflectsPostRateLimitAfterAPost(t *testing.T) {
	h := newTestHandlers()

	cooldownReq := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/cooldown", nil)
		r.Header.Set("X-Browser-Fingerprint", "fp-cooldown")
		return r
	}

	w0 := httptest.NewRecorder()
	h.GetCooldown(w0, cooldownReq())
	var before map[string]any
	json.Unmarshal(w0.Body.Bytes(), &before)
	if canPost, _ := before["can_post"].(bool); !canPost {
		t.Fatalf("a fresh identity should be able to post, got %+v", before)
	}

	body, _ := json.Marshal(postRequest{
		BrowserID: "d1", Message: "room for rent, furnished and available", MessageType: "offered", Location: "Pune",
	})
	postReq := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(body))
	postReq.Header.Set("X-Browser-Fingerprint", "fp-cooldown")
	h.PostMessage(httptest.NewRecorder(), postReq)

	w1 := httptest.NewRecorder()
	h.GetCooldown(w1, cooldownReq())
	var after map[string]any
	json.Unmarshal(w1.Body.Bytes(), &after)
	if canPost, _ := after["can_post"].(bool); canPost {
		t.Fatalf("expected can_post=false right after posting, got %+v", after)
	}
	if remaining, _ := after["remaining_seconds"].(float64); remaining <= 0 {
		t.Fatalf("expected a positive remaining_seconds, got %+v", after)
	}
}

func TestHealthReportsStoreStatus(t *testing.T) {
	h := newTestHandlers()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.GetHealth(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out map[string]any
	json.Unmarshal(w.Body.Bytes(), &out)
	if healthy, ok := out["healthy"].(bool); !ok || !healthy {
		t.Fatalf("expected healthy=true, got %+v", out)
	}
}
