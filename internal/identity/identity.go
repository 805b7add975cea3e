// Package identity derives the per-request anonymous identity (C2): the
// client IP, browser fingerprint, and the CompositeKey hashed from both
// plus the server secret.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// Deriver resolves client identity from request headers. The server
// secret is injected once at startup; its absence is a fatal
// configuration error enforced by internal/config, not here.
type Deriver struct {
	serverSecret   string
	trustedProxies map[string]struct{}
}

// NewDeriver builds a Deriver. serverSecret must be non-empty — callers
// are expected to have validated this via config.Config.Validate.
// trustedProxies is a comma-separated list of peer addresses (matched
// against the TCP connection's host, not any header) allowed to set
// Cf-Connecting-Ip/X-Forwarded-For; an empty list means no caller is
// trusted to override its own socket peer address (spec §6).
func NewDeriver(serverSecret, trustedProxies string) *Deriver {
	set := make(map[string]struct{})
	for _, p := range strings.Split(trustedProxies, ",") {
		if p = strings.TrimSpace(p); p != "" {
			set[p] = struct{}{}
		}
	}
	return &Deriver{serverSecret: serverSecret, trustedProxies: set}
}

// Identity is the resolved per-request identity.
type Identity struct {
	IP          string
	Fingerprint string
	CompositeKey string
}

// peerHost extracts the TCP peer's address from r.RemoteAddr, falling
// back to the raw value if it isn't in host:port form.
func peerHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientIP resolves the real client IP with the priority order from
// spec §4.2: Cf-Connecting-Ip, then the first entry of X-Forwarded-For,
// then the socket peer address — but the header-based overrides are
// only honored when the immediate TCP peer is a configured trusted
// proxy (spec §6: "trusted only from configured proxy addresses").
// Any other caller gets its raw socket peer address, which keeps the
// IP-based abuse defenses (C3/C4/C6) unspoofable by an anonymous
// client. r.RemoteAddr is always the fallback so the method never
// returns an empty string.
func (d *Deriver) ClientIP(r *http.Request) string {
	peer := peerHost(r)
	if _, trusted := d.trustedProxies[peer]; !trusted {
		return peer
	}
	if v := strings.TrimSpace(r.Header.Get("Cf-Connecting-Ip")); v != "" {
		return v
	}
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		parts := strings.Split(v, ",")
		if first := strings.TrimSpace(parts[0]); first != "" {
			return first
		}
	}
	return peer
}

// Fingerprint reads the client-supplied browser fingerprint header. An
// absent header yields the empty string; the pipeline treats that as a
// weaker identity bucketed by IP alone (spec §4.2).
func Fingerprint(r *http.Request) string {
	return r.Header.Get("X-Browser-Fingerprint")
}

// Derive computes the CompositeKey for (ip, fingerprint) under this
// Deriver's server secret. Identical inputs always yield identical keys;
// distinct secrets yield disjoint key spaces (spec §3's CompositeKey
// invariant) because the secret is mixed directly into the hash input
// rather than used as an HMAC key — this is a deliberate simplification
// since the secret never leaves process memory and there is no
// cross-service verification requirement to justify HMAC's extra
// construction.
func (d *Deriver) Derive(r *http.Request) Identity {
	ip := d.ClientIP(r)
	fp := Fingerprint(r)
	return Identity{
		IP:           ip,
		Fingerprint:  fp,
		CompositeKey: d.CompositeKey(ip, fp),
	}
}

// CompositeKey computes SHA-256(ip '|' fingerprint '|' secret), hex
// encoded. Exported standalone so tests and the reveal/report handlers
// can recompute a key from stored (ip, fingerprint) pairs without needing
// an *http.Request.
func (d *Deriver) CompositeKey(ip, fingerprint string) string {
	h := sha256.New()
	h.Write([]byte(ip))
	h.Write([]byte{'|'})
	h.Write([]byte(fingerprint))
	h.Write([]byte{'|'})
	h.Write([]byte(d.serverSecret))
	return hex.EncodeToString(h.Sum(nil))
}
