package handlers

import (
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/adred-codev/cityfeed/internal/registry"
)

// ServeWS implements GET /ws (spec §6's WebSocket surface). A client is
// associated with a city by its `location` query parameter on the
// upgrade request. The client is expected to send no frames; anything it
// does send is read and discarded until it closes.
func (h *Handlers) ServeWS(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("location")
	if city == "" {
		http.Error(w, "location query parameter is required", http.StatusBadRequest)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	// The hijacked connection inherits whatever read/write deadline the
	// http.Server had already armed for the upgrade request. Clear it so
	// the shared server's RequestTimeout doesn't kill a socket that is
	// meant to stay open for the life of the connection (spec §6's
	// persistent push channel).
	if err := conn.SetDeadline(time.Time{}); err != nil {
		h.logger.Warn().Err(err).Msg("failed to clear websocket connection deadline")
	}

	remoteIP := h.identity.ClientIP(r)
	socketID := uuid.NewString()
	handle := h.registry.Add(socketID, city, remoteIP)

	go h.writePump(conn, handle)
	h.readPump(conn, handle)
}

// writePump drains the registry handle's outbound channel and writes
// each payload as a text frame, exiting (and closing the socket) once
// the channel is closed by the registry's backpressure discipline.
func (h *Handlers) writePump(conn net.Conn, handle *registry.Connection) {
	defer conn.Close()
	for payload := range handle.Outbound() {
		if err := wsutil.WriteServerMessage(conn, ws.OpText, payload); err != nil {
			handle.Close()
			return
		}
	}
}

// readPump discards client frames (the protocol expects none) and exits
// on the first read error, which is how a client close is detected.
func (h *Handlers) readPump(conn net.Conn, handle *registry.Connection) {
	defer handle.Close()
	defer conn.Close()
	for {
		if _, _, err := wsutil.ReadClientData(conn); err != nil {
			return
		}
	}
}
