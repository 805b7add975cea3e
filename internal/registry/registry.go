// Package registry implements the connection registry (C10): a
// per-instance map of live WebSocket sockets to the city they're
// subscribed to, with non-blocking fan-out and backpressure discipline —
// a slow or full socket is closed, never buffered without bound.
package registry

import (
	"sync"

	"golang.org/x/time/rate"
)

// sendBufferSize bounds how many pending frames a socket can queue
// before it is considered slow and dropped. Unlike the teacher's
// trading feed (hundreds of messages/sec, large buffers to absorb
// bursts), this feed publishes at most a few messages per city per
// minute, so a modest buffer is enough headroom for a brief network
// hiccup without masking a genuinely stuck client.
const sendBufferSize = 32

// outboundRateLimit paces non-blocking sends per socket — this is the
// local backpressure discipline of spec §4.10, distinct from the
// Redis-backed security rate limits of C3.
const outboundRateLimit = 20 // messages/sec burst allowance

// Connection is one registered socket.
type Connection struct {
	ID       string
	City     string
	RemoteIP string

	send    chan []byte
	limiter *rate.Limiter
	once    sync.Once
	closeFn func()
}

// Send attempts a non-blocking, rate-paced enqueue of payload. It never
// blocks the caller (the broadcast subscriber loop): a full buffer or an
// exhausted rate allowance closes the connection rather than stalling.
func (c *Connection) Send(payload []byte) {
	if !c.limiter.Allow() {
		c.Close()
		return
	}
	select {
	case c.send <- payload:
	default:
		c.Close()
	}
}

// Close releases the connection's resources exactly once, however many
// times it is called (from the read pump, the write pump, or the
// registry's own reaper).
func (c *Connection) Close() {
	c.once.Do(func() {
		close(c.send)
		if c.closeFn != nil {
			c.closeFn()
		}
	})
}

// Outbound returns the channel the write pump should drain.
func (c *Connection) Outbound() <-chan []byte { return c.send }

// Registry is the per-instance socket map. Mutated only by Add/Remove;
// all other access is a read through byCity, so no lock is needed beyond
// protecting the maps themselves.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*Connection
	byCity   map[string]map[string]*Connection
	gaugeSet func(int)
}

// New builds an empty Registry. gaugeSet, if non-nil, is invoked with the
// current cardinality on every Add/Remove to keep a metrics gauge in
// sync (spec §4.10's active_websocket_connections).
func New(gaugeSet func(int)) *Registry {
	return &Registry{
		byID:     map[string]*Connection{},
		byCity:   map[string]map[string]*Connection{},
		gaugeSet: gaugeSet,
	}
}

// Add registers a new connection, returning a handle the caller's pumps
// use to send and to drop the entry on close.
func (r *Registry) Add(id, city, remoteIP string) *Connection {
	conn := &Connection{
		ID:       id,
		City:     city,
		RemoteIP: remoteIP,
		send:     make(chan []byte, sendBufferSize),
		limiter:  rate.NewLimiter(rate.Limit(outboundRateLimit), outboundRateLimit),
	}
	conn.closeFn = func() { r.Remove(id) }

	r.mu.Lock()
	r.byID[id] = conn
	set, ok := r.byCity[city]
	if !ok {
		set = map[string]*Connection{}
		r.byCity[city] = set
	}
	set[id] = conn
	n := len(r.byID)
	r.mu.Unlock()

	if r.gaugeSet != nil {
		r.gaugeSet(n)
	}
	return conn
}

// Remove drops id from the registry. Safe to call more than once or for
// an id that was already removed.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	conn, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byID, id)
	if set, ok := r.byCity[conn.City]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byCity, conn.City)
		}
	}
	n := len(r.byID)
	r.mu.Unlock()

	if r.gaugeSet != nil {
		r.gaugeSet(n)
	}
}

// Len reports the current connection count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Deliver fans payload out to every connection subscribed to city,
// optionally filtered to a single originIP (the Throttled visibility
// mode of spec §4.6). City matching is intentionally case-sensitive,
// matching the source's behavior per spec §9.
func (r *Registry) Deliver(city string, originIP string, throttleToOriginIP bool, payload []byte) {
	r.mu.RLock()
	set := r.byCity[city]
	targets := make([]*Connection, 0, len(set))
	for _, conn := range set {
		if throttleToOriginIP && conn.RemoteIP != originIP {
			continue
		}
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		conn.Send(payload)
	}
}
