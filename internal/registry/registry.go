// Package registry tracks connected client sockets and fans outbound
// frames out to them, honoring a configurable backpressure policy when a
// client's outbound queue is full.
package registry

import (
	"sync"

	"github.com/hlnode/meshgem-proxy/internal/logging"
	"github.com/hlnode/meshgem-proxy/internal/metrics"
)

// BackpressurePolicy selects what happens to a client whose outbound queue
// is full at broadcast time.
type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// Client is a single registered client connection's outbound side. ID is
// assigned by the registry starting at 1; 0 is never issued and is used by
// callers as a sentinel meaning "no exclusion".
type Client struct {
	ID        uint64
	Out       chan []byte
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the client's writer goroutine to exit; idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

// Registry is the set of currently connected clients.
type Registry struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	nextID     uint64
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates an empty Registry with the given outbound buffer size.
func New(outBufSize int, policy BackpressurePolicy) *Registry {
	return &Registry{
		clients:    make(map[*Client]struct{}),
		nextID:     1,
		OutBufSize: outBufSize,
		Policy:     policy,
	}
}

// NewClient allocates a Client with a fresh ID and the registry's outbound
// buffer size, but does not register it; call Add once the connection's
// handshake has succeeded.
func (r *Registry) NewClient() *Client {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.mu.Unlock()
	return &Client{
		ID:     id,
		Out:    make(chan []byte, r.OutBufSize),
		Closed: make(chan struct{}),
	}
}

// Add registers a client.
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	prev := len(r.clients)
	r.clients[c] = struct{}{}
	cur := len(r.clients)
	r.mu.Unlock()
	metrics.SetClientsConnected(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("clients_first_connected")
	}
}

// Remove unregisters a client; safe to call multiple times.
func (r *Registry) Remove(c *Client) {
	r.mu.Lock()
	_, existed := r.clients[c]
	if existed {
		delete(r.clients, c)
	}
	cur := len(r.clients)
	r.mu.Unlock()
	select {
	case <-c.Closed:
	default:
		c.Close()
	}
	metrics.SetClientsConnected(cur)
	if existed && cur == 0 {
		logging.L().Info("clients_last_disconnected")
	}
}

// Snapshot returns a slice copy of currently registered clients, safe to
// range over without holding the registry lock during I/O.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()
	return clients
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.clients)
	r.mu.RUnlock()
	return n
}

// Broadcast fans frame out to every registered client except excludeID,
// when excludeID is non-zero.
//
// Matching upstream behavior exactly: a zero excludeID is treated as "no
// exclusion" rather than "exclude client 0". Since client IDs are assigned
// starting at 1, this is presently unreachable and not a live bug, but the
// truthiness check itself (rather than an explicit "no exclusion" sentinel
// type) is preserved rather than redesigned.
func (r *Registry) Broadcast(frame []byte, excludeID uint64) {
	clients := r.Snapshot()
	metrics.SetBroadcastFanout(len(clients))

	if len(clients) > 0 {
		max, sum := 0, 0
		for _, c := range clients {
			l := len(c.Out)
			if l > max {
				max = l
			}
			sum += l
		}
		metrics.SetQueueDepth(max, sum/len(clients))
	}

	for _, c := range clients {
		if excludeID != 0 && c.ID == excludeID {
			continue
		}
		select {
		case c.Out <- frame:
			// Counted as sent once the writer goroutine actually flushes
			// it to the socket (internal/server's writer), not here.
		default:
			if r.Policy == PolicyKick {
				metrics.IncHubKick()
				c.Close()
			} else {
				metrics.IncHubDrop()
			}
		}
	}
}
