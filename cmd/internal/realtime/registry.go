package realtime

import (
	"log/slog"
	"sync"

	v1 "parley/shared/contracts/signal/v1"
)

// Registry is the single source of truth for "is identity X currently
// reachable, and how". At most one live client per identity; registering a
// replacement overwrites the mapping without closing the prior connection
// (orphaning it is the caller's call).
//
// Delivery semantics are best-effort and at-most-once: Send and Broadcast
// never block and never report failures to the sender. There are no acks and
// no retries; stronger guarantees would be a separate layer on top.
type Registry struct {
	log     *slog.Logger
	metrics *Metrics

	mu      sync.RWMutex
	clients map[string]*Client // user id -> client
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger, metrics *Metrics) *Registry {
	return &Registry{
		log:     log,
		metrics: metrics,
		clients: make(map[string]*Client),
	}
}

// Register maps userID to c, overwriting any prior mapping. The displaced
// client (if any) is returned, NOT closed: its connection keeps running until
// its own teardown, it is just no longer reachable by user id.
func (r *Registry) Register(userID string, c *Client) *Client {
	if userID == "" || c == nil {
		return nil
	}

	r.mu.Lock()
	prev := r.clients[userID]
	r.clients[userID] = c
	r.mu.Unlock()

	if prev != nil {
		r.log.Info("registry.replace", "user_id", userID, "old_session", prev.SessionID, "new_session", c.SessionID)
	}
	return prev
}

// Unregister removes the mapping for userID. No-op if absent.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	delete(r.clients, userID)
	r.mu.Unlock()
}

// Release removes the mapping only if it still points at c. Connection
// teardown uses this so a displaced connection's late close can never evict
// its replacement. Reports whether the mapping was removed.
func (r *Registry) Release(userID string, c *Client) bool {
	if userID == "" || c == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.clients[userID]
	if !ok || cur != c {
		return false
	}
	delete(r.clients, userID)
	return true
}

// Lookup returns the live client for userID.
func (r *Registry) Lookup(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[userID]
	return c, ok
}

// Count returns the number of registered identities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Send marshals payload under eventType and enqueues it for userID.
// Silent no-op (false) when the identity is not registered, the client is
// shutting down, or its queue is full.
func (r *Registry) Send(userID string, eventType v1.EventType, payload any) bool {
	env, err := v1.NewEnvelope(eventType, payload)
	if err != nil {
		r.log.Error("registry.marshal.fail", "event", eventType, "err", err)
		return false
	}
	return r.SendEnvelope(userID, env)
}

// SendEnvelope enqueues a prebuilt envelope for userID, non-blocking.
func (r *Registry) SendEnvelope(userID string, env v1.Envelope) bool {
	r.mu.RLock()
	c := r.clients[userID]
	r.mu.RUnlock()

	if !enqueue(c, env) {
		r.metrics.Broadcast(env.Type, 0, 1)
		return false
	}
	r.metrics.Broadcast(env.Type, 1, 0)
	return true
}

// Broadcast sends independently to each id. Partial delivery is expected and
// acceptable; the return value is the delivered count, an internal signal
// with no transactional meaning.
func (r *Registry) Broadcast(userIDs []string, eventType v1.EventType, payload any) int {
	return r.BroadcastExcept(userIDs, "", eventType, payload)
}

// BroadcastExcept is Broadcast minus one identity, used for self-triggered
// events the actor must not receive back.
func (r *Registry) BroadcastExcept(userIDs []string, exclude string, eventType v1.EventType, payload any) int {
	env, err := v1.NewEnvelope(eventType, payload)
	if err != nil {
		r.log.Error("registry.marshal.fail", "event", eventType, "err", err)
		return 0
	}

	r.mu.RLock()
	targets := make([]*Client, 0, len(userIDs))
	for _, id := range userIDs {
		if id == "" || id == exclude {
			continue
		}
		if c, ok := r.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if enqueue(c, env) {
			delivered++
		}
	}
	r.metrics.Broadcast(eventType, delivered, len(targets)-delivered)
	return delivered
}

// enqueue is the non-blocking fan-out primitive: drop rather than block, and
// skip clients that are shutting down. Safe because Client.Send is never
// closed by the server.
func enqueue(c *Client, env v1.Envelope) bool {
	if c == nil {
		return false
	}

	select {
	case <-c.Done():
		return false
	default:
	}

	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
