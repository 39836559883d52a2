package realtime

import (
	"sync"

	v1 "parley/shared/contracts/signal/v1"
)

// closedDone is what Done returns for a nil client, so callers can always
// select on the result.
var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Client is one connected websocket session.
//
// A session starts anonymous: the user id arrives later with the bind event
// and is set exactly once, read under a lock by the read loop, the writer,
// and the teardown path. Send is never closed, since closing it would race
// concurrent broadcasters; teardown is signalled through done instead.
type Client struct {
	SessionID string
	Send      chan v1.Envelope

	mu     sync.RWMutex
	userID string

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs an unbound Client with a bounded send queue.
func NewClient(sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Bind attaches the client to an identity. It succeeds once; rebinding an
// already-bound client returns false.
func (c *Client) Bind(userID string) bool {
	if c == nil || userID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID != "" {
		return false
	}
	c.userID = userID
	return true
}

// UserID returns the bound identity, or "" before a successful Bind.
func (c *Client) UserID() string {
	if c == nil {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Done returns a channel that closes when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		return closedDone
	}
	return c.done
}

// Close stops the client goroutines. It is idempotent and never touches
// Send.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.done) })
}
