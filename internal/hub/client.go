package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/microcoaster-core/internal/auth"
)

// DefaultSendBuffer is the per-client outbound frame buffer.
const DefaultSendBuffer = 256

// Client is one live dashboard connection.
type Client struct {
	ID          string
	UserID      string
	Role        auth.Role
	ConnectedAt time.Time

	mu   sync.RWMutex
	page string

	sendMu sync.RWMutex
	send   chan []byte
	closed bool
}

// NewClient creates a client with a fresh connection ID. A bufferSize of
// zero or less uses DefaultSendBuffer.
func NewClient(userID string, role auth.Role, page string, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = DefaultSendBuffer
	}
	return &Client{
		ID:          uuid.NewString(),
		UserID:      userID,
		Role:        role,
		ConnectedAt: time.Now().UTC(),
		page:        page,
		send:        make(chan []byte, bufferSize),
	}
}

// Page returns the page the client is currently viewing.
func (c *Client) Page() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.page
}

func (c *Client) setPage(page string) {
	c.mu.Lock()
	c.page = page
	c.mu.Unlock()
}

// Outbound is drained by the connection's write pump. It is closed when
// the client is unregistered or superseded.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// Reply queues a non-event frame (response, error, pong) for this client.
func (c *Client) Reply(msgType, id string, payload any) {
	data, err := json.Marshal(Message{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

// ReplyError queues an error frame.
func (c *Client) ReplyError(id, message string) {
	c.Reply(TypeError, id, map[string]string{"message": message})
}

// Info is a point-in-time view of a client.
type Info struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Role        auth.Role `json:"role"`
	Page        string    `json:"page"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Info returns a snapshot of the client's fields.
func (c *Client) Info() Info {
	return Info{
		ID:          c.ID,
		UserID:      c.UserID,
		Role:        c.Role,
		Page:        c.Page(),
		ConnectedAt: c.ConnectedAt,
	}
}

// trySend queues data without blocking. It reports whether the frame was
// queued; a full buffer or a closed client both return false.
func (c *Client) trySend(data []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close waits for in-flight sends, then closes the outbound channel once.
func (c *Client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
