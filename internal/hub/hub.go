package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nerrad567/microcoaster-core/internal/auth"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/logging"
)

// Selector matches clients on every non-empty field. The zero Selector
// matches every client.
type Selector struct {
	UserID string
	Role   auth.Role
	Page   string
}

func (s Selector) matches(c *Client) bool {
	if s.UserID != "" && c.UserID != s.UserID {
		return false
	}
	if s.Role != "" && c.Role != s.Role {
		return false
	}
	if s.Page != "" && c.Page() != s.Page {
		return false
	}
	return true
}

// Audience is a union of selectors.
type Audience []Selector

func (a Audience) matches(c *Client) bool {
	for _, s := range a {
		if s.matches(c) {
			return true
		}
	}
	return false
}

// Stats summarises the connected clients.
type Stats struct {
	Connections int            `json:"connections"`
	Users       int            `json:"users"`
	ByRole      map[string]int `json:"by_role"`
	ByPage      map[string]int `json:"by_page"`
}

// Hub is the Connection Registry. It is safe for concurrent use.
type Hub struct {
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[string]*Client
}

// New creates an empty hub.
func New(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// Run blocks until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client. Older connections of the same user are sent a
// session.superseded event, closed, and returned.
func (h *Hub) Register(client *Client) []*Client {
	notice, err := json.Marshal(newEvent(EventSuperseded, map[string]string{
		"reason": "signed in from another connection",
	}))
	if err != nil {
		notice = nil
	}

	h.mu.Lock()
	var superseded []*Client
	for id, existing := range h.clients {
		if existing.UserID == client.UserID {
			superseded = append(superseded, existing)
			delete(h.clients, id)
		}
	}
	h.clients[client.ID] = client
	total := len(h.clients)
	h.mu.Unlock()

	for _, old := range superseded {
		if notice != nil {
			old.trySend(notice)
		}
		old.close()
	}

	h.logger.Debug("client registered",
		"connection_id", client.ID,
		"user_id", client.UserID,
		"superseded", len(superseded),
		"clients", total,
	)
	return superseded
}

// Unregister removes a client and closes its outbound channel. It returns
// the removed client, or nil if the connection was already gone (for
// example after supersession).
func (h *Hub) Unregister(connectionID string) *Client {
	h.mu.Lock()
	client, ok := h.clients[connectionID]
	delete(h.clients, connectionID)
	h.mu.Unlock()

	if !ok {
		return nil
	}
	client.close()
	h.logger.Debug("client unregistered", "connection_id", connectionID, "user_id", client.UserID)
	return client
}

// SetPage records the page a client is viewing. It reports whether the
// connection exists.
func (h *Hub) SetPage(connectionID, page string) bool {
	h.mu.RLock()
	client, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if ok {
		client.setPage(page)
	}
	return ok
}

// Send delivers an event once to every client matched by the audience and
// returns the number of clients it was queued for.
func (h *Hub) Send(audience Audience, event string, payload any) int {
	if len(audience) == 0 {
		return 0
	}

	data, err := json.Marshal(newEvent(event, payload))
	if err != nil {
		h.logger.Error("failed to marshal event", "event", event, "error", err)
		return 0
	}

	// Snapshot under the lock, send outside it.
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if audience.matches(c) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.trySend(data) {
			sent++
		} else {
			h.logger.Debug("dropped event for client", "event", event, "connection_id", c.ID)
		}
	}
	return sent
}

// SendToUser delivers an event to every connection of a user.
func (h *Hub) SendToUser(userID, event string, payload any) int {
	return h.Send(Audience{{UserID: userID}}, event, payload)
}

// SendToRole delivers an event to every client holding role.
func (h *Hub) SendToRole(role auth.Role, event string, payload any) int {
	return h.Send(Audience{{Role: role}}, event, payload)
}

// SendToPage delivers an event to every client viewing page.
func (h *Hub) SendToPage(page, event string, payload any) int {
	return h.Send(Audience{{Page: page}}, event, payload)
}

// BroadcastAll delivers an event to every client.
func (h *Hub) BroadcastAll(event string, payload any) int {
	return h.Send(Audience{{}}, event, payload)
}

// Client returns a live client by connection ID.
func (h *Hub) Client(connectionID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connectionID]
	return c, ok
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats counts clients by role and page.
func (h *Hub) Stats() Stats {
	st := Stats{
		ByRole: make(map[string]int),
		ByPage: make(map[string]int),
	}
	users := make(map[string]struct{})

	h.mu.RLock()
	for _, c := range h.clients {
		st.Connections++
		st.ByRole[string(c.Role)]++
		st.ByPage[c.Page()]++
		users[c.UserID] = struct{}{}
	}
	h.mu.RUnlock()

	st.Users = len(users)
	return st
}

// closeAll disconnects all clients so write pumps exit.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
