package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/nerrad567/microcoaster-core/internal/auth"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ttl.
type ticketStore struct {
	ttl     time.Duration
	mu      sync.Mutex
	tickets map[string]ticketEntry
}

// ticketEntry binds a ticket to the identity that requested it.
type ticketEntry struct {
	identity  auth.Identity
	expiresAt time.Time
}

func newTicketStore(ttl time.Duration) *ticketStore {
	return &ticketStore{
		ttl:     ttl,
		tickets: make(map[string]ticketEntry),
	}
}

// issue creates a ticket for id.
func (ts *ticketStore) issue(id auth.Identity) string {
	ticket := generateTicket()

	ts.mu.Lock()
	ts.tickets[ticket] = ticketEntry{
		identity:  id,
		expiresAt: time.Now().Add(ts.ttl),
	}
	ts.mu.Unlock()

	return ticket
}

// consume validates a ticket and removes it. An expired ticket is removed
// and rejected.
func (ts *ticketStore) consume(ticket string) (auth.Identity, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.tickets[ticket]
	if !ok {
		return auth.Identity{}, false
	}
	delete(ts.tickets, ticket)

	if !time.Now().Before(entry.expiresAt) {
		return auth.Identity{}, false
	}
	return entry.identity, true
}

// cleanExpired removes expired tickets from the store.
func (ts *ticketStore) cleanExpired() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	for ticket, entry := range ts.tickets {
		if now.After(entry.expiresAt) {
			delete(ts.tickets, ticket)
		}
	}
}

// cleanLoop runs cleanExpired periodically until the context is cancelled.
func (ts *ticketStore) cleanLoop(ctx context.Context) {
	ticker := time.NewTicker(ts.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ts.cleanExpired()
		}
	}
}

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}
