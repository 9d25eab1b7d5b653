package auth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

const defaultTicketTTL = 30 * time.Second

// TicketStore manages short-lived, single-use tickets for WebSocket auth.
// Browser clients exchange a cookie or token for a ticket, then connect with
// the ticket as a query parameter.
type TicketStore struct {
	mu      sync.Mutex
	tickets map[string]ticketEntry
	ttl     time.Duration
}

type ticketEntry struct {
	ExpiresAt time.Time
	Principal Principal
}

// NewTicketStore creates a new ticket store.
func NewTicketStore() *TicketStore {
	return &TicketStore{
		tickets: make(map[string]ticketEntry),
		ttl:     defaultTicketTTL,
	}
}

// Issue creates a new single-use ticket carrying the given principal.
func (ts *TicketStore) Issue(p Principal) string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	ticket := hex.EncodeToString(b)

	ts.mu.Lock()
	ts.tickets[ticket] = ticketEntry{
		ExpiresAt: time.Now().Add(ts.ttl),
		Principal: p.clone(),
	}
	ts.mu.Unlock()

	return ticket
}

// Redeem validates and burns a ticket.
func (ts *TicketStore) Redeem(ticket string) (Principal, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.tickets[ticket]
	if !ok {
		return Principal{}, false
	}
	delete(ts.tickets, ticket)

	if time.Now().After(entry.ExpiresAt) {
		return Principal{}, false
	}
	p := entry.Principal
	p.Method = MethodTicket
	return p, true
}

// Cleanup removes expired tickets and returns how many were removed.
func (ts *TicketStore) Cleanup() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	removed := 0
	for k, v := range ts.tickets {
		if now.After(v.ExpiresAt) {
			delete(ts.tickets, k)
			removed++
		}
	}
	return removed
}
