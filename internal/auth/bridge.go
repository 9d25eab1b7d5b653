package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Default cookie and header names, matching the web application that issues
// the sessions.
const (
	DefaultSessionCookie = "sessionid"
	CSRFCookie           = "csrftoken"
	CSRFHeader           = "X-CSRFToken"
)

// Credentials is the raw credential material presented with a request or a
// streaming connection. It is extracted once at the transport edge.
type Credentials struct {
	Method        string // HTTP method, used for CSRF enforcement
	Authorization string
	SessionID     string
	CSRFCookie    string
	CSRFHeader    string
	Ticket        string
}

// CredentialsFromRequest extracts credential material from r.
func CredentialsFromRequest(r *http.Request, sessionCookie string) Credentials {
	if sessionCookie == "" {
		sessionCookie = DefaultSessionCookie
	}
	c := Credentials{
		Method:        r.Method,
		Authorization: r.Header.Get("Authorization"),
		CSRFHeader:    r.Header.Get(CSRFHeader),
		Ticket:        r.URL.Query().Get("ticket"),
	}
	if ck, err := r.Cookie(sessionCookie); err == nil {
		c.SessionID = ck.Value
	}
	if ck, err := r.Cookie(CSRFCookie); err == nil {
		c.CSRFCookie = ck.Value
	}
	return c
}

// Bridge turns Credentials into a Principal. It is the only place credential
// verification happens; transports call Resolve and authorize the result.
type Bridge struct {
	dir           *Directory
	tickets       *TicketStore
	sessionCookie string
}

// NewBridge creates a bridge over a credential directory and ticket store.
// tickets may be nil to disable ticket authentication.
func NewBridge(dir *Directory, tickets *TicketStore, sessionCookie string) *Bridge {
	if sessionCookie == "" {
		sessionCookie = DefaultSessionCookie
	}
	return &Bridge{dir: dir, tickets: tickets, sessionCookie: sessionCookie}
}

// Tickets returns the bridge's ticket store.
func (b *Bridge) Tickets() *TicketStore {
	return b.tickets
}

// ResolveRequest extracts credentials from r and resolves them.
func (b *Bridge) ResolveRequest(r *http.Request) Principal {
	return b.Resolve(CredentialsFromRequest(r, b.sessionCookie))
}

// Resolve returns the Principal for c, or the zero Principal when no
// credential form verifies. It never fails; callers decide whether an
// anonymous principal may proceed.
//
// Forms are tried in order: ticket, basic, session cookie, token. An explicit
// Authorization header that fails verification is not retried against the
// session cookie.
func (b *Bridge) Resolve(c Credentials) Principal {
	if c.Ticket != "" && b.tickets != nil {
		if p, ok := b.tickets.Redeem(c.Ticket); ok {
			return p
		}
		return Principal{}
	}

	scheme, value := splitAuthorization(c.Authorization)
	switch strings.ToLower(scheme) {
	case "basic":
		username, password, ok := parseBasic(value)
		if !ok {
			return Principal{}
		}
		p, _ := b.dir.CheckPassword(username, password)
		return p
	case "token", "bearer":
		p, _ := b.dir.LookupToken(value)
		return p
	case "":
	default:
		return Principal{}
	}

	if c.SessionID != "" {
		if !csrfSatisfied(c) {
			return Principal{}
		}
		p, _ := b.dir.LookupSession(c.SessionID)
		return p
	}
	return Principal{}
}

func splitAuthorization(header string) (scheme, value string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ""
	}
	scheme, value, ok := strings.Cut(header, " ")
	if !ok {
		return header, ""
	}
	return scheme, strings.TrimSpace(value)
}

func parseBasic(value string) (username, password string, ok bool) {
	// Reuse net/http's decoder by building a throwaway request header.
	r := http.Request{Header: http.Header{"Authorization": {"Basic " + value}}}
	return r.BasicAuth()
}

// csrfSatisfied applies double-submit CSRF protection to cookie-authenticated
// requests with unsafe methods.
func csrfSatisfied(c Credentials) bool {
	switch c.Method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	if c.CSRFCookie == "" || c.CSRFHeader == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.CSRFCookie), []byte(c.CSRFHeader)) == 1
}
