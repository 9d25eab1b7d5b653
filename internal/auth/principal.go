// Package auth resolves externally issued credentials (basic auth, API
// tokens, session cookies and WebSocket tickets) into a Principal that the
// streaming and long-polling layers can authorize against.
package auth

import (
	"fmt"
	"slices"
)

// Method records which credential form produced a Principal.
type Method string

const (
	MethodNone    Method = ""
	MethodBasic   Method = "basic"
	MethodToken   Method = "token"
	MethodSession Method = "session"
	MethodTicket  Method = "ticket"
)

// Principal is the resolved identity of a connection or request. The zero
// value is the unauthenticated principal.
type Principal struct {
	UserID    int64   `json:"user_id"`
	Username  string  `json:"username"`
	Companies []int64 `json:"companies,omitempty"` // brewing companies the user is a member of
	Brewhouse int64   `json:"brewhouse,omitempty"` // controller identity; 0 for people
	Method    Method  `json:"method"`
}

// Authenticated reports whether the principal was resolved from valid
// credentials.
func (p Principal) Authenticated() bool {
	return p.UserID != 0
}

// MemberOf reports whether the principal belongs to the brewing company.
func (p Principal) MemberOf(company int64) bool {
	return p.Authenticated() && company != 0 && slices.Contains(p.Companies, company)
}

// IsController reports whether the principal authenticates a brewhouse
// controller rather than a person.
func (p Principal) IsController() bool {
	return p.Authenticated() && p.Brewhouse != 0
}

func (p Principal) String() string {
	if !p.Authenticated() {
		return "anonymous"
	}
	if p.IsController() {
		return fmt.Sprintf("%s(brewhouse=%d)", p.Username, p.Brewhouse)
	}
	return p.Username
}

// clone returns a copy that shares no slices with p.
func (p Principal) clone() Principal {
	p.Companies = slices.Clone(p.Companies)
	return p
}
