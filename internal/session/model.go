package session

import (
	"time"

	"github.com/caseboard/session-gateway/internal/identity"
)

// Origin records which flow established a session.
type Origin string

const (
	OriginPassword      Origin = "password"
	OriginOAuthExchange Origin = "oauth-exchange"
)

// Session is one authenticated browser context. The ID is the opaque value
// in the session cookie; the token is the backend bearer credential it
// stands in for.
type Session struct {
	ID          string
	Token       string
	Origin      Origin
	User        identity.User
	Fingerprint string
	CSRFToken   string
	Expiry      time.Time
	LastSeen    time.Time
}

// State is the settled authentication view of a request. Loading is true
// only while the state genuinely cannot be settled, e.g. the backend is
// unreachable during resolution. A settled state always has Loading false,
// whether it resolved to a user or to anonymous.
type State struct {
	Loading bool
	User    *identity.User
	Token   string
}

func (s State) IsAuthenticated() bool {
	return !s.Loading && s.User != nil && s.Token != ""
}

// AuthHeader derives the Authorization header value for the state. It is a
// pure read: no storage access, no mutation.
func (s State) AuthHeader() string {
	if s.Token == "" {
		return ""
	}

	return "Bearer " + s.Token
}

// Established is handed back after a login, registration, or OAuth
// exchange succeeds: the freshly minted session and the identity the
// backend confirmed.
type Established struct {
	SessionID string
	CSRFToken string
	User      identity.User
}
