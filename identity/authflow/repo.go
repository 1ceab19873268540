package authflow

import "time"

// State is what the login redirect must remember until the provider calls back.
type State struct {
	CodeVerifier string
	Nonce        string
	ReturnURL    string
	CreatedAt    time.Time
}

// Expired reports whether the flow is older than ttl at now. A zero ttl never expires.
func (s *State) Expired(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(s.CreatedAt) > ttl
}

// Repo keeps pending login flows keyed by the OAuth state parameter.
// Take consumes an entry: a state can be redeemed once.
type Repo interface {
	Upsert(state string, flow *State) error
	Take(state string) (*State, error)
	Purge(olderThan time.Time) int
}
