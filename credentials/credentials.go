package credentials

import (
	"math"
	"slices"
	"time"
)

// Pair is the access/refresh token combination issued by the identity
// provider. It is always replaced as a whole.
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	IDToken          string    `json:"id_token,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Empty reports whether the pair holds no access token.
func (p Pair) Empty() bool {
	return p.AccessToken == ""
}

// Remaining returns the access token lifetime left at now. A pair without a
// known expiry never reports as expiring.
func (p Pair) Remaining(now time.Time) time.Duration {
	if p.ExpiresAt.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return p.ExpiresAt.Sub(now)
}

// ExpiresWithin reports whether the access token expires within d of now.
func (p Pair) ExpiresWithin(d time.Duration, now time.Time) bool {
	return p.Remaining(now) < d
}

// RefreshExpired reports whether the refresh token is known to be expired.
func (p Pair) RefreshExpired(now time.Time) bool {
	return p.RefreshToken == "" || (!p.RefreshExpiresAt.IsZero() && !now.Before(p.RefreshExpiresAt))
}

// Profile is the authenticated user's snapshot. It is only ever stored next
// to the Pair it was derived from.
type Profile struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"`
}

// HasRole reports whether the profile carries role.
func (p Profile) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// NormalizeRoles returns roles sorted and de-duplicated so Roles behaves as a set.
func NormalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if r != "" {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Session is the unit the token store reads and writes atomically.
type Session struct {
	Credentials Pair    `json:"credentials"`
	Profile     Profile `json:"profile"`
}

// Empty reports whether the session carries no credentials.
func (s Session) Empty() bool {
	return s.Credentials.Empty()
}
