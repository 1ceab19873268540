package credentials

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/artvinci-web/internal/errors"
)

type roleSet struct {
	Roles []string `json:"roles"`
}

// AccessClaims are the Keycloak-style claims read from an access or ID token.
type AccessClaims struct {
	jwtlib.RegisteredClaims
	PreferredUsername string             `json:"preferred_username,omitempty"`
	Email             string             `json:"email,omitempty"`
	Name              string             `json:"name,omitempty"`
	GivenName         string             `json:"given_name,omitempty"`
	FamilyName        string             `json:"family_name,omitempty"`
	RealmAccess       roleSet            `json:"realm_access,omitempty"`
	ResourceAccess    map[string]roleSet `json:"resource_access,omitempty"`
}

// ParseClaims decodes a token without verifying its signature. The token must
// come straight from the provider's token endpoint; ID tokens are verified
// separately against the provider's keys.
func ParseClaims(rawToken string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return nil, fmt.Errorf("[credentials ParseClaims] %w: %w", apperrors.ErrInvalidToken, err)
	}
	return claims, nil
}

// Expiry returns the exp claim, or the zero time when absent.
func (c *AccessClaims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Profile builds the user snapshot. Realm roles and the roles granted to
// clientID are merged into one set.
func (c *AccessClaims) Profile(clientID string) Profile {
	username := c.PreferredUsername
	if username == "" {
		username = c.Subject
	}

	displayName := c.Name
	if displayName == "" {
		displayName = joinNonEmpty(c.GivenName, c.FamilyName)
	}
	if displayName == "" {
		displayName = username
	}

	roles := append([]string{}, c.RealmAccess.Roles...)
	if clientRoles, ok := c.ResourceAccess[clientID]; ok {
		roles = append(roles, clientRoles.Roles...)
	}

	return Profile{
		ID:          c.Subject,
		Username:    username,
		Email:       c.Email,
		DisplayName: displayName,
		Roles:       NormalizeRoles(roles),
	}
}

// ProfileFromToken decodes rawToken and returns its profile.
func ProfileFromToken(rawToken, clientID string) (Profile, error) {
	claims, err := ParseClaims(rawToken)
	if err != nil {
		return Profile{}, err
	}
	return claims.Profile(clientID), nil
}

func joinNonEmpty(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}
