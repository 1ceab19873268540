package config

import (
	"strings"
	"time"
)

const (
	identityURLVar          = "KEYCLOAK_URL"
	realmVar                = "KEYCLOAK_REALM"
	clientIDVar             = "KEYCLOAK_CLIENT_ID"
	clientSecretVar         = "KEYCLOAK_CLIENT_SECRET"
	postLogoutRedirectVar   = "POST_LOGOUT_REDIRECT_URL"
	loginStateTimeoutVar    = "LOGIN_STATE_TIMEOUT"
	loginEscalationEveryVar = "LOGIN_ESCALATION_INTERVAL"
)

// RouteCallback is where the identity provider returns the browser after login.
const RouteCallback = "/auth/callback"

type IdentityConfig interface {
	GetIdentityBaseURL() string
	GetRealm() string
	GetClientID() string
	GetClientSecret() string
	GetIssuerURL() string
	GetRedirectURL() string
	GetPostLogoutRedirectURL() string
	GetScopes() []string
	GetLoginStateTimeout() time.Duration
	GetRefreshMinValidity() time.Duration
	GetLoginEscalationInterval() time.Duration
}

type Identity struct{}

var _ IdentityConfig = Identity{}

func (Identity) GetIdentityBaseURL() string {
	return strings.TrimRight(GetEnv(identityURLVar, ""), "/")
}

func (Identity) GetRealm() string {
	return GetEnv(realmVar, "")
}

func (Identity) GetClientID() string {
	return GetEnv(clientIDVar, "")
}

// GetClientSecret is empty for public clients, which rely on PKCE alone.
func (Identity) GetClientSecret() string {
	return GetEnv(clientSecretVar, "")
}

// GetIssuerURL returns the realm issuer, e.g. http://localhost:8080/realms/myrealm
func (i Identity) GetIssuerURL() string {
	return i.GetIdentityBaseURL() + "/realms/" + i.GetRealm()
}

func (Identity) GetRedirectURL() string {
	return EnvVars{}.GetPublicBaseURL() + RouteCallback
}

func (Identity) GetPostLogoutRedirectURL() string {
	return GetEnv(postLogoutRedirectVar, EnvVars{}.GetPublicBaseURL()+"/")
}

func (Identity) GetScopes() []string {
	return []string{"openid", "profile", "email", "offline_access"}
}

func (Identity) GetLoginStateTimeout() time.Duration {
	return getDuration(loginStateTimeoutVar, 10*time.Minute)
}

// GetRefreshMinValidity is how long an access token must still be valid for
// before it is attached to an outgoing request without a refresh.
func (Identity) GetRefreshMinValidity() time.Duration {
	return 30 * time.Second
}

func (Identity) GetLoginEscalationInterval() time.Duration {
	return getDuration(loginEscalationEveryVar, 5*time.Second)
}

func getDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := GetEnv(envVar, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
