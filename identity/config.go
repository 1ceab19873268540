package identity

import (
	"net/http"
	"time"

	"github.com/jrsteele09/artvinci-web/internal/config"
)

const (
	defaultLoginStateTimeout  = 10 * time.Minute
	defaultRefreshMinValidity = 30 * time.Second
	defaultProviderTimeout    = 15 * time.Second
)

// Config is fixed for the lifetime of a Client.
type Config struct {
	IssuerURL             string
	ClientID              string
	ClientSecret          string
	RedirectURL           string
	PostLogoutRedirectURL string
	Scopes                []string

	// LoginStateTimeout bounds how long a login redirect may take to come back.
	LoginStateTimeout time.Duration
	// RefreshMinValidity is the lifetime below which Initialize refreshes a stored token.
	RefreshMinValidity time.Duration
	// ProviderTimeout bounds shared provider round trips (handshake, refresh)
	// that must outlive the caller that started them.
	ProviderTimeout time.Duration

	HTTPClient *http.Client
	Now        func() time.Time
}

// ConfigFrom builds a Config from the environment backed identity settings.
func ConfigFrom(c config.IdentityConfig) Config {
	return Config{
		IssuerURL:             c.GetIssuerURL(),
		ClientID:              c.GetClientID(),
		ClientSecret:          c.GetClientSecret(),
		RedirectURL:           c.GetRedirectURL(),
		PostLogoutRedirectURL: c.GetPostLogoutRedirectURL(),
		Scopes:                c.GetScopes(),
		LoginStateTimeout:     c.GetLoginStateTimeout(),
		RefreshMinValidity:    c.GetRefreshMinValidity(),
	}
}

func (c Config) withDefaults() Config {
	if c.LoginStateTimeout <= 0 {
		c.LoginStateTimeout = defaultLoginStateTimeout
	}
	if c.RefreshMinValidity <= 0 {
		c.RefreshMinValidity = defaultRefreshMinValidity
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = defaultProviderTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.ProviderTimeout}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if len(c.Scopes) == 0 {
		c.Scopes = []string{"openid", "profile", "email", "offline_access"}
	}
	return c
}
