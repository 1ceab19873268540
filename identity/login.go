package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/artvinci-web/credentials"
	"github.com/jrsteele09/artvinci-web/identity/authflow"
	apperrors "github.com/jrsteele09/artvinci-web/internal/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Login returns the provider authorization URL the browser must be sent to.
// returnURL is where HandleCallback sends the user afterwards.
func (c *Client) Login(ctx context.Context, returnURL string) (string, error) {
	return c.authorize(ctx, returnURL, false)
}

// Signup is Login against the provider's registration page.
func (c *Client) Signup(ctx context.Context, returnURL string) (string, error) {
	return c.authorize(ctx, returnURL, true)
}

func (c *Client) authorize(ctx context.Context, returnURL string, register bool) (string, error) {
	if err := c.requireInitialized(); err != nil {
		return "", err
	}

	// Lazily retries discovery after a degraded Initialize
	p, err := c.discover(ctx)
	if err != nil {
		return "", fmt.Errorf("[identity Login] %w", err)
	}

	now := c.cfg.Now()
	c.flows.Purge(now.Add(-c.cfg.LoginStateTimeout))

	state := generateRandomString(32)
	nonce := generateRandomString(32)
	verifier := oauth2.GenerateVerifier()
	err = c.flows.Upsert(state, &authflow.State{
		CodeVerifier: verifier,
		Nonce:        nonce,
		ReturnURL:    SafeReturnURL(returnURL, "/"),
		CreatedAt:    now,
	})
	if err != nil {
		return "", fmt.Errorf("[identity Login] store login state: %w", err)
	}

	oauthCfg := *p.oauth
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier), oidc.Nonce(nonce)}
	if register {
		if reg, ok := registrationURL(oauthCfg.Endpoint.AuthURL); ok {
			oauthCfg.Endpoint.AuthURL = reg
		} else {
			opts = append(opts, oauth2.SetAuthURLParam("prompt", "create"))
		}
	}
	return oauthCfg.AuthCodeURL(state, opts...), nil
}

// HandleCallback completes a login: it redeems the state, exchanges the code
// with the PKCE verifier, verifies the ID token and stores the new session.
// It returns the URL the user originally asked for.
func (c *Client) HandleCallback(ctx context.Context, state, code string) (string, error) {
	if err := c.requireInitialized(); err != nil {
		return "", err
	}

	flow, err := c.flows.Take(state)
	if err != nil {
		return "", fmt.Errorf("[identity HandleCallback] %w", err)
	}
	if flow.Expired(c.cfg.LoginStateTimeout, c.cfg.Now()) {
		return "", fmt.Errorf("[identity HandleCallback] %w", apperrors.ErrStateExpired)
	}
	if code == "" {
		return "", errors.New("[identity HandleCallback] missing authorization code")
	}

	p, err := c.discover(ctx)
	if err != nil {
		return "", fmt.Errorf("[identity HandleCallback] %w", err)
	}

	token, err := p.oauth.Exchange(c.clientContext(ctx), code, oauth2.VerifierOption(flow.CodeVerifier))
	if err != nil {
		return "", classifyTransport("identity HandleCallback", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", fmt.Errorf("[identity HandleCallback] id_token: %w", apperrors.ErrMissingToken)
	}

	idToken, err := p.verifier.Verify(c.clientContext(ctx), rawIDToken)
	if err != nil {
		return "", fmt.Errorf("[identity HandleCallback] %w: %w", apperrors.ErrInvalidToken, err)
	}
	if idToken.Nonce != flow.Nonce {
		return "", fmt.Errorf("[identity HandleCallback] %w", apperrors.ErrInvalidNonce)
	}

	session, err := c.sessionFromToken(token, credentials.Session{})
	if err != nil {
		return "", fmt.Errorf("[identity HandleCallback] %w", err)
	}
	if err := c.store.Set(ctx, session); err != nil {
		// A session that cannot be stored is treated as no session
		if clearErr := c.store.Clear(ctx); clearErr != nil {
			log.Warn().Err(clearErr).Msg("Failed to clear persisted session")
		}
		return "", fmt.Errorf("[identity HandleCallback] %w", err)
	}

	log.Info().Str("user", session.Profile.Username).Msg("Login completed")
	return flow.ReturnURL, nil
}

// Logout clears local credentials and returns the provider end-session URL.
// Logging out without a session only returns the post logout URL.
func (c *Client) Logout(ctx context.Context) (string, error) {
	if err := c.requireInitialized(); err != nil {
		return "", err
	}

	session, hadSession := c.store.Get()
	if err := c.store.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to clear persisted session on logout")
	}

	postLogout := c.cfg.PostLogoutRedirectURL
	if !hadSession {
		return postLogout, nil
	}

	c.mu.RLock()
	p := c.discovery
	c.mu.RUnlock()
	if p == nil || p.endSessionURL == "" {
		return postLogout, nil
	}

	u, err := url.Parse(p.endSessionURL)
	if err != nil {
		return postLogout, fmt.Errorf("[identity Logout] end session endpoint: %w", err)
	}
	q := u.Query()
	q.Set("client_id", c.cfg.ClientID)
	if postLogout != "" {
		q.Set("post_logout_redirect_uri", postLogout)
	}
	if session.Credentials.IDToken != "" {
		q.Set("id_token_hint", session.Credentials.IDToken)
	}
	u.RawQuery = q.Encode()

	log.Info().Str("user", session.Profile.Username).Msg("Logged out")
	return u.String(), nil
}

// SafeReturnURL accepts only local absolute paths so the login round trip
// cannot be turned into an open redirect.
func SafeReturnURL(raw, fallback string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return fallback
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return raw
}

// registrationURL maps a Keycloak authorization endpoint to its registration page.
func registrationURL(authURL string) (string, bool) {
	if !strings.HasSuffix(authURL, "/auth") {
		return "", false
	}
	return strings.TrimSuffix(authURL, "/auth") + "/registrations", true
}

// generateRandomString returns a URL safe random string of length bytes
func generateRandomString(length int) string {
	b := make([]byte, length)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// UpdateProfile replaces the stored profile snapshot, for instance with the
// backend's view of the user. Fields left empty keep their current value and
// roles are added to the token roles.
func (c *Client) UpdateProfile(ctx context.Context, profile credentials.Profile) (credentials.Profile, error) {
	session, ok := c.store.Get()
	if !ok {
		return credentials.Profile{}, fmt.Errorf("[identity UpdateProfile] %w", apperrors.ErrNoCredentials)
	}

	// ID stays the provider subject
	current := session.Profile
	if profile.Username != "" {
		current.Username = profile.Username
	}
	if profile.Email != "" {
		current.Email = profile.Email
	}
	if profile.DisplayName != "" {
		current.DisplayName = profile.DisplayName
	}
	current.Roles = credentials.NormalizeRoles(append(slices.Clone(current.Roles), profile.Roles...))

	session.Profile = current
	if err := c.store.Set(ctx, session); err != nil {
		return credentials.Profile{}, fmt.Errorf("[identity UpdateProfile] %w", err)
	}
	return current, nil
}
