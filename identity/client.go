// Package identity talks to the OpenID Connect provider: the startup session
// check, the login and signup redirects, the callback code exchange, token
// refresh and provider logout.
package identity

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/artvinci-web/credentials"
	"github.com/jrsteele09/artvinci-web/identity/authflow"
	apperrors "github.com/jrsteele09/artvinci-web/internal/errors"
	"github.com/jrsteele09/artvinci-web/internal/metrics"
	"github.com/jrsteele09/artvinci-web/tokenstore"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// TokenStore is the credential storage the client reads and writes.
type TokenStore interface {
	Load(ctx context.Context) error
	Get() (credentials.Session, bool)
	Set(ctx context.Context, session credentials.Session) error
	Replace(ctx context.Context, staleAccessToken string, next credentials.Session) error
	Clear(ctx context.Context) error
}

var _ TokenStore = (*tokenstore.Store)(nil)

// Result is the outcome of the startup session check. Err is set when the
// check could not be completed; the client then reports unauthenticated.
type Result struct {
	Authenticated bool
	Err           error
}

// providerState is everything learned from discovery.
type providerState struct {
	provider      *oidc.Provider
	oauth         *oauth2.Config
	verifier      *oidc.IDTokenVerifier
	endSessionURL string
}

// Client is the process-wide identity provider client.
type Client struct {
	cfg   Config
	store TokenStore
	flows authflow.Repo

	group singleflight.Group

	mu        sync.RWMutex
	discovery *providerState
	result    *Result

	ready     chan struct{}
	readyOnce sync.Once
}

// New creates a client. flows may be nil, in which case pending logins are
// kept in memory.
func New(cfg Config, store TokenStore, flows authflow.Repo) *Client {
	if flows == nil {
		flows = authflow.NewInMemoryRepo()
	}
	return &Client{
		cfg:   cfg.withDefaults(),
		store: store,
		flows: flows,
		ready: make(chan struct{}),
	}
}

// Initialize runs the one-time silent session check. Concurrent callers share
// a single attempt and later callers get the cached result. It never fails:
// problems resolve to an unauthenticated Result carrying the cause.
func (c *Client) Initialize(ctx context.Context) Result {
	if res, ok := c.Result(); ok {
		return res
	}

	v, _, _ := c.group.Do("initialize", func() (any, error) {
		if res, ok := c.Result(); ok {
			return res, nil
		}

		// The result is shared, so it must not depend on the first caller's deadline
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ProviderTimeout)
		defer cancel()

		res := c.checkSession(hctx)

		c.mu.Lock()
		c.result = &res
		c.mu.Unlock()
		c.readyOnce.Do(func() { close(c.ready) })
		return res, nil
	})
	return v.(Result)
}

// Ready is closed once Initialize has resolved.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// Initialized reports whether Initialize has resolved.
func (c *Client) Initialized() bool {
	_, ok := c.Result()
	return ok
}

// Result returns the Initialize outcome once it has resolved.
func (c *Client) Result() (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.result == nil {
		return Result{}, false
	}
	return *c.result, true
}

// Session reads through to the token store.
func (c *Client) Session() (credentials.Session, bool) {
	return c.store.Get()
}

func (c *Client) requireInitialized() error {
	if !c.Initialized() {
		return apperrors.ErrNotInitialized
	}
	return nil
}

func (c *Client) checkSession(ctx context.Context) Result {
	if err := c.store.Load(ctx); err != nil {
		log.Err(err).Msg("Failed to load stored session")
	}

	if _, err := c.discover(ctx); err != nil {
		metrics.RecordHandshake("error")
		log.Err(err).Str("issuer", c.cfg.IssuerURL).Msg("Identity provider handshake failed")
		return Result{Err: err}
	}

	session, ok := c.store.Get()
	if !ok {
		metrics.RecordHandshake("anonymous")
		return Result{}
	}

	if err := c.checkActive(ctx, session.Credentials); err != nil {
		if apperrors.IsRefreshError(err) {
			metrics.RecordHandshake("inactive")
			log.Info().Err(err).Msg("Stored session is no longer active")
			return Result{}
		}
		metrics.RecordHandshake("error")
		log.Err(err).Msg("Unable to confirm stored session")
		return Result{Err: err}
	}

	metrics.RecordHandshake("authenticated")
	log.Info().Str("user", session.Profile.Username).Msg("Session restored")
	return Result{Authenticated: true}
}

// checkActive asks the provider whether pair still belongs to a live session:
// refresh when close to expiry, then userinfo. A rejected userinfo call gets
// one forced refresh before the session is declared over.
func (c *Client) checkActive(ctx context.Context, pair credentials.Pair) error {
	pair, err := c.refresh(ctx, c.cfg.RefreshMinValidity)
	if err != nil {
		return err
	}

	err = c.userInfo(ctx, pair.AccessToken)
	if err == nil || apperrors.IsNetworkError(err) {
		return err
	}
	log.Debug().Err(err).Msg("Userinfo rejected stored access token")

	pair, err = c.refreshIfCurrent(ctx, pair.AccessToken)
	if err != nil {
		return err
	}
	err = c.userInfo(ctx, pair.AccessToken)
	if err == nil || apperrors.IsNetworkError(err) {
		return err
	}
	c.dropSession(ctx, pair.AccessToken, "userinfo rejected refreshed token")
	return &apperrors.RefreshError{Cause: err}
}

func (c *Client) userInfo(ctx context.Context, accessToken string) error {
	p, err := c.discover(ctx)
	if err != nil {
		return err
	}
	if p.provider.UserInfoEndpoint() == "" {
		return nil
	}

	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	if _, err := p.provider.UserInfo(c.clientContext(ctx), source); err != nil {
		return classifyTransport("identity userInfo", err)
	}
	return nil
}

// discover fetches provider metadata once. A failed discovery is retried by
// the next caller.
func (c *Client) discover(ctx context.Context) (*providerState, error) {
	c.mu.RLock()
	p := c.discovery
	c.mu.RUnlock()
	if p != nil {
		return p, nil
	}

	v, err, _ := c.group.Do("discover", func() (any, error) {
		c.mu.RLock()
		p := c.discovery
		c.mu.RUnlock()
		if p != nil {
			return p, nil
		}

		provider, err := oidc.NewProvider(c.clientContext(ctx), c.cfg.IssuerURL)
		if err != nil {
			return nil, classifyTransport("identity discover", err)
		}

		var extra struct {
			EndSessionEndpoint string `json:"end_session_endpoint"`
		}
		if err := provider.Claims(&extra); err != nil {
			log.Warn().Err(err).Msg("Unable to read provider metadata")
		}

		// Public clients send client_id in the body. A fixed style also stops
		// oauth2 from retrying a rejected token request in the other style.
		endpoint := provider.Endpoint()
		endpoint.AuthStyle = oauth2.AuthStyleInParams
		if c.cfg.ClientSecret != "" {
			endpoint.AuthStyle = oauth2.AuthStyleInHeader
		}

		p = &providerState{
			provider: provider,
			oauth: &oauth2.Config{
				ClientID:     c.cfg.ClientID,
				ClientSecret: c.cfg.ClientSecret,
				Endpoint:     endpoint,
				RedirectURL:  c.cfg.RedirectURL,
				Scopes:       c.cfg.Scopes,
			},
			verifier: provider.Verifier(&oidc.Config{
				ClientID: c.cfg.ClientID,
				Now:      c.cfg.Now,
			}),
			endSessionURL: extra.EndSessionEndpoint,
		}

		c.mu.Lock()
		c.discovery = p
		c.mu.Unlock()
		log.Debug().Str("issuer", c.cfg.IssuerURL).Msg("Identity provider discovered")
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*providerState), nil
}

// clientContext carries the configured HTTP client to go-oidc and oauth2.
func (c *Client) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, c.cfg.HTTPClient)
}

// EndSession drops the local session when it still holds accessToken. The
// pipeline calls it once the backend refuses even freshly refreshed
// credentials. A session logged out or replaced since is left alone.
func (c *Client) EndSession(ctx context.Context, accessToken string) {
	c.dropSession(ctx, accessToken, "backend rejected session")
}

// dropSession clears local credentials after accessToken was rejected.
func (c *Client) dropSession(ctx context.Context, accessToken, reason string) {
	err := c.store.Replace(ctx, accessToken, credentials.Session{})
	switch {
	case apperrors.Is(err, apperrors.ErrSessionReplaced):
		log.Debug().Str("reason", reason).Msg("Session already replaced, nothing to clear")
	case err != nil:
		log.Warn().Err(err).Str("reason", reason).Msg("Failed to clear persisted session")
	default:
		log.Info().Str("reason", reason).Msg("Session cleared")
	}
}

// classifyTransport wraps failures that never produced a response in a
// NetworkError so callers can tell them apart from auth failures.
func classifyTransport(op string, err error) error {
	var urlErr *url.Error
	if apperrors.As(err, &urlErr) {
		return &apperrors.NetworkError{Op: op, Cause: err}
	}
	return fmt.Errorf("[%s] %w", op, err)
}
