package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jrsteele09/artvinci-web/apiclient"
	"github.com/jrsteele09/artvinci-web/identity"
	"github.com/jrsteele09/artvinci-web/internal/config"
	"github.com/jrsteele09/artvinci-web/session"
	"github.com/jrsteele09/artvinci-web/tokenstore"
	"github.com/rs/zerolog/log"
)

// app is the process-wide dependency graph. There is exactly one session per
// process.
type app struct {
	store    *tokenstore.Store
	prefs    *tokenstore.Preferences
	identity *identity.Client
	sessions *session.Provider
	api      *apiclient.Client
	close    func() error
}

func newApp(ctx context.Context, c config.Config) (*app, error) {
	backend, closeBackend, err := tokenstore.OpenBackend(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("[newApp] token store: %w", err)
	}

	store := tokenstore.New(backend)
	client := identity.New(identity.ConfigFrom(c), store, nil)
	sessions := session.NewProvider(client, c.GetLoginEscalationInterval())

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = c.GetRequestTimeout()
	transport := apiclient.NewTransport(base, client, sessions)
	transport.MinValidity = c.GetRefreshMinValidity()

	api, err := apiclient.NewClient(c.GetAPIBaseURL(), transport)
	if err != nil {
		_ = closeBackend()
		return nil, fmt.Errorf("[newApp] api client: %w", err)
	}

	log.Debug().
		Str("store", c.GetStoreBackend()).
		Str("issuer", c.GetIssuerURL()).
		Str("api", c.GetAPIBaseURL()).
		Msg("Dependencies ready")

	return &app{
		store:    store,
		prefs:    tokenstore.NewPreferences(backend, tokenstore.Theme(c.GetDefaultTheme())),
		identity: client,
		sessions: sessions,
		api:      api,
		close:    closeBackend,
	}, nil
}
