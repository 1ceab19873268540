package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jrsteele09/artvinci-web/credentials"
	apperrors "github.com/jrsteele09/artvinci-web/internal/errors"
	"github.com/jrsteele09/artvinci-web/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// ForceRefresh as minValidity makes Refresh always exchange the refresh token.
const ForceRefresh time.Duration = -1

// Refresh returns credentials valid for at least minValidity, exchanging the
// refresh token when needed. A negative minValidity always exchanges.
// Concurrent refreshes share one exchange. An expired or revoked refresh
// token clears the store and yields a RefreshError; a transport failure
// yields a NetworkError and leaves the store alone.
func (c *Client) Refresh(ctx context.Context, minValidity time.Duration) (credentials.Pair, error) {
	if err := c.requireInitialized(); err != nil {
		return credentials.Pair{}, err
	}
	return c.refresh(ctx, minValidity)
}

// RefreshRejected refreshes after the backend rejected accessToken. When the
// stored token has already moved on, the newer one is returned without
// another exchange.
func (c *Client) RefreshRejected(ctx context.Context, accessToken string) (credentials.Pair, error) {
	if err := c.requireInitialized(); err != nil {
		return credentials.Pair{}, err
	}
	return c.refreshIfCurrent(ctx, accessToken)
}

func (c *Client) refresh(ctx context.Context, minValidity time.Duration) (credentials.Pair, error) {
	session, ok := c.store.Get()
	if !ok {
		return credentials.Pair{}, &apperrors.RefreshError{Cause: apperrors.ErrNoCredentials}
	}
	if minValidity >= 0 && !session.Credentials.ExpiresWithin(minValidity, c.cfg.Now()) {
		return session.Credentials, nil
	}
	return c.exchangeRefresh(ctx, session.Credentials.AccessToken)
}

func (c *Client) refreshIfCurrent(ctx context.Context, accessToken string) (credentials.Pair, error) {
	session, ok := c.store.Get()
	if !ok {
		return credentials.Pair{}, &apperrors.RefreshError{Cause: apperrors.ErrNoCredentials}
	}
	if session.Credentials.AccessToken != accessToken {
		return session.Credentials, nil
	}
	return c.exchangeRefresh(ctx, accessToken)
}

// exchangeRefresh replaces the session holding stale. Callers that arrive
// while an exchange is running wait for it; callers that arrive after it
// find the token already replaced.
func (c *Client) exchangeRefresh(ctx context.Context, stale string) (credentials.Pair, error) {
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		session, ok := c.store.Get()
		if !ok {
			return nil, &apperrors.RefreshError{Cause: apperrors.ErrNoCredentials}
		}
		if session.Credentials.AccessToken != stale {
			return session.Credentials, nil
		}

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ProviderTimeout)
		defer cancel()
		return c.redeem(rctx, session)
	})
	if err != nil {
		return credentials.Pair{}, err
	}
	return v.(credentials.Pair), nil
}

func (c *Client) redeem(ctx context.Context, session credentials.Session) (credentials.Pair, error) {
	if session.Credentials.RefreshExpired(c.cfg.Now()) {
		metrics.RecordRefresh("expired")
		c.dropSession(ctx, session.Credentials.AccessToken, "refresh token expired")
		return credentials.Pair{}, &apperrors.RefreshError{Cause: apperrors.ErrRefreshTokenExpired}
	}

	p, err := c.discover(ctx)
	if err != nil {
		metrics.RecordRefresh("error")
		return credentials.Pair{}, fmt.Errorf("[identity Refresh] %w", err)
	}

	source := p.oauth.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: session.Credentials.RefreshToken})
	token, err := source.Token()
	if err != nil {
		return credentials.Pair{}, c.refreshFailed(ctx, session.Credentials.AccessToken, err)
	}

	next, err := c.sessionFromToken(token, session)
	if err != nil {
		metrics.RecordRefresh("invalid")
		c.dropSession(ctx, session.Credentials.AccessToken, "refreshed token unusable")
		return credentials.Pair{}, &apperrors.RefreshError{Cause: err}
	}
	// Logout or a new login may have run while the grant was in flight
	if err := c.store.Replace(ctx, session.Credentials.AccessToken, next); err != nil {
		if apperrors.Is(err, apperrors.ErrSessionReplaced) {
			metrics.RecordRefresh("superseded")
			if current, ok := c.store.Get(); ok {
				return current.Credentials, nil
			}
			log.Debug().Msg("Discarding refreshed tokens for a session that was logged out")
			return credentials.Pair{}, &apperrors.RefreshError{Cause: err}
		}
		metrics.RecordRefresh("store_error")
		c.dropSession(ctx, session.Credentials.AccessToken, "store write failed")
		return credentials.Pair{}, &apperrors.RefreshError{Cause: err}
	}

	metrics.RecordRefresh("success")
	log.Debug().Time("expires_at", next.Credentials.ExpiresAt).Msg("Access token refreshed")
	return next.Credentials, nil
}

// refreshFailed sorts a failed refresh grant: a provider rejection ends the
// session, anything that never reached the provider is a network error.
func (c *Client) refreshFailed(ctx context.Context, accessToken string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if apperrors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		if retrieveErr.ErrorCode == "invalid_grant" || status == http.StatusBadRequest || status == http.StatusUnauthorized {
			metrics.RecordRefresh("rejected")
			c.dropSession(ctx, accessToken, "refresh token rejected")
			return &apperrors.RefreshError{Cause: err}
		}
		metrics.RecordRefresh("error")
		return fmt.Errorf("[identity Refresh] provider error: %w", err)
	}

	metrics.RecordRefresh("network")
	return &apperrors.NetworkError{Op: "identity Refresh", Cause: err}
}

// sessionFromToken builds the stored session from a token response. Values
// the provider may omit on refresh (refresh token, id token, profile claims)
// are carried over from previous.
func (c *Client) sessionFromToken(token *oauth2.Token, previous credentials.Session) (credentials.Session, error) {
	if token.AccessToken == "" {
		return credentials.Session{}, apperrors.ErrMissingToken
	}

	now := c.cfg.Now()
	pair := credentials.Pair{
		AccessToken:      token.AccessToken,
		RefreshToken:     token.RefreshToken,
		ExpiresAt:        token.Expiry,
		RefreshExpiresAt: previous.Credentials.RefreshExpiresAt,
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = previous.Credentials.RefreshToken
	} else if pair.RefreshToken != previous.Credentials.RefreshToken {
		pair.RefreshExpiresAt = time.Time{}
	}
	// Zero means the refresh token does not expire (offline tokens)
	if secs, ok := extraSeconds(token, "refresh_expires_in"); ok {
		pair.RefreshExpiresAt = time.Time{}
		if secs > 0 {
			pair.RefreshExpiresAt = now.Add(time.Duration(secs) * time.Second)
		}
	}
	pair.IDToken, _ = token.Extra("id_token").(string)
	if pair.IDToken == "" {
		pair.IDToken = previous.Credentials.IDToken
	}

	var profile credentials.Profile
	if claims, err := credentials.ParseClaims(token.AccessToken); err == nil {
		profile = claims.Profile(c.cfg.ClientID)
		if pair.ExpiresAt.IsZero() {
			pair.ExpiresAt = claims.Expiry()
		}
	} else if pair.IDToken != "" {
		// Opaque access tokens: fall back to the ID token claims
		if profile, err = credentials.ProfileFromToken(pair.IDToken, c.cfg.ClientID); err != nil && previous.Profile.ID == "" {
			return credentials.Session{}, err
		}
	}
	if profile.ID == "" {
		if previous.Profile.ID == "" {
			return credentials.Session{}, fmt.Errorf("%w: no subject in token claims", apperrors.ErrInvalidToken)
		}
		profile = previous.Profile
	}

	return credentials.Session{Credentials: pair, Profile: profile}, nil
}

// extraSeconds reads a numeric token response field.
func extraSeconds(token *oauth2.Token, key string) (int64, bool) {
	switch v := token.Extra(key).(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}
