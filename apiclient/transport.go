// Package apiclient sends backend API requests with the session's bearer
// token, refreshing and retrying once when the backend answers 401.
package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/artvinci-web/credentials"
	"github.com/jrsteele09/artvinci-web/identity"
	apperrors "github.com/jrsteele09/artvinci-web/internal/errors"
	"github.com/jrsteele09/artvinci-web/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	HeaderRequestID = "X-Request-ID"

	// DefaultMinValidity is the access token lifetime below which a request
	// refreshes before it is sent.
	DefaultMinValidity = 30 * time.Second
)

// Identity is the part of identity.Client the pipeline needs.
type Identity interface {
	Ready() <-chan struct{}
	Session() (credentials.Session, bool)
	Refresh(ctx context.Context, minValidity time.Duration) (credentials.Pair, error)
	RefreshRejected(ctx context.Context, accessToken string) (credentials.Pair, error)
}

var _ Identity = (*identity.Client)(nil)

// Escalator is told when the session holding accessToken can no longer be
// recovered, and returns the login URL to send the user to (empty when
// throttled).
type Escalator interface {
	Expire(ctx context.Context, accessToken, returnURL string) (string, error)
}

// Transport is an http.RoundTripper that authorizes requests. Each request
// gets at most one refresh-and-retry.
type Transport struct {
	Base        http.RoundTripper
	Identity    Identity
	Escalator   Escalator
	MinValidity time.Duration
}

var _ http.RoundTripper = (*Transport)(nil)

// NewTransport creates a transport over base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, id Identity, escalator Escalator) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		Base:        base,
		Identity:    id,
		Escalator:   escalator,
		MinValidity: DefaultMinValidity,
	}
}

// RoundTrip sends req with the current access token. A 401 triggers one
// refresh and one retry; a second 401 or a failed refresh ends the session and
// yields a SessionExpiredError wrapping the AuthorizationError. Transport
// failures yield a NetworkError. All other responses are returned untouched.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	base, err := prepare(req)
	if err != nil {
		return nil, err
	}

	select {
	case <-t.Identity.Ready():
	case <-ctx.Done():
		return nil, fmt.Errorf("[apiclient RoundTrip] waiting for identity: %w", ctx.Err())
	}

	accessToken, err := t.accessToken(ctx)
	if err != nil {
		if apperrors.IsRefreshError(err) {
			return nil, t.escalate(ctx, "", err)
		}
		return nil, err
	}

	resp, err := t.dispatch(base, accessToken)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	discard(resp)

	rejected := &apperrors.AuthorizationError{
		StatusCode: resp.StatusCode,
		Method:     req.Method,
		URL:        redactedURL(req),
	}

	// Refresh is shared; the retry stays local to this request
	pair, err := t.Identity.RefreshRejected(ctx, accessToken)
	if err != nil {
		if apperrors.IsRefreshError(err) {
			return nil, t.escalate(ctx, accessToken, rejected)
		}
		log.Warn().Err(err).Str("url", rejected.URL).Msg("Refresh after 401 failed")
		return nil, err
	}

	metrics.RecordRetry()
	resp, err = t.dispatch(base, pair.AccessToken)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	discard(resp)

	rejected.Retried = true
	return nil, t.escalate(ctx, pair.AccessToken, rejected)
}

// accessToken returns a token valid for MinValidity, or "" when there is no
// session and the request goes out anonymously.
func (t *Transport) accessToken(ctx context.Context) (string, error) {
	if _, ok := t.Identity.Session(); !ok {
		return "", nil
	}
	pair, err := t.Identity.Refresh(ctx, t.MinValidity)
	if err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

func (t *Transport) dispatch(base *http.Request, accessToken string) (*http.Response, error) {
	out := base.Clone(base.Context())
	if base.GetBody != nil {
		body, err := base.GetBody()
		if err != nil {
			return nil, fmt.Errorf("[apiclient dispatch] replay body: %w", err)
		}
		out.Body = body
	}
	if accessToken != "" {
		out.Header.Set("Authorization", "Bearer "+accessToken)
	} else {
		out.Header.Del("Authorization")
	}

	start := time.Now()
	resp, err := t.Base.RoundTrip(out)
	if err != nil {
		metrics.RecordError("api_request", "network")
		return nil, &apperrors.NetworkError{Op: out.Method + " " + redactedURL(out), Cause: err}
	}
	metrics.RecordAPIRequest(out.Method, resp.StatusCode, time.Since(start).Seconds())
	log.Debug().
		Str("request_id", out.Header.Get(HeaderRequestID)).
		Str("method", out.Method).
		Str("url", redactedURL(out)).
		Int("status", resp.StatusCode).
		Msg("API request")
	return resp, nil
}

func (t *Transport) escalate(ctx context.Context, accessToken string, cause error) error {
	expired := &apperrors.SessionExpiredError{Cause: cause}
	if t.Escalator == nil {
		return expired
	}

	loginURL, err := t.Escalator.Expire(ctx, accessToken, ReturnURL(ctx))
	if err != nil {
		log.Err(err).Msg("Unable to build login redirect for expired session")
	}
	expired.LoginURL = loginURL
	return expired
}

// prepare clones req so the caller's request is never modified, makes the
// body replayable and stamps a request ID. The caller's body is consumed and
// closed; every dispatch reads a fresh copy from GetBody.
func prepare(req *http.Request) (*http.Request, error) {
	base := req.Clone(req.Context())

	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			data, err := io.ReadAll(req.Body)
			if err != nil {
				_ = req.Body.Close()
				return nil, fmt.Errorf("[apiclient prepare] read body: %w", err)
			}
			base.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(data)), nil
			}
			base.ContentLength = int64(len(data))
		}
		_ = req.Body.Close()
	}

	if base.Header.Get(HeaderRequestID) == "" {
		base.Header.Set(HeaderRequestID, uuid.NewString())
	}
	return base, nil
}

// discard drains and closes a response that will not reach the caller so
// its connection can be reused.
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func redactedURL(req *http.Request) string {
	u := *req.URL
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

type returnURLKey struct{}

// WithReturnURL records the page the user is on, so an expired session can
// send them back there after logging in again.
func WithReturnURL(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, returnURLKey{}, path)
}

// ReturnURL returns the page recorded by WithReturnURL, or "/".
func ReturnURL(ctx context.Context) string {
	if path, ok := ctx.Value(returnURLKey{}).(string); ok && path != "" {
		return path
	}
	return "/"
}
