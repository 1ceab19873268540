package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/jrsteele09/artvinci-web/apiclient"
	"github.com/jrsteele09/artvinci-web/guard"
	apperrors "github.com/jrsteele09/artvinci-web/internal/errors"
	"github.com/jrsteele09/artvinci-web/tokenstore"
	"github.com/rs/zerolog/log"
)

const maxProxyBody = 10 << 20

// Request headers passed from the browser to the backend. Authorization is
// always set by the pipeline and never forwarded.
var forwardedRequestHeaders = []string{
	"Accept",
	"Accept-Language",
	"Content-Type",
	"If-None-Match",
	"If-Modified-Since",
}

var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
	"Set-Cookie":          true,
}

// SessionHandler reports the session state as JSON.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.sessions.State())
	}
}

// ProfileHandler asks the backend who the user is and stores the answer.
func (s *Server) ProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.sessions.State().Authenticated {
			writeJSONError(w, http.StatusUnauthorized, "unauthenticated", "Sign in required")
			return
		}
		profile, err := s.backend.FetchProfile(apiclient.WithReturnURL(r.Context(), currentPage(r)))
		if err != nil {
			s.apiFailed(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

type themeResponse struct {
	Theme tokenstore.Theme `json:"theme"`
}

func (s *Server) ThemeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		theme, err := s.prefs.Theme(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("Unable to read theme preference")
		}
		writeJSON(w, http.StatusOK, themeResponse{Theme: theme})
	}
}

// ThemeToggleHandler flips the theme. A failed save still answers with the
// theme in effect.
func (s *Server) ThemeToggleHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		theme, err := s.prefs.ToggleTheme(r.Context())
		if err != nil {
			log.Err(err).Msg("Unable to save theme preference")
			writeJSON(w, http.StatusInternalServerError, themeResponse{Theme: theme})
			return
		}
		writeJSON(w, http.StatusOK, themeResponse{Theme: theme})
	}
}

// ProxyHandler forwards /api/... to the backend through the authorized
// request pipeline.
func (s *Server) ProxyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.EscapedPath(), strings.TrimSuffix(RouteAPIProxy, "/"))
		if r.URL.RawQuery != "" {
			path += "?" + r.URL.RawQuery
		}

		ctx := apiclient.WithReturnURL(r.Context(), currentPage(r))
		var body io.Reader
		if r.Body != nil && r.Body != http.NoBody {
			body = http.MaxBytesReader(w, r.Body, maxProxyBody)
		}
		req, err := s.backend.NewRequest(ctx, r.Method, path, body)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "Malformed API path")
			return
		}
		for _, header := range forwardedRequestHeaders {
			if value := r.Header.Get(header); value != "" {
				req.Header.Set(header, value)
			}
		}

		resp, err := s.backend.Send(req)
		if err != nil {
			s.apiFailed(w, r, err)
			return
		}
		defer resp.Body.Close()

		for name, values := range resp.Header {
			if hopByHopHeaders[http.CanonicalHeaderKey(name)] {
				continue
			}
			for _, value := range values {
				w.Header().Add(name, value)
			}
		}
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("Proxy response copy interrupted")
		}
	}
}

// apiFailed maps pipeline errors onto JSON responses. An expired session
// answers 401 with the login URL; htmx callers are redirected to it.
func (s *Server) apiFailed(w http.ResponseWriter, r *http.Request, err error) {
	var expired *apperrors.SessionExpiredError
	var statusErr *apiclient.StatusError
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &expired):
		if expired.LoginURL != "" && guard.IsHTMX(r) {
			w.Header().Set("HX-Redirect", expired.LoginURL)
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":             "session_expired",
			"error_description": "Your session has expired, please sign in again",
			"login_url":         expired.LoginURL,
		})
	case errors.As(err, &statusErr):
		writeJSONError(w, statusErr.StatusCode, "backend_error", statusErr.Body)
	case errors.As(err, &tooLarge):
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request_too_large", "Request body too large")
	case errors.Is(err, context.Canceled):
		// Client went away
		log.Debug().Str("path", r.URL.Path).Msg("API request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, http.StatusGatewayTimeout, "timeout", "The server took too long to respond")
	case apperrors.IsNetworkError(err):
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("Backend unreachable")
		writeJSONError(w, http.StatusBadGateway, "backend_unavailable", "Unable to reach the server right now")
	default:
		log.Err(err).Str("path", r.URL.Path).Msg("API request failed")
		writeJSONError(w, http.StatusBadGateway, "backend_error", "Unable to complete the request")
	}
}
