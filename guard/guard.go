// Package guard decides what a route may show for the current session.
package guard

import (
	"context"
	"html/template"
	"net/http"

	"github.com/jrsteele09/artvinci-web/internal/metrics"
	"github.com/jrsteele09/artvinci-web/session"
	"github.com/rs/zerolog/log"
)

// DefaultLanding is where authenticated users are sent from public-only pages.
const DefaultLanding = "/dashboard/"

// Visibility says who a route is for.
type Visibility int

const (
	// Public routes are for visitors without a session.
	Public Visibility = iota
	// Protected routes need an authenticated session.
	Protected
	// Open routes render for everyone once the session is known.
	Open
)

func (v Visibility) String() string {
	switch v {
	case Protected:
		return "protected"
	case Open:
		return "open"
	default:
		return "public"
	}
}

// Decision is what a guarded route does for one request.
type Decision int

const (
	Loading Decision = iota
	Render
	Login
	RedirectLanding
)

func (d Decision) String() string {
	switch d {
	case Loading:
		return "loading"
	case Render:
		return "render"
	case Login:
		return "login"
	case RedirectLanding:
		return "redirect_landing"
	default:
		return "unknown"
	}
}

// Decide maps the session state onto a decision. Nothing is rendered until
// the session has left Booting.
func Decide(v Visibility, state session.State) Decision {
	if state.Phase == session.Booting {
		return Loading
	}
	switch v {
	case Protected:
		if state.Authenticated {
			return Render
		}
		return Login
	case Open:
		return Render
	default:
		if state.Authenticated {
			return RedirectLanding
		}
		return Render
	}
}

// Sessions is the part of session.Provider the guard reads.
type Sessions interface {
	State() session.State
	Login(ctx context.Context, returnURL string) (string, error)
}

var _ Sessions = (*session.Provider)(nil)

// Guard applies decisions to HTTP requests.
type Guard struct {
	sessions Sessions
	landing  string
}

// New creates a guard. An empty landing uses DefaultLanding.
func New(sessions Sessions, landing string) *Guard {
	if landing == "" {
		landing = DefaultLanding
	}
	return &Guard{sessions: sessions, landing: landing}
}

// Require returns middleware that only lets a request through to next when
// the decision is Render.
func (g *Guard) Require(v Visibility) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			switch Decide(v, g.sessions.State()) {
			case Render:
				next(w, r)
			case Loading:
				writeLoading(w)
			case RedirectLanding:
				Redirect(w, r, g.landing)
			case Login:
				g.login(w, r)
			}
		}
	}
}

func (g *Guard) login(w http.ResponseWriter, r *http.Request) {
	loginURL, err := g.sessions.Login(r.Context(), r.URL.RequestURI())
	if err != nil {
		metrics.RecordError("guard_login", "provider")
		log.Err(err).Str("path", r.URL.Path).Msg("Unable to start login")
		http.Error(w, "Sign in is unavailable, please try again shortly", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	Redirect(w, r, loginURL)
}

var loadingPage = template.Must(template.New("loading").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Loading</title></head>
<body><div class="loading" aria-busy="true">Loading…</div></body>
</html>
`))

// writeLoading renders the placeholder shown while the session is booting.
// The browser asks again after a second.
func writeLoading(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Refresh", "1")
	w.WriteHeader(http.StatusOK)
	_ = loadingPage.Execute(w, nil)
}

// Redirect sends the browser to target. htmx requests get an HX-Redirect
// header instead of a 303 so the whole page navigates.
func Redirect(w http.ResponseWriter, r *http.Request, target string) {
	if IsHTMX(r) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// IsHTMX reports whether the request was initiated by htmx.
func IsHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
