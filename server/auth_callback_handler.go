package server

import (
	"net/http"

	"github.com/jrsteele09/artvinci-web/internal/metrics"
	"github.com/rs/zerolog/log"
)

// LoginHandler sends the browser to the identity provider. It sits behind the
// public guard, so a signed in user lands on the dashboard instead.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loginURL, err := s.sessions.Login(r.Context(), requestedReturnURL(r))
		if err != nil {
			log.Err(err).Msg("Unable to start login")
			redirectWithError(w, r, "/", "Sign in is unavailable, please try again shortly")
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		redirectSuccess(w, r, loginURL)
	}
}

// SignupHandler sends the browser to the provider's registration page.
func (s *Server) SignupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		signupURL, err := s.sessions.Signup(r.Context(), requestedReturnURL(r))
		if err != nil {
			log.Err(err).Msg("Unable to start signup")
			redirectWithError(w, r, "/", "Registration is unavailable, please try again shortly")
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		redirectSuccess(w, r, signupURL)
	}
}

func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// r.FormValue covers query params and form_post responses alike
		state := r.FormValue("state")
		code := r.FormValue("code")

		if errorParam := r.FormValue("error"); errorParam != "" {
			metrics.RecordError("login_callback", errorParam)
			log.Warn().
				Str("error", errorParam).
				Str("description", r.FormValue("error_description")).
				Msg("Identity provider returned an error")
			redirectWithError(w, r, "/", "Sign in was cancelled or refused")
			return
		}

		if code == "" || state == "" {
			http.Error(w, "Missing code or state parameter", http.StatusBadRequest)
			return
		}

		returnURL, err := s.sessions.Complete(r.Context(), state, code)
		if err != nil {
			log.Err(err).Msg("Login callback failed")
			redirectWithError(w, r, "/", "Sign in failed, please try again")
			return
		}

		// Redirect to original destination or dashboard
		if returnURL == "" || returnURL == "/" {
			returnURL = RouteDashboard
		}
		w.Header().Set("Cache-Control", "no-store")
		redirectSuccess(w, r, returnURL)
	}
}

// LogoutHandler ends the session and sends the browser to the provider so its
// own session ends too. Only same-origin POSTs are honoured.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !sameOrigin(r, s.config.GetPublicBaseURL()) {
			metrics.RecordError("logout", "cross_site")
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		logoutURL, err := s.sessions.Logout(r.Context())
		if err != nil {
			log.Err(err).Msg("Provider logout unavailable, session cleared locally")
		}
		if logoutURL == "" {
			logoutURL = "/"
		}
		w.Header().Set("Cache-Control", "no-store")
		redirectSuccess(w, r, logoutURL)
	}
}
