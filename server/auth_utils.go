package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/artvinci-web/guard"
	"github.com/jrsteele09/artvinci-web/identity"
	"github.com/rs/zerolog/log"
)

// redirectSuccess helper for htmx-aware success redirects
func redirectSuccess(w http.ResponseWriter, r *http.Request, path string) {
	guard.Redirect(w, r, path)
}

// redirectWithError helper for htmx-aware error redirects
func redirectWithError(w http.ResponseWriter, r *http.Request, path, errorMsg string) {
	guard.Redirect(w, r, path+"?error="+url.QueryEscape(errorMsg))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("Unable to write JSON response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// requestedReturnURL is the local page a login should come back to.
func requestedReturnURL(r *http.Request) string {
	return identity.SafeReturnURL(r.URL.Query().Get("return_to"), "/")
}

// sameOrigin rejects requests a browser marks as cross-site. Sec-Fetch-Site is
// preferred; older browsers are checked by Origin. Requests carrying neither
// (curl, tests) are allowed.
func sameOrigin(r *http.Request, publicBaseURL string) bool {
	switch r.Header.Get("Sec-Fetch-Site") {
	case "same-origin", "none":
		return true
	case "":
	default:
		return false
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.TrimRight(origin, "/") == publicBaseURL || u.Host == r.Host
}

// currentPage is the page the browser is showing when it makes an API call.
// htmx sends it in HX-Current-URL; plain fetches fall back to the Referer.
func currentPage(r *http.Request) string {
	for _, header := range []string{"HX-Current-URL", "Referer"} {
		raw := r.Header.Get(header)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Host != "" && u.Host != r.Host) {
			continue
		}
		return identity.SafeReturnURL(u.RequestURI(), "/")
	}
	return "/"
}
