package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/artvinci-web/apiclient"
	"github.com/jrsteele09/artvinci-web/identity"
	"github.com/jrsteele09/artvinci-web/internal/config"
	"github.com/jrsteele09/artvinci-web/internal/idptest"
	"github.com/jrsteele09/artvinci-web/server"
	"github.com/jrsteele09/artvinci-web/session"
	"github.com/jrsteele09/artvinci-web/tokenstore"
	"github.com/stretchr/testify/require"
)

const partnerOrigin = "https://partner.example.com"

type fixture struct {
	idp      *idptest.Server
	store    *tokenstore.Store
	provider *session.Provider
	srv      *server.Server

	mu       sync.Mutex
	lastPath string
	lastAuth string
}

func setupServer(t *testing.T, seeded bool) *fixture {
	t.Helper()
	t.Setenv("ENV", "TEST")
	t.Setenv("APP_NAME", "Artvinci")
	t.Setenv("PUBLIC_BASE_URL", "http://localhost:3000")
	t.Setenv("CORS_ALLOWED_ORIGINS", partnerOrigin)

	f := &fixture{idp: idptest.New()}
	t.Cleanup(f.idp.Close)

	backend := tokenstore.NewMemoryBackend()
	f.store = tokenstore.New(backend)
	if seeded {
		require.NoError(t, f.store.Set(context.Background(), f.idp.Session(idptest.DefaultUser, 0)))
	}

	client := identity.New(identity.Config{
		IssuerURL:             f.idp.Issuer(),
		ClientID:              idptest.ClientID,
		RedirectURL:           "http://localhost:3000/auth/callback",
		PostLogoutRedirectURL: "http://localhost:3000/",
	}, f.store, nil)
	f.provider = session.NewProvider(client, time.Minute)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		f.mu.Lock()
		f.lastPath = r.URL.RequestURI()
		f.lastAuth = token
		f.mu.Unlock()

		switch {
		case r.URL.Path == "/api/events/":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"count":1,"results":[{"slug":"spring-show","title":"Spring Show","location":{"city":"Lisbon","country":"Portugal"}}]}`))
			return
		case r.URL.Path == "/api/events/spring-show/":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"slug":"spring-show","title":"Spring Show","description":"New work in oil."}`))
			return
		case strings.HasPrefix(r.URL.Path, "/api/events/") && r.URL.Path != "/api/events/my-events/":
			http.NotFound(w, r)
			return
		}

		if !f.idp.IsActive(token) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/events/my-events/":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"slug":"studio-night","title":"Studio Night"}]`))
		case "/api/auth/me/":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":7,"username":"frida","email":"frida@example.com","first_name":"Frida","last_name":"Kahlo","role":"curator"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(api.Close)

	apiClient, err := apiclient.NewClient(api.URL+"/api/", apiclient.NewTransport(nil, client, f.provider))
	require.NoError(t, err)

	prefs := tokenstore.NewPreferences(backend, tokenstore.ThemeLight)
	f.srv, err = server.New(config.New(), f.provider, apiClient, prefs)
	require.NoError(t, err)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	f.provider.Start(ctx)
	_, err := f.provider.Wait(ctx)
	require.NoError(t, err)
}

func (f *fixture) do(method, target string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) backendSaw() (path, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPath, f.lastAuth
}

func TestServer_BootingShowsLoading(t *testing.T) {
	f := setupServer(t, true)

	for _, target := range []string{"/", "/dashboard/", "/auth/login"} {
		rec := f.do(http.MethodGet, target)
		require.Equal(t, http.StatusOK, rec.Code, target)
		require.Equal(t, "1", rec.Header().Get("Refresh"), target)
		require.Contains(t, rec.Body.String(), "Loading", target)
	}

	rec := f.do(http.MethodGet, "/api/session")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"phase":"booting","initialized":false,"authenticated":false}`, rec.Body.String())
}

func TestServer_LoginRoundTrip(t *testing.T) {
	f := setupServer(t, false)
	f.start(t)

	rec := f.do(http.MethodGet, "/events/edit/spring-show")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	authURL := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(authURL, f.idp.Issuer()), authURL)

	code, state, err := f.idp.Authorize(authURL)
	require.NoError(t, err)

	rec = f.do(http.MethodGet, "/auth/callback?"+url.Values{"code": {code}, "state": {state}}.Encode())
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/events/edit/spring-show", rec.Header().Get("Location"))

	rec = f.do(http.MethodGet, "/dashboard/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Frida Kahlo")
	require.Contains(t, rec.Body.String(), "Studio Night")

	_, token := f.backendSaw()
	require.True(t, f.idp.IsActive(token))
}

func TestServer_CallbackWithoutReturnGoesToDashboard(t *testing.T) {
	f := setupServer(t, false)
	f.start(t)

	rec := f.do(http.MethodGet, "/auth/login")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	code, state, err := f.idp.Authorize(rec.Header().Get("Location"))
	require.NoError(t, err)

	rec = f.do(http.MethodGet, "/auth/callback?"+url.Values{"code": {code}, "state": {state}}.Encode())
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, server.RouteDashboard, rec.Header().Get("Location"))
}

func TestServer_CallbackErrors(t *testing.T) {
	f := setupServer(t, false)
	f.start(t)

	rec := f.do(http.MethodGet, "/auth/callback?error=access_denied&error_description=cancelled")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/?error="))

	rec = f.do(http.MethodGet, "/auth/callback?state=abc")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/auth/callback?state=unknown&code=abc")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/?error="))
	require.False(t, f.provider.State().Authenticated)
}

func TestServer_PublicOnlyRedirectsAuthenticated(t *testing.T) {
	f := setupServer(t, true)
	f.start(t)

	rec := f.do(http.MethodGet, "/auth/login")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, server.RouteDashboard, rec.Header().Get("Location"))

	rec = f.do(http.MethodGet, "/auth/signup", "HX-Request", "true")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, server.RouteDashboard, rec.Header().Get("HX-Redirect"))
}

func TestServer_SignupGoesToRegistration(t *testing.T) {
	f := setupServer(t, false)
	f.start(t)

	rec := f.do(http.MethodGet, "/auth/signup?return_to=/events")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Contains(t, rec.Header().Get("Location"), "/registrations")
}

func TestServer_OpenPages(t *testing.T) {
	f := setupServer(t, false)
	f.start(t)

	rec := f.do(http.MethodGet, "/events")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Spring Show")
	require.Contains(t, rec.Body.String(), "Lisbon")
	path, token := f.backendSaw()
	require.Equal(t, "/api/events/", path)
	require.Empty(t, token)

	rec = f.do(http.MethodGet, "/events/spring-show")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "New work in oil.")

	rec = f.do(http.MethodGet, "/contact")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Contact Page - Coming Soon")
	require.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))

	rec = f.do(http.MethodGet, "/events/missing")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SessionAndProfile(t *testing.T) {
	f := setupServer(t, true)
	f.start(t)

	rec := f.do(http.MethodGet, "/api/session")
	require.Equal(t, http.StatusOK, rec.Code)
	var state struct {
		Phase         string `json:"phase"`
		Authenticated bool   `json:"authenticated"`
		User          struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.Equal(t, "authenticated", state.Phase)
	require.True(t, state.Authenticated)
	require.Equal(t, "frida", state.User.Username)
	current, ok := f.store.Get()
	require.True(t, ok)
	require.NotContains(t, rec.Body.String(), current.Credentials.AccessToken)

	rec = f.do(http.MethodGet, "/api/profile")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "curator")
}

func TestServer_ProfileRequiresSession(t *testing.T) {
	f := setupServer(t, false)
	f.start(t)

	rec := f.do(http.MethodGet, "/api/profile")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_Theme(t *testing.T) {
	f := setupServer(t, false)
	f.start(t)

	rec := f.do(http.MethodGet, "/api/theme")
	require.JSONEq(t, `{"theme":"light"}`, rec.Body.String())

	rec = f.do(http.MethodPost, "/api/theme")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"theme":"dark"}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/about")
	require.Contains(t, rec.Body.String(), `data-theme="dark"`)
}

func TestServer_ProxyAuthorizesRequests(t *testing.T) {
	f := setupServer(t, true)
	f.start(t)

	rec := f.do(http.MethodGet, "/api/events/my-events/?page=2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Studio Night")
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	path, token := f.backendSaw()
	require.Equal(t, "/api/events/my-events/?page=2", path)
	require.True(t, f.idp.IsActive(token))
}

func TestServer_ProxyExpiredSession(t *testing.T) {
	f := setupServer(t, true)
	f.start(t)
	f.idp.RevokeAll()

	rec := f.do(http.MethodGet, "/api/events/my-events/", "HX-Request", "true", "HX-Current-URL", "http://example.com/dashboard/")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "session_expired", body["error"])
	require.NotEmpty(t, body["login_url"])
	require.Equal(t, body["login_url"], rec.Header().Get("HX-Redirect"))
	require.Equal(t, session.ReadyUnauthenticated, f.provider.State().Phase)
}

func TestServer_ExpiredSessionOnPageRedirectsToLogin(t *testing.T) {
	f := setupServer(t, true)
	f.start(t)
	f.idp.RevokeAll()

	rec := f.do(http.MethodGet, "/dashboard/")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.True(t, strings.HasPrefix(rec.Header().Get("Location"), f.idp.Issuer()))
}

func TestServer_Logout(t *testing.T) {
	f := setupServer(t, true)
	f.start(t)

	// A plain link or image cannot end the session
	rec := f.do(http.MethodGet, "/auth/logout")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.True(t, f.provider.State().Authenticated)

	rec = f.do(http.MethodPost, "/auth/logout", "Sec-Fetch-Site", "cross-site")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.True(t, f.provider.State().Authenticated)

	rec = f.do(http.MethodPost, "/auth/logout", "Origin", "https://evil.example.com")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.True(t, f.provider.State().Authenticated)

	rec = f.do(http.MethodPost, "/auth/logout", "Sec-Fetch-Site", "same-origin", "Origin", "http://localhost:3000")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	logoutURL, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "http://localhost:3000/", logoutURL.Query().Get("post_logout_redirect_uri"))
	require.False(t, f.provider.State().Authenticated)

	rec = f.do(http.MethodPost, "/auth/logout")
	require.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestServer_Cors(t *testing.T) {
	f := setupServer(t, false)
	f.start(t)

	rec := f.do(http.MethodOptions, "/api/events/", "Origin", partnerOrigin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, partnerOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = f.do(http.MethodOptions, "/api/events/", "Origin", "https://evil.example.com")
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_StaticAndNotFound(t *testing.T) {
	f := setupServer(t, false)

	rec := f.do(http.MethodGet, "/css/site.css")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/css")
	require.NotEmpty(t, rec.Header().Get("Cache-Control"))

	rec = f.do(http.MethodGet, "/nowhere")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
}
