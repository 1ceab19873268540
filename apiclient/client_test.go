package apiclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/artvinci-web/apiclient"
	"github.com/jrsteele09/artvinci-web/identity"
	apperrors "github.com/jrsteele09/artvinci-web/internal/errors"
	"github.com/jrsteele09/artvinci-web/internal/idptest"
	"github.com/jrsteele09/artvinci-web/session"
	"github.com/jrsteele09/artvinci-web/tokenstore"
	"github.com/stretchr/testify/require"
)

type stack struct {
	idp      *idptest.Server
	store    *tokenstore.Store
	client   *identity.Client
	provider *session.Provider
	api      *apiclient.Client

	mu       sync.Mutex
	rejected map[string]bool
}

// setupStack wires the real identity client and session provider to a
// backend that accepts any live provider token except those in rejected.
func setupStack(t *testing.T, seeded bool) *stack {
	t.Helper()
	s := &stack{idp: idptest.New(), rejected: make(map[string]bool)}
	t.Cleanup(s.idp.Close)

	s.store = tokenstore.New(tokenstore.NewMemoryBackend())
	if seeded {
		require.NoError(t, s.store.Set(context.Background(), s.idp.Session(idptest.DefaultUser, 0)))
	}

	s.client = identity.New(identity.Config{
		IssuerURL:             s.idp.Issuer(),
		ClientID:              idptest.ClientID,
		RedirectURL:           "http://localhost:3000/auth/callback",
		PostLogoutRedirectURL: "http://localhost:3000/",
	}, s.store, nil)
	s.provider = session.NewProvider(s.client, time.Minute)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		rejected := s.rejected[token]
		s.mu.Unlock()
		if rejected || !s.idp.IsActive(token) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch r.URL.Path {
		case "/api/auth/me/":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":7,"username":"frida","email":"frida@example.com","first_name":"Frida","last_name":"Kahlo","role":"curator"}`))
		case "/api/events/":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"slug":"spring-show"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(backend.Close)

	api, err := apiclient.NewClient(backend.URL+"/api/", apiclient.NewTransport(nil, s.client, s.provider))
	require.NoError(t, err)
	s.api = api

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.provider.Start(ctx)
	_, err = s.provider.Wait(ctx)
	require.NoError(t, err)
	return s
}

func (s *stack) reject(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[token] = true
}

func TestClient_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	s := setupStack(t, true)
	current, ok := s.store.Get()
	require.True(t, ok)
	s.reject(current.Credentials.AccessToken)

	const requests = 10
	errs := make([]error, requests)
	var wg sync.WaitGroup
	for i := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var events []map[string]string
			errs[i] = s.api.GetJSON(context.Background(), "/events/", &events)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), s.idp.RefreshCalls.Load())
	require.True(t, s.provider.State().Authenticated)
}

func TestClient_RevokedSessionExpires(t *testing.T) {
	s := setupStack(t, true)
	require.True(t, s.provider.State().Authenticated)
	s.idp.RevokeAll()

	var events []map[string]string
	err := s.api.GetJSON(context.Background(), "/events/", &events)

	var expired *apperrors.SessionExpiredError
	require.ErrorAs(t, err, &expired)
	require.NotEmpty(t, expired.LoginURL)
	require.Equal(t, int64(1), s.idp.RefreshCalls.Load())

	state := s.provider.State()
	require.Equal(t, session.ReadyUnauthenticated, state.Phase)
	require.False(t, state.Authenticated)
}

func TestClient_FetchProfile(t *testing.T) {
	s := setupStack(t, true)

	profile, err := s.api.FetchProfile(context.Background())
	require.NoError(t, err)
	require.Equal(t, idptest.DefaultUser.ID, profile.ID)
	require.True(t, profile.HasRole("curator"))
	require.True(t, profile.HasRole("artist"))

	stored, ok := s.store.Get()
	require.True(t, ok)
	require.Equal(t, profile, stored.Profile)
}

func TestClient_StatusError(t *testing.T) {
	s := setupStack(t, true)

	err := s.api.GetJSON(context.Background(), "/missing/", nil)
	var statusErr *apiclient.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestClient_URL(t *testing.T) {
	api, err := apiclient.NewClient("http://localhost:8888/api/", apiclient.NewTransport(nil, newFakeIdentity(false), nil))
	require.NoError(t, err)

	require.Equal(t, "http://localhost:8888/api/auth/me/", api.URL("/auth/me/"))
	require.Equal(t, "http://localhost:8888/api/events/?page=2", api.URL("events/?page=2"))

	_, err = apiclient.NewClient("/api", apiclient.NewTransport(nil, newFakeIdentity(false), nil))
	require.Error(t, err)
}

func TestClient_SendJSON(t *testing.T) {
	type received struct {
		contentType string
		body        map[string]string
	}
	seen := make(chan received, 1)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		seen <- received{contentType: r.Header.Get("Content-Type"), body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(backend.Close)

	api, err := apiclient.NewClient(backend.URL, apiclient.NewTransport(nil, newFakeIdentity(false), nil))
	require.NoError(t, err)

	err = api.SendJSON(context.Background(), http.MethodPatch, "/auth/me/", map[string]string{"bio": "painter"}, nil)
	require.NoError(t, err)

	got := <-seen
	require.Equal(t, "application/json", got.contentType)
	require.Equal(t, "painter", got.body["bio"])
}
