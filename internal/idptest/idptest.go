// Package idptest runs a minimal Keycloak-style OpenID Connect provider for
// tests: discovery, JWKS, authorization code + PKCE, refresh token grant,
// userinfo and end-session.
package idptest

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/artvinci-web/credentials"
)

const (
	Realm    = "myrealm"
	ClientID = "frontend-mytools"
	keyID    = "idptest-key"
)

// User is an account the provider can log in.
type User struct {
	ID       string
	Username string
	Email    string
	Name     string
	Roles    []string
}

// DefaultUser is logged in by Authorize unless another user is given.
var DefaultUser = User{
	ID:       "user-1",
	Username: "frida",
	Email:    "frida@example.com",
	Name:     "Frida Kahlo",
	Roles:    []string{"artist", "buyer"},
}

type pendingCode struct {
	user          User
	codeChallenge string
	nonce         string
	redirectURI   string
}

type refreshGrant struct {
	user      User
	expiresAt time.Time
}

// Server is a fake identity provider backed by httptest.Server.
type Server struct {
	*httptest.Server

	key *keyPair

	// AccessTTL is the lifetime of issued access tokens.
	AccessTTL time.Duration
	// RefreshTTL is the lifetime of issued refresh tokens.
	RefreshTTL time.Duration
	// RefreshDelay is slept inside the refresh grant before answering.
	RefreshDelay time.Duration

	mu            sync.Mutex
	codes         map[string]pendingCode
	refreshTokens map[string]refreshGrant
	accessTokens  map[string]User
	failRefresh   bool
	failUserInfo  bool
	unavailable   atomic.Bool

	DiscoveryCalls atomic.Int64
	CodeExchanges  atomic.Int64
	RefreshCalls   atomic.Int64
	UserInfoCalls  atomic.Int64
	LogoutCalls    atomic.Int64
}

// New starts a provider. Close it with Server.Close.
func New() *Server {
	key, err := generateRSAKeyPair(keyID, 2048)
	if err != nil {
		panic(fmt.Sprintf("idptest: generate key: %v", err))
	}

	s := &Server{
		key:           key,
		AccessTTL:     5 * time.Minute,
		RefreshTTL:    30 * time.Minute,
		codes:         make(map[string]pendingCode),
		refreshTokens: make(map[string]refreshGrant),
		accessTokens:  make(map[string]User),
	}

	mux := http.NewServeMux()
	prefix := "/realms/" + Realm
	mux.HandleFunc("GET "+prefix+"/.well-known/openid-configuration", s.discovery)
	mux.HandleFunc("GET "+prefix+"/protocol/openid-connect/certs", s.jwks)
	mux.HandleFunc("POST "+prefix+"/protocol/openid-connect/token", s.token)
	mux.HandleFunc("GET "+prefix+"/protocol/openid-connect/userinfo", s.userInfo)
	mux.HandleFunc("GET "+prefix+"/protocol/openid-connect/logout", s.logout)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.unavailable.Load() {
			http.Error(w, "provider unavailable", http.StatusServiceUnavailable)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	return s
}

// BaseURL is the provider root, as configured in KEYCLOAK_URL.
func (s *Server) BaseURL() string {
	return s.URL
}

// Issuer is the realm issuer URL.
func (s *Server) Issuer() string {
	return s.URL + "/realms/" + Realm
}

// SetUnavailable makes every endpoint answer 503.
func (s *Server) SetUnavailable(down bool) {
	s.unavailable.Store(down)
}

// FailRefresh makes the refresh grant answer invalid_grant.
func (s *Server) FailRefresh(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = fail
}

// FailUserInfo makes userinfo answer 401 for every token.
func (s *Server) FailUserInfo(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUserInfo = fail
}

// RevokeAll ends every session: access and refresh tokens stop working.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = make(map[string]refreshGrant)
	s.accessTokens = make(map[string]User)
}

// IsActive reports whether accessToken was issued by the provider and not revoked.
func (s *Server) IsActive(accessToken string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.accessTokens[accessToken]
	return ok
}

// Authorize plays the browser and the login form: it follows authURL as the
// given user (DefaultUser when none) and returns the code and state the
// provider would send to the redirect URI.
func (s *Server) Authorize(authURL string, user ...User) (code, state string, err error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", "", err
	}
	q := u.Query()
	if q.Get("client_id") != ClientID {
		return "", "", fmt.Errorf("idptest: unexpected client_id %q", q.Get("client_id"))
	}
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		return "", "", fmt.Errorf("idptest: PKCE S256 challenge required")
	}

	who := DefaultUser
	if len(user) > 0 {
		who = user[0]
	}

	code = randomString()
	s.mu.Lock()
	s.codes[code] = pendingCode{
		user:          who,
		codeChallenge: q.Get("code_challenge"),
		nonce:         q.Get("nonce"),
		redirectURI:   q.Get("redirect_uri"),
	}
	s.mu.Unlock()
	return code, q.Get("state"), nil
}

// IssueSession mints a token set for user without the browser flow, as if
// the user had logged in earlier. accessTTL overrides AccessTTL when non-zero.
func (s *Server) IssueSession(user User, accessTTL time.Duration) (access, refresh, idToken string, expiresAt time.Time) {
	if accessTTL == 0 {
		accessTTL = s.AccessTTL
	}
	expiresAt = time.Now().Add(accessTTL)
	access = s.issueAccessToken(user, expiresAt)
	refresh = s.issueRefreshToken(user)
	idToken = s.signToken(s.idClaims(user, ""))
	return access, refresh, idToken, expiresAt
}

// Session mints a token set for user and returns it as a stored session.
func (s *Server) Session(user User, accessTTL time.Duration) credentials.Session {
	access, refresh, idToken, expiresAt := s.IssueSession(user, accessTTL)
	profile, err := credentials.ProfileFromToken(access, ClientID)
	if err != nil {
		panic(fmt.Sprintf("idptest: decode issued token: %v", err))
	}
	return credentials.Session{
		Credentials: credentials.Pair{
			AccessToken:  access,
			RefreshToken: refresh,
			IDToken:      idToken,
			ExpiresAt:    expiresAt,
		},
		Profile: profile,
	}
}

func (s *Server) discovery(w http.ResponseWriter, _ *http.Request) {
	s.DiscoveryCalls.Add(1)
	oidcBase := s.Issuer() + "/protocol/openid-connect"
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                s.Issuer(),
		"authorization_endpoint":                oidcBase + "/auth",
		"token_endpoint":                        oidcBase + "/token",
		"userinfo_endpoint":                     oidcBase + "/userinfo",
		"jwks_uri":                              oidcBase + "/certs",
		"end_session_endpoint":                  oidcBase + "/logout",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{"S256"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
	})
}

func (s *Server) jwks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, jwks{Keys: []jwk{s.key.toJWK()}})
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.exchangeCode(w, r)
	case "refresh_token":
		s.refreshGrant(w, r)
	default:
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type")
	}
}

func (s *Server) exchangeCode(w http.ResponseWriter, r *http.Request) {
	s.CodeExchanges.Add(1)
	code := r.PostForm.Get("code")

	s.mu.Lock()
	pending, ok := s.codes[code]
	delete(s.codes, code)
	s.mu.Unlock()

	if !ok {
		oauthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	hash := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
	if base64.RawURLEncoding.EncodeToString(hash[:]) != pending.codeChallenge {
		oauthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	if pending.redirectURI != r.PostForm.Get("redirect_uri") {
		oauthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	s.writeTokens(w, pending.user, pending.nonce)
}

func (s *Server) refreshGrant(w http.ResponseWriter, r *http.Request) {
	s.RefreshCalls.Add(1)
	if s.RefreshDelay > 0 {
		time.Sleep(s.RefreshDelay)
	}

	refresh := r.PostForm.Get("refresh_token")

	s.mu.Lock()
	grant, ok := s.refreshTokens[refresh]
	fail := s.failRefresh
	if ok {
		// Rotation: a refresh token is single use
		delete(s.refreshTokens, refresh)
	}
	s.mu.Unlock()

	if fail || !ok || time.Now().After(grant.expiresAt) {
		oauthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	s.writeTokens(w, grant.user, "")
}

func (s *Server) userInfo(w http.ResponseWriter, r *http.Request) {
	s.UserInfoCalls.Add(1)
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	s.mu.Lock()
	user, ok := s.accessTokens[token]
	fail := s.failUserInfo
	s.mu.Unlock()

	if fail || !ok {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		oauthError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sub":                user.ID,
		"preferred_username": user.Username,
		"email":              user.Email,
		"name":               user.Name,
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.LogoutCalls.Add(1)
	redirect := r.URL.Query().Get("post_logout_redirect_uri")
	if redirect == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (s *Server) writeTokens(w http.ResponseWriter, user User, nonce string) {
	expiresAt := time.Now().Add(s.AccessTTL)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":       s.issueAccessToken(user, expiresAt),
		"token_type":         "Bearer",
		"expires_in":         int(s.AccessTTL.Seconds()),
		"refresh_token":      s.issueRefreshToken(user),
		"refresh_expires_in": int(s.RefreshTTL.Seconds()),
		"id_token":           s.signToken(s.idClaims(user, nonce)),
		"scope":              "openid profile email offline_access",
	})
}

func (s *Server) issueAccessToken(user User, expiresAt time.Time) string {
	token := s.signToken(jwtlib.MapClaims{
		"iss":                s.Issuer(),
		"sub":                user.ID,
		"aud":                "account",
		"azp":                ClientID,
		"typ":                "Bearer",
		"jti":                randomString(),
		"iat":                time.Now().Unix(),
		"exp":                expiresAt.Unix(),
		"preferred_username": user.Username,
		"email":              user.Email,
		"name":               user.Name,
		"realm_access":       map[string]any{"roles": user.Roles},
	})
	s.mu.Lock()
	s.accessTokens[token] = user
	s.mu.Unlock()
	return token
}

func (s *Server) issueRefreshToken(user User) string {
	token := randomString()
	s.mu.Lock()
	s.refreshTokens[token] = refreshGrant{user: user, expiresAt: time.Now().Add(s.RefreshTTL)}
	s.mu.Unlock()
	return token
}

func (s *Server) idClaims(user User, nonce string) jwtlib.MapClaims {
	claims := jwtlib.MapClaims{
		"iss":                s.Issuer(),
		"sub":                user.ID,
		"aud":                ClientID,
		"azp":                ClientID,
		"iat":                time.Now().Unix(),
		"exp":                time.Now().Add(time.Hour).Unix(),
		"preferred_username": user.Username,
		"email":              user.Email,
		"name":               user.Name,
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	return claims
}

func (s *Server) signToken(claims jwtlib.MapClaims) string {
	signed, err := s.key.sign(claims)
	if err != nil {
		panic(fmt.Sprintf("idptest: sign token: %v", err))
	}
	return signed
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func oauthError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func randomString() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
