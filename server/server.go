package server

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"github.com/jrsteele09/artvinci-web/apiclient"
	"github.com/jrsteele09/artvinci-web/credentials"
	"github.com/jrsteele09/artvinci-web/guard"
	"github.com/jrsteele09/artvinci-web/internal/config"
	"github.com/jrsteele09/artvinci-web/session"
	"github.com/jrsteele09/artvinci-web/tokenstore"
	"github.com/rs/zerolog/log"
)

// Sessions is the session provider the handlers drive.
type Sessions interface {
	guard.Sessions
	Signup(ctx context.Context, returnURL string) (string, error)
	Complete(ctx context.Context, state, code string) (string, error)
	Logout(ctx context.Context) (string, error)
}

var _ Sessions = (*session.Provider)(nil)

// Backend is the authorized client for the backend API.
type Backend interface {
	NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error)
	Send(req *http.Request) (*http.Response, error)
	GetJSON(ctx context.Context, path string, out any) error
	FetchProfile(ctx context.Context) (credentials.Profile, error)
}

var _ Backend = (*apiclient.Client)(nil)

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	sessions Sessions
	guard    *guard.Guard
	backend  Backend
	prefs    *tokenstore.Preferences
	pages    map[string]*template.Template
}

func New(config config.Config, sessions Sessions, backend Backend, prefs *tokenstore.Preferences) (*Server, error) {
	if prefs == nil {
		prefs = tokenstore.NewPreferences(tokenstore.NewMemoryBackend(), tokenstore.Theme(config.GetDefaultTheme()))
	}

	pages, err := parsePages()
	if err != nil {
		return nil, fmt.Errorf("[Server New] failed to parse templates: %w", err)
	}

	s := &Server{
		mux:      http.NewServeMux(),
		config:   config,
		sessions: sessions,
		guard:    guard.New(sessions, RouteDashboard),
		backend:  backend,
		prefs:    prefs,
		pages:    pages,
	}
	s.env = config.GetEnv()

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	log.Info().Msgf("[%-19s] %s", colourMethod(method), path)
}

func logError(method, path, error string) {
	log.Error().Msgf("[%-19s] %s %s", colourMethod(method), path, Red+error+ResetColor)
}
