package server

import (
	"net/http"

	"github.com/jrsteele09/artvinci-web/guard"
	"github.com/jrsteele09/artvinci-web/internal/metrics"
)

func (s *Server) initRoutes() {
	open := s.HTMLMiddleWare(s.guard.Require(guard.Open))
	protected := s.HTMLMiddleWare(s.guard.Require(guard.Protected))
	publicOnly := s.HTMLMiddleWare(s.guard.Require(guard.Public))

	// Pages
	s.RegisterRouteHandler("GET "+RouteHome, ChainMiddleware(s.PageHandler("home.html", "Home"), open...))
	s.RegisterRouteHandler("GET "+RouteAbout, ChainMiddleware(s.PageHandler("about.html", "About"), open...))
	s.RegisterRouteHandler("GET "+RouteGallery, ChainMiddleware(s.PageHandler("gallery.html", "Gallery"), open...))
	s.RegisterRouteHandler("GET "+RouteContact, ChainMiddleware(s.PageHandler("coming_soon.html", "Contact"), open...))
	s.RegisterRouteHandler("GET "+RouteStore, ChainMiddleware(s.PageHandler("coming_soon.html", "Store"), open...))
	s.RegisterRouteHandler("GET "+RouteArtists, ChainMiddleware(s.PageHandler("coming_soon.html", "Artists"), open...))
	s.RegisterRouteHandler("GET "+RouteEvents, ChainMiddleware(s.EventsHandler(), open...))
	s.RegisterRouteHandler("GET "+RouteEventDetail, ChainMiddleware(s.EventDetailHandler(), open...))

	// Protected pages
	s.RegisterRouteHandler("GET "+RouteDashboard, ChainMiddleware(s.DashboardHandler(), protected...))
	s.RegisterRouteHandler("GET "+RouteEventCreate, ChainMiddleware(s.EventCreateHandler(), protected...))
	s.RegisterRouteHandler("GET "+RouteEventEdit, ChainMiddleware(s.EventEditHandler(), protected...))

	// LOGIN
	s.RegisterRouteHandler("GET "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), publicOnly...))
	s.RegisterRouteHandler("GET "+RouteAuthSignup, ChainMiddleware(s.SignupHandler(), publicOnly...))
	s.RegisterRouteHandler("GET "+RouteCallback, ChainMiddleware(s.OAuthCallbackHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("POST "+RouteCallback, ChainMiddleware(s.OAuthCallbackHandler(), s.HTMLMiddleWare()...)) // For form_post response mode
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.HTMLMiddleWare()...))

	// API routes
	s.RegisterRouteHandler("GET "+RouteAPISession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAPIProfile, ChainMiddleware(s.ProfileHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAPITheme, ChainMiddleware(s.ThemeHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPITheme, ChainMiddleware(s.ThemeToggleHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler(RouteAPIProxy, ChainMiddleware(s.ProxyHandler(), s.APIMiddleware()...))

	s.RegisterRouteHandler("GET "+RouteMetrics, metrics.Handler())

	s.RegisterRouteHandler("GET "+RouteStaticCSS, ChainMiddleware(s.serveFileHandler(), s.StaticMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteStaticJS, ChainMiddleware(s.serveFileHandler(), s.StaticMiddleware()...))
	s.RegisterRouteFunc("/", s.NotFoundHandler())
}

// NotFoundHandler answers any path no other route claims.
func (s *Server) NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logError(r.Method, r.URL.Path, "not found")
		http.Error(w, "404 - Page Not Found", http.StatusNotFound)
	}
}
