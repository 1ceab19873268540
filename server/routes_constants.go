package server

import "github.com/jrsteele09/artvinci-web/internal/config"

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Public pages
	RouteHome        = "/{$}"
	RouteAbout       = "/about"
	RouteGallery     = "/gallery"
	RouteContact     = "/contact"
	RouteStore       = "/store"
	RouteArtists     = "/artists"
	RouteEvents      = "/events"
	RouteEventDetail = "/events/{slug}"

	// Protected pages
	RouteDashboard   = "/dashboard/"
	RouteEventCreate = "/events/create"
	RouteEventEdit   = "/events/edit/{slug}"

	// Auth Routes
	RouteAuthLogin  = "/auth/login"
	RouteAuthSignup = "/auth/signup"
	RouteAuthLogout = "/auth/logout"
	RouteCallback   = config.RouteCallback

	// API Routes
	RouteAPISession = "/api/session"
	RouteAPIProfile = "/api/profile"
	RouteAPITheme   = "/api/theme"
	RouteAPIProxy   = "/api/"

	RouteMetrics = "/metrics"

	// Static Asset Routes (patterns)
	RouteStaticCSS = "/css/{file}"
	RouteStaticJS  = "/js/{file}"
)

// Backend API paths the pages read from.
const (
	backendEvents   = "/events/"
	backendMyEvents = "/events/my-events/"
)
