package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/entra-shell/app"
	"github.com/upb/entra-shell/handlers"
)

const (
	requestTimeout = 60 * time.Second
	// popups wait on the user in the system browser
	popupTimeout = 5 * time.Minute
)

// Route describes one registered endpoint.
type Route struct {
	Method    string
	Path      string
	Protected bool
}

// Table lists every route SetupRoutes registers.
var Table = []Route{
	{http.MethodGet, "/healthz", false},
	{http.MethodGet, "/readyz", false},
	{http.MethodGet, "/auth/login", false},
	{http.MethodPost, "/auth/login/popup", false},
	{http.MethodGet, "/auth/redirect", false},
	{http.MethodGet, "/auth/logout", false},
	{http.MethodPost, "/auth/logout/popup", false},
	{http.MethodGet, "/api/status", false},
	{http.MethodGet, "/api/session", false},
	{http.MethodGet, "/api/profile", true},
	{http.MethodPost, "/api/viewport", false},
	{http.MethodPost, "/api/error/dismiss", false},
	{http.MethodGet, "/", false},
	{http.MethodGet, "/login", false},
	{http.MethodGet, "/profile", true},
}

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{deps.Config.Server.BaseURL(), "http://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.With(middleware.Timeout(requestTimeout)).Get("/healthz", handlers.HealthCheck(deps))
	r.With(middleware.Timeout(requestTimeout)).Get("/readyz", handlers.ReadinessCheck(deps))

	// Sign-in and sign-out
	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Get("/login", handlers.AuthLoginHandler(deps))
			r.Get("/redirect", handlers.AuthRedirectHandler(deps))
			r.Get("/logout", handlers.AuthLogoutHandler(deps))
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(popupTimeout))
			r.Post("/login/popup", handlers.AuthLoginPopupHandler(deps))
			r.Post("/logout/popup", handlers.AuthLogoutPopupHandler(deps))
		})
	})

	// Shell state used by the page script
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Get("/status", handlers.StatusHandler(deps))
		r.Get("/session", handlers.SessionHandler(deps))
		r.Post("/viewport", handlers.ViewportHandler(deps))
		r.Post("/error/dismiss", handlers.DismissErrorHandler(deps))
		r.With(deps.Guard.RequireSession).Get("/profile", handlers.ProfileAPIHandler(deps))
		r.NotFound(handlers.APINotFoundHandler(deps))
	})

	// Views. Any view can receive the identity provider's redirect response.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		if h := deps.AuthHandler(); h != nil {
			r.Use(h.RedirectResponse)
		}
		r.Use(deps.Navigator.Navigation)
		r.Get("/", handlers.HomeView(deps))
		r.Get("/login", handlers.LoginView(deps))
		r.With(deps.Guard.RequireSession).Get("/profile", handlers.ProfileView(deps))

		// Unknown paths keep the layout with an empty outlet
		r.NotFound(handlers.NotFoundView(deps))
	})

	return r
}
