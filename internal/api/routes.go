package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterDeps groups the handlers mounted by SetupRoutes. Health and Tracking
// may be nil.
type RouterDeps struct {
	Handlers       *Handlers
	Health         *HealthChecker
	Tracking       http.Handler
	AllowedOrigins []string
}

// SetupRoutes configures all service routes.
func SetupRoutes(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Server-Identity", "formbridge-v1.0")
			next.ServeHTTP(w, req)
		})
	})

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	// Deployed bridge scripts report outcomes from arbitrary customer pages,
	// so credentials stay off.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))

	if deps.Health != nil {
		r.Get("/health", deps.Health.HandleHealth)
		r.Get("/health/live", deps.Health.HandleLiveness)
		r.Get("/health/ready", deps.Health.HandleReadiness)
	} else {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		})
	}

	if deps.Tracking != nil {
		r.Mount("/", deps.Tracking)
	}

	h := deps.Handlers
	r.Route("/api", func(r chi.Router) {
		r.Route("/bridges", func(r chi.Router) {
			r.Post("/", h.GenerateBridge)
			r.Get("/{formID}/latest", h.LatestBridge)
			r.Get("/{formID}/versions", h.BridgeVersions)
		})
		r.Route("/widgets", func(r chi.Router) {
			r.Get("/", h.ListWidgets)
			r.Get("/{id}/schedule", h.WidgetSchedule)
			r.Put("/{id}", h.PutWidget)
		})
	})

	return r
}
