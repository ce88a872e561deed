package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-coord/internal/slots"
)

// Router wires the coordination API endpoints.
type Router struct {
	lockHandler  *LockHandler
	slotsHandler *SlotsHandler
	slots        *slots.Service
	logger       zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	LockHandler  *LockHandler
	SlotsHandler *SlotsHandler
	Slots        *slots.Service
	Logger       zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	return &Router{
		lockHandler:  config.LockHandler,
		slotsHandler: config.SlotsHandler,
		slots:        config.Slots,
		logger:       config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", rt.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/namespaces/{namespace}/locks", func(r chi.Router) {
			r.Post("/", rt.lockHandler.Acquire)
			r.Delete("/", rt.lockHandler.Release)
			r.Post("/refresh", rt.lockHandler.Refresh)
		})

		r.Route("/slots/{principal}", func(r chi.Router) {
			r.Post("/acquire", rt.slotsHandler.AcquireSlot)
			r.Post("/release", rt.slotsHandler.ReleaseSlot)
		})

		r.Route("/quota/{principal}", func(r chi.Router) {
			r.Post("/reserve", rt.slotsHandler.ReserveQuota)
			r.Post("/consume", rt.slotsHandler.ConsumeQuota)
			r.Delete("/", rt.slotsHandler.ResetQuota)
		})

		r.Get("/stats", rt.slotsHandler.Stats)
	})

	return r
}

// handleHealth reports store liveness, not just process liveness.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !rt.slots.HealthCheck(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
