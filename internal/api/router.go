package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/tutormesh/internal/config"
	"github.com/ashureev/tutormesh/internal/identity"
	"github.com/ashureev/tutormesh/internal/middleware"
	"github.com/ashureev/tutormesh/web"
)

// NewRouter builds the HTTP handler for the UI bridge and the browser client.
func NewRouter(cfg *config.Config, h *BridgeHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	h.RegisterRoutes(r)

	// Browser client (catch-all).
	r.Handle("/*", web.Handler())
	return r
}
