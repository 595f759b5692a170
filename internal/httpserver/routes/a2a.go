package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/deps"
	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/mw"
)

func init() { Register(registerA2A) }

func registerA2A(r chi.Router, d deps.Deps) {
	limit := mw.RateLimit(mw.RateLimitConfig{
		Scope:      "a2a",
		Burst:      d.RateBurst,
		PerMinute:  d.RatePerMin,
		TrustProxy: d.TrustProxy,
	})

	r.Group(func(r chi.Router) {
		r.Use(mw.EnforceHost(d.AllowedHosts, d.Logger))
		r.With(limit).Post("/toggle-a2a", handlers.ToggleA2A(d))
		r.Get("/a2a-status", handlers.A2AStatus(d))

		r.Route("/api/a2a", func(r chi.Router) {
			r.Get("/services", handlers.Services(d))
			r.With(limit).Post("/servers/{port}/start", handlers.StartServer(d))
			r.With(limit).Post("/servers/{port}/stop", handlers.StopServer(d))
		})
	})
}
