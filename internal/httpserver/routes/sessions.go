package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/deps"
	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/mw"
)

func init() { Register(registerSessions) }

func registerSessions(r chi.Router, d deps.Deps) {
	r.Group(func(r chi.Router) {
		r.Use(mw.EnforceHost(d.AllowedHosts, d.Logger))

		// Chat waits on the model provider, so it is bounded by the client timeout instead.
		r.With(mw.RateLimit(mw.RateLimitConfig{
			Scope:        "chat",
			Burst:        d.RateBurst,
			PerMinute:    d.RatePerMin,
			TrustProxy:   d.TrustProxy,
			SessionParam: "id",
		})).Post("/api/sessions/{id}/chat", handlers.Chat(d))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(d.RequestTTL))
			r.Post("/create-session", handlers.CreateSession(d))
			r.Get("/api/sessions", handlers.ListSessions(d))
			r.Get("/api/sessions/{id}", handlers.GetSession(d))
			r.Get("/api/sessions/{id}/messages", handlers.SessionMessages(d))
			r.Delete("/api/sessions/{id}", handlers.DeleteSession(d))
		})
	})
}
