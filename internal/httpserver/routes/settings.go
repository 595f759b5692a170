package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/deps"
	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/mw"
)

func init() { Register(registerSettings) }

func registerSettings(r chi.Router, d deps.Deps) {
	r.Group(func(r chi.Router) {
		r.Use(mw.EnforceHost(d.AllowedHosts, d.Logger), middleware.Timeout(d.RequestTTL))

		r.Get("/api/ai-providers", handlers.Providers(d))
		r.Route("/api/ai-provider", func(r chi.Router) {
			r.Get("/status", handlers.ProviderStatus(d))
			r.Post("/configure", handlers.ConfigureProvider(d))
			r.Post("/clear", handlers.ClearProvider(d))
		})
		r.Route("/api/wallet", func(r chi.Router) {
			r.Get("/status", handlers.WalletStatus(d))
			r.Post("/configure", handlers.ConfigureWallet(d))
			r.Post("/clear", handlers.ClearWallet(d))
		})
	})
}
