package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/deps"
	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/mw"
)

func init() { Register(registerMarket) }

func registerMarket(r chi.Router, d deps.Deps) {
	r.With(mw.EnforceHost(d.AllowedHosts, d.Logger), middleware.Timeout(d.RequestTTL)).Route("/api/market", func(r chi.Router) {
		r.Get("/price/{symbol}", handlers.MarketPrice(d))
		r.Get("/top", handlers.MarketTop(d))
		r.Get("/movers", handlers.MarketMovers(d))
		r.Get("/summary", handlers.MarketSummary(d))
		r.Get("/token/{symbol}", handlers.MarketToken(d))
	})
}
