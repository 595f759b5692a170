package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/deps"
	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/mw"
)

func init() { Register(registerConsole) }

func registerConsole(r chi.Router, d deps.Deps) {
	r.With(mw.EnforceHost(d.AllowedHosts, d.Logger)).Get("/", handlers.Index(d))
}
