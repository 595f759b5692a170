package handlers

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/deps"
	"github.com/MrSnakeDoc/kilomarket/internal/logger"
	"github.com/MrSnakeDoc/kilomarket/internal/settings"
	"github.com/MrSnakeDoc/kilomarket/internal/supervisor"
)

//go:embed templates/index.html
var templatesFS embed.FS

var indexTemplate = template.Must(template.New("index.html").Funcs(template.FuncMap{
	"deref": func(v any) any {
		switch p := v.(type) {
		case *float64:
			return *p
		case *string:
			return *p
		}
		return v
	},
}).ParseFS(templatesFS, "templates/index.html"))

type indexPage struct {
	Version     string
	Provider    settings.ProviderStatus
	Wallet      settings.WalletStatus
	Status      *supervisor.Status
	AnyRunning  bool
	Degraded    string
	RosterError string
}

// Index renders the console home page.
func Index(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := indexPage{
			Version:  d.Version,
			Provider: d.Settings.ProviderStatus(),
			Wallet:   d.Settings.WalletStatus(),
		}
		if st, err := d.Roster.Status(); err != nil {
			page.RosterError = err.Error()
		} else {
			page.Status = &st
			page.AnyRunning = st.AnyRunning
		}
		if derr := d.Roster.Degraded(); derr != nil {
			page.Degraded = derr.Error()
		}

		var buf bytes.Buffer
		if err := indexTemplate.Execute(&buf, page); err != nil {
			d.Logger.Error("failed to render console", logger.Error(err))
			http.Error(w, "failed to render page", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = buf.WriteTo(w)
	}
}
