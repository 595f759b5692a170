package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/deps"
)

type healthzResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Version       string  `json:"version,omitempty"`
	Commit        string  `json:"commit,omitempty"`
	BuildDate     string  `json:"build_date,omitempty"`
	GoVersion     string  `json:"go_version,omitempty"`
}

func Healthz(d deps.Deps) http.HandlerFunc {
	start := d.StartTime
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthzResponse{
			Status:        "ok",
			Version:       d.Version,
			Commit:        d.Commit,
			BuildDate:     d.BuildDate,
			GoVersion:     d.GoVersion,
			UptimeSeconds: d.Now().Sub(start).Seconds(),
		})
	}
}

type readyzResponse struct {
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// Readyz reports ready once the roster can be built.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := d.Roster.Manager(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, readyzResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, readyzResponse{Ready: true})
	}
}

type componentStatus struct {
	OK      bool   `json:"ok"`
	Loaded  *bool  `json:"loaded,omitempty"`
	Running *int   `json:"running,omitempty"`
	Total   *int   `json:"total,omitempty"`
	Turns   *int64 `json:"chat_turns,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Impact  string `json:"impact,omitempty"`
	Error   string `json:"error,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components := map[string]componentStatus{
			"roster": checkRoster(d),
			"redis":  checkRedis(r.Context(), d),
			"ai_provider": {
				OK:   true,
				Mode: d.Settings.ProviderStatus().StatusText,
			},
		}
		writeJSON(w, http.StatusOK, infraResponse{
			Mode:       determineMode(components),
			Components: components,
		})
	}
}

func determineMode(components map[string]componentStatus) string {
	roster := components["roster"]
	if !roster.OK {
		return "critical"
	}
	if roster.Mode == "degraded" {
		return "degraded"
	}
	if redis := components["redis"]; !redis.OK && redis.Mode != "disabled" {
		return "degraded"
	}
	return "optimal"
}

// checkRoster never builds the roster; an unloaded roster is healthy.
func checkRoster(d deps.Deps) componentStatus {
	loaded := d.Roster.Loaded()
	if !loaded {
		return componentStatus{OK: true, Loaded: &loaded, Mode: "lazy"}
	}
	st, err := d.Roster.Status()
	if err != nil {
		return componentStatus{OK: false, Loaded: &loaded, Error: err.Error()}
	}
	cs := componentStatus{
		OK:      true,
		Loaded:  &loaded,
		Running: &st.RunningServers,
		Total:   &st.TotalServers,
		Mode:    "specialized",
	}
	if derr := d.Roster.Degraded(); derr != nil {
		cs.Mode = "degraded"
		cs.Impact = "placeholder-agents"
		cs.Error = derr.Error()
	}
	return cs
}

func checkRedis(parent context.Context, d deps.Deps) componentStatus {
	if !d.Activity.Enabled() {
		return componentStatus{
			OK:     false,
			Mode:   "disabled",
			Impact: "activity-tracking-disabled",
		}
	}

	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()

	if err := d.Activity.Ping(ctx); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "degraded",
			Impact: "activity-tracking-disabled",
			Error:  err.Error(),
		}
	}

	cs := componentStatus{
		OK:     true,
		Mode:   "optimal",
		Impact: "activity-tracking-enabled",
	}
	if n, err := d.Activity.TotalTurns(ctx); err == nil {
		cs.Turns = &n
	}
	return cs
}
