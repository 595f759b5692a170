package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/kilomarket/internal/agents"
	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/deps"
	"github.com/MrSnakeDoc/kilomarket/internal/logger"
	"github.com/MrSnakeDoc/kilomarket/internal/scheduler"
	"github.com/MrSnakeDoc/kilomarket/internal/supervisor"
)

// ToggleA2A flips the whole roster. It always answers 200 with the
// aggregate status; partial failures are reported in the message.
func ToggleA2A(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := d.Roster.Manager()
		if err != nil {
			d.Logger.Error("a2a roster unavailable", logger.Error(err))
			writeJSON(w, http.StatusOK, map[string]any{
				"success": false,
				"message": "A2A servers unavailable: " + err.Error(),
				"status":  nil,
			})
			return
		}

		out := m.Toggle()
		scheduler.Trigger(d.StatusTrigger)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": out.OK,
			"message": out.Message,
			"status":  m.Status(),
		})
	}
}

// A2AStatus returns the aggregate status object directly.
func A2AStatus(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := d.Roster.Status()
		if err != nil {
			fail(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

type instanceOp func(*supervisor.Instance) supervisor.Outcome

func instanceAction(d deps.Deps, op instanceOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		port, err := strconv.Atoi(chi.URLParam(r, "port"))
		if err != nil {
			fail(w, http.StatusBadRequest, "port must be a number")
			return
		}
		m, err := d.Roster.Manager()
		if err != nil {
			fail(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		inst, found := m.Instance(port)
		if !found {
			fail(w, http.StatusNotFound, "no A2A server on port "+strconv.Itoa(port))
			return
		}

		out := op(inst)
		scheduler.Trigger(d.StatusTrigger)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": out.OK,
			"message": out.Message,
			"server":  inst.Status(),
		})
	}
}

// StartServer starts a single roster instance.
func StartServer(d deps.Deps) http.HandlerFunc {
	return instanceAction(d, (*supervisor.Instance).Start)
}

// StopServer stops a single roster instance.
func StopServer(d deps.Deps) http.HandlerFunc {
	return instanceAction(d, (*supervisor.Instance).Stop)
}

// Services lists the running agents as discoverable A2A services.
func Services(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services, err := agents.RunningServices(d.Roster)
		if err != nil {
			fail(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		ok(w, "", map[string]any{
			"services":       services,
			"total_services": len(services),
		})
	}
}
