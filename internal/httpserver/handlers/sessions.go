package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/kilomarket/internal/chat"
	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/deps"
	"github.com/MrSnakeDoc/kilomarket/internal/llm"
	"github.com/MrSnakeDoc/kilomarket/internal/logger"
	"github.com/MrSnakeDoc/kilomarket/internal/sessions"
	"github.com/MrSnakeDoc/kilomarket/internal/settings"
)

// sessionError maps store errors to a status code.
func sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessions.ErrInvalidID):
		fail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sessions.ErrNotFound):
		fail(w, http.StatusNotFound, "Session not found")
	default:
		fail(w, http.StatusInternalServerError, err.Error())
	}
}

func ListSessions(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := d.Sessions.List()
		if err != nil {
			d.Logger.Error("failed to list sessions", logger.Error(err))
			fail(w, http.StatusInternalServerError, "Failed to list sessions")
			return
		}
		ok(w, "", map[string]any{"sessions": list})
	}
}

// CreateSession snapshots the configured AI provider into a new session.
func CreateSession(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ApprovalData string `json:"approval_data"`
			Passcode     string `json:"passcode"`
		}
		if err := decode(r, &body); err != nil {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		pc, configured := d.Settings.Provider()
		if !configured {
			fail(w, http.StatusBadRequest, "AI provider not configured")
			return
		}

		sess, err := d.Sessions.Create(body.ApprovalData, body.Passcode, sessions.ProviderRef{
			Provider: pc.Provider,
			Name:     settings.ProviderName(pc.Provider),
			Config:   pc.Config,
		})
		if err != nil {
			d.Logger.Error("failed to create session", logger.Error(err))
			fail(w, http.StatusInternalServerError, "Failed to create session")
			return
		}
		ok(w, "Session created", map[string]any{"session_id": sess.ID})
	}
}

func GetSession(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := d.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			sessionError(w, err)
			return
		}
		extra := map[string]any{"session": sess.Redacted()}
		if d.Activity.Enabled() {
			if n, err := d.Activity.Turns(r.Context(), sess.ID); err == nil {
				extra["turns"] = n
			}
		}
		ok(w, "", extra)
	}
}

func SessionMessages(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		msgs, err := d.Sessions.Messages(id)
		if err != nil {
			sessionError(w, err)
			return
		}
		ok(w, "", map[string]any{"session_id": id, "messages": msgs})
	}
}

func DeleteSession(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := d.Sessions.Delete(id); err != nil {
			sessionError(w, err)
			return
		}
		if d.Activity.Enabled() {
			if err := d.Activity.ForgetSession(r.Context(), id); err != nil {
				d.Logger.Debug("turn counter not removed", logger.String("session", id), logger.Error(err))
			}
		}
		ok(w, "Session deleted", nil)
	}
}

// Chat runs one conversational turn.
func Chat(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string `json:"message"`
		}
		if err := decode(r, &body); err != nil {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}

		reply, err := d.Chat.Turn(r.Context(), chi.URLParam(r, "id"), body.Message)
		if err != nil {
			chatError(w, err)
			return
		}
		ok(w, "", map[string]any{
			"session_id": reply.SessionID,
			"response":   reply.Assistant.Content,
			"reply":      reply,
		})
	}
}

func chatError(w http.ResponseWriter, err error) {
	var perr *llm.ProviderError
	switch {
	case errors.Is(err, sessions.ErrInvalidID), errors.Is(err, sessions.ErrNotFound):
		sessionError(w, err)
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrNoProvider),
		errors.Is(err, llm.ErrUnsupportedProvider),
		errors.Is(err, llm.ErrMissingCredentials):
		fail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		fail(w, http.StatusGatewayTimeout, "model provider timed out")
	case errors.As(err, &perr):
		fail(w, http.StatusBadGateway, perr.Error())
	default:
		fail(w, http.StatusInternalServerError, err.Error())
	}
}
