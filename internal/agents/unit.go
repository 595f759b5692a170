package agents

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/kilomarket/internal/logger"
	"github.com/MrSnakeDoc/kilomarket/internal/market"
)

const maxRequestBody = 1 << 20

// Responder answers free-form messages sent to an agent.
type Responder interface {
	Respond(ctx context.Context, systemPrompt, message string) (string, error)
}

// Card is the self-description an agent serves at /.well-known/agent.json.
type Card struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Version       string         `json:"version"`
	Model         string         `json:"model,omitempty"`
	WalletAddress string         `json:"wallet_address,omitempty"`
	BusinessModel string         `json:"business_model,omitempty"`
	PricingUnit   string         `json:"pricing_unit,omitempty"`
	ServiceCost   *float64       `json:"service_cost,omitempty"`
	Currency      string         `json:"currency,omitempty"`
	PaymentMethod string         `json:"payment_method,omitempty"`
	Protocols     []string       `json:"protocols,omitempty"`
	Capabilities  map[string]any `json:"capabilities,omitempty"`
	Skills        []Tool         `json:"skills"`
}

type unit struct {
	card      Card
	tools     map[string]Tool
	prompt    string
	responder Responder
	log       logger.Logger
}

func newUnit(card Card, tools []Tool, prompt string, responder Responder, log logger.Logger) http.Handler {
	u := &unit{
		card:      card,
		tools:     make(map[string]Tool, len(tools)),
		prompt:    prompt,
		responder: responder,
		log:       log,
	}
	for _, t := range tools {
		u.tools[t.Name] = t
	}
	u.card.Skills = tools

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/.well-known/agent.json", u.serveCard)
	r.Get("/healthz", u.serveHealth)
	r.Get("/tools", u.listTools)
	r.Post("/tools/{name}", u.callTool)
	r.Post("/messages", u.message)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (u *unit) serveCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, u.card)
}

func (u *unit) serveHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "agent": u.card.Name})
}

func (u *unit) listTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agent": u.card.Name, "tools": u.card.Skills})
}

func (u *unit) callTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	tool, ok := u.tools[name]
	if !ok {
		writeError(w, http.StatusNotFound, ErrUnknownTool.Error()+": "+name)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	result, err := tool.Call(r.Context(), json.RawMessage(raw))
	if err != nil {
		status := http.StatusInternalServerError
		var ute *market.UnknownTokenError
		switch {
		case errors.Is(err, ErrBadArguments):
			status = http.StatusBadRequest
		case errors.As(err, &ute):
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error":            ute.Error(),
				"available_tokens": ute.Available,
			})
			return
		case strings.Contains(err.Error(), "not found"):
			status = http.StatusNotFound
		}
		u.log.Debug("tool call failed",
			logger.String("agent", u.card.Name),
			logger.String("tool", name),
			logger.Error(err))
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tool": name, "result": result})
}

type messageRequest struct {
	Message string `json:"message"`
}

func (u *unit) message(w http.ResponseWriter, r *http.Request) {
	if u.responder == nil {
		writeError(w, http.StatusServiceUnavailable, "no language model configured for this agent")
		return
	}

	var req messageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := u.responder.Respond(r.Context(), u.prompt, req.Message)
	if err != nil {
		u.log.Warn("agent failed to respond",
			logger.String("agent", u.card.Name),
			logger.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agent": u.card.Name, "response": reply})
}
