// Package chat runs conversational turns against the model provider a
// session was created with and keeps the transcript on disk.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrSnakeDoc/kilomarket/internal/llm"
	"github.com/MrSnakeDoc/kilomarket/internal/logger"
	"github.com/MrSnakeDoc/kilomarket/internal/sessions"
)

// DefaultWindow is the number of messages, the new one included, sent to
// the model on each turn.
const DefaultWindow = 15

var (
	ErrEmptyMessage = errors.New("message is required")
	ErrNoProvider   = errors.New("no AI provider configured")
)

// SystemPrompt frames every interactive session.
const SystemPrompt = `You are KiloMarket Interactive Agent, a specialized AI assistant for cryptocurrency and DeFi interactions on Ethereum Sepolia.

Core Responsibilities:
- Provide intelligent analysis and insights
- Assist with market data interpretation
- Help with DeFi protocol interactions
- Guide users through complex blockchain operations
- Ensure security and best practices

Important Guidelines:
- Always prioritize security and user safety
- Double-check addresses and transaction details
- Provide clear explanations for complex concepts
- Ask for clarification when needed
- Never share sensitive information like private keys or passcodes
- Never request or display user approval data in responses

Communication Style:
- Be helpful and educational
- Use clear, concise language
- Provide step-by-step guidance when needed
- Explain risks and benefits clearly

Always provide reasoning and use markdown for clear communication.`

// ProviderFactory builds a model client from a provider id and its saved settings.
type ProviderFactory func(id string, cfg map[string]string) (llm.Provider, error)

// TurnCounter records completed turns. Failures are logged, never returned.
type TurnCounter interface {
	IncrementTurns(ctx context.Context, sessionID string) error
}

// Reply is the outcome of one turn.
type Reply struct {
	SessionID string           `json:"session_id"`
	User      sessions.Message `json:"user_message"`
	Assistant sessions.Message `json:"assistant_message"`
	Model     string           `json:"model,omitempty"`
	Usage     llm.Usage        `json:"usage"`
}

type Engine struct {
	sessions *sessions.Store
	factory  ProviderFactory
	counter  TurnCounter
	window   int
	prompt   string
	log      logger.Logger
}

type Option func(*Engine)

// WithWindow sets how many messages are sent to the model per turn.
func WithWindow(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.window = n
		}
	}
}

func WithTurnCounter(c TurnCounter) Option { return func(e *Engine) { e.counter = c } }

func WithProviderFactory(f ProviderFactory) Option { return func(e *Engine) { e.factory = f } }

func WithLogger(l logger.Logger) Option { return func(e *Engine) { e.log = l } }

// HTTPFactory returns a ProviderFactory whose clients give up after timeout.
func HTTPFactory(timeout time.Duration) ProviderFactory {
	client := &http.Client{Timeout: timeout}
	return func(id string, cfg map[string]string) (llm.Provider, error) {
		return llm.New(id, cfg, client)
	}
}

func NewEngine(store *sessions.Store, opts ...Option) *Engine {
	e := &Engine{
		sessions: store,
		factory:  HTTPFactory(60 * time.Second),
		window:   DefaultWindow,
		prompt:   SystemPrompt,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Turn sends message with the session's recent history to its provider.
// Both sides of the exchange are persisted only when the model answers.
func (e *Engine) Turn(ctx context.Context, sessionID, message string) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, ErrEmptyMessage
	}

	sess, err := e.sessions.Get(sessionID)
	if err != nil {
		return Reply{}, err
	}
	if sess.AIProvider.Provider == "" {
		return Reply{}, ErrNoProvider
	}
	provider, err := e.factory(sess.AIProvider.Provider, sess.AIProvider.Config)
	if err != nil {
		return Reply{}, err
	}

	history, err := e.sessions.Messages(sessionID)
	if err != nil {
		return Reply{}, fmt.Errorf("load history: %w", err)
	}

	req := buildRequest(sess.AIProvider.Config, e.prompt, window(history, message, e.window))
	start := time.Now()
	resp, err := provider.Complete(ctx, req)
	if err != nil {
		e.log.Warn("chat turn failed",
			logger.String("session", sessionID),
			logger.String("provider", sess.AIProvider.Provider),
			logger.Error(err))
		return Reply{}, err
	}

	user, err := e.sessions.Append(sessionID, string(llm.RoleUser), message)
	if err != nil {
		return Reply{}, fmt.Errorf("persist user message: %w", err)
	}
	assistant, err := e.sessions.Append(sessionID, string(llm.RoleAssistant), resp.Text)
	if err != nil {
		return Reply{}, fmt.Errorf("persist reply: %w", err)
	}

	if e.counter != nil {
		if err := e.counter.IncrementTurns(ctx, sessionID); err != nil {
			e.log.Debug("turn not counted", logger.String("session", sessionID), logger.Error(err))
		}
	}

	e.log.Info("chat turn",
		logger.String("session", sessionID),
		logger.String("model", resp.Model),
		logger.Duration("elapsed", time.Since(start)),
		logger.Int("history", len(req.Messages)))

	return Reply{
		SessionID: sessionID,
		User:      user,
		Assistant: assistant,
		Model:     resp.Model,
		Usage:     resp.Usage,
	}, nil
}

// window keeps the last size-1 history messages followed by the new one.
// The result always opens with a user message.
func window(history []sessions.Message, message string, size int) []llm.Message {
	if size < 1 {
		size = 1
	}
	keep := size - 1
	if len(history) > keep {
		history = history[len(history)-keep:]
	}
	out := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		role := llm.Role(m.Role)
		if role != llm.RoleUser && role != llm.RoleAssistant {
			continue
		}
		if len(out) == 0 && role != llm.RoleUser {
			continue
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return append(out, llm.Message{Role: llm.RoleUser, Content: message})
}

func buildRequest(cfg map[string]string, system string, msgs []llm.Message) llm.Request {
	req := llm.Request{Model: cfg["model_id"], System: system, Messages: msgs}
	for _, key := range []string{"max_tokens", "max_output_tokens"} {
		if n, err := strconv.Atoi(cfg[key]); err == nil && n > 0 {
			req.MaxTokens = n
			break
		}
	}
	if t, err := strconv.ParseFloat(cfg["temperature"], 64); err == nil {
		req.Temperature = &t
	}
	return req
}
