package chat

import (
	"context"

	"github.com/MrSnakeDoc/kilomarket/internal/llm"
	"github.com/MrSnakeDoc/kilomarket/internal/settings"
)

// ProviderSource yields the provider configured for the console.
type ProviderSource interface {
	Provider() (settings.ProviderConfig, bool)
}

// AgentResponder answers agent messages with the console's configured
// provider. It is read on every call, so reconfiguring takes effect
// without restarting the agents.
type AgentResponder struct {
	Settings ProviderSource
	Factory  ProviderFactory
}

func (r AgentResponder) Respond(ctx context.Context, systemPrompt, message string) (string, error) {
	pc, ok := r.Settings.Provider()
	if !ok {
		return "", ErrNoProvider
	}
	provider, err := r.Factory(pc.Provider, pc.Config)
	if err != nil {
		return "", err
	}
	req := buildRequest(pc.Config, systemPrompt, []llm.Message{{Role: llm.RoleUser, Content: message}})
	resp, err := provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
