package settings

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrUnknownProvider = errors.New("unsupported AI provider")
	ErrMissingField    = errors.New("missing required field")
)

// Provider ids.
const (
	ProviderBedrock          = "amazon_bedrock"
	ProviderAnthropic        = "anthropic"
	ProviderGemini           = "gemini"
	ProviderOpenAICompatible = "openai_compatible"
)

// ProviderSpec describes how a model provider is configured.
type ProviderSpec struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Fields          []string          `json:"fields"`
	Optional        []string          `json:"optional,omitempty"`
	Defaults        map[string]string `json:"defaults"`
	CredentialsType string            `json:"credentials_type"`
	Placeholders    map[string]string `json:"placeholders,omitempty"`
}

// Providers is the catalog offered to users, in display order.
var Providers = []ProviderSpec{
	{
		ID:     ProviderBedrock,
		Name:   "Amazon Bedrock",
		Fields: []string{"model_id", "region_name"},
		Defaults: map[string]string{
			"model_id":    "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
			"region_name": "us-east-1",
		},
		CredentialsType: "aws_env",
	},
	{
		ID:              ProviderAnthropic,
		Name:            "Anthropic",
		Fields:          []string{"api_key", "model_id"},
		Defaults:        map[string]string{"model_id": "claude-sonnet-4-5-20250929"},
		CredentialsType: "api_key",
	},
	{
		ID:              ProviderGemini,
		Name:            "Gemini",
		Fields:          []string{"api_key", "model_id"},
		Defaults:        map[string]string{"model_id": "gemini-2.5-flash"},
		CredentialsType: "api_key",
	},
	{
		ID:              ProviderOpenAICompatible,
		Name:            "OpenAI Compatible",
		Fields:          []string{"api_key", "base_url", "model_id"},
		Optional:        []string{"base_url"},
		Defaults:        map[string]string{"model_id": "gpt-4o", "base_url": ""},
		CredentialsType: "api_key",
		Placeholders:    map[string]string{"base_url": "Leave blank for OpenAI server"},
	},
}

// LookupProvider returns the spec for id.
func LookupProvider(id string) (ProviderSpec, bool) {
	for _, p := range Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderSpec{}, false
}

// ProviderName returns the display name for id, or id itself when unknown.
func ProviderName(id string) string {
	if p, ok := LookupProvider(id); ok {
		return p.Name
	}
	return id
}

// Normalize fills blank fields from defaults and checks required ones.
func (p ProviderSpec) Normalize(cfg map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(p.Fields))
	for k, v := range cfg {
		out[k] = strings.TrimSpace(v)
	}
	for _, f := range p.Fields {
		if out[f] == "" {
			if def, ok := p.Defaults[f]; ok && def != "" {
				out[f] = def
			}
		}
		if out[f] == "" && !slices.Contains(p.Optional, f) {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, f)
		}
	}
	return out, nil
}

// ProviderConfig is the persisted provider selection.
type ProviderConfig struct {
	Enabled  bool              `json:"enabled"`
	Provider string            `json:"provider,omitempty"`
	Config   map[string]string `json:"config,omitempty"`
}

// ProviderStatus is safe to show to users; it never carries credentials.
type ProviderStatus struct {
	Configured   bool    `json:"configured"`
	Provider     *string `json:"provider"`
	ProviderName *string `json:"provider_name"`
	StatusText   string  `json:"status_text"`
}

// Provider returns the configured provider, if any.
func (s *Store) Provider() (ProviderConfig, bool) {
	var pc ProviderConfig
	s.section(keyProvider, &pc)
	if !pc.Enabled || pc.Provider == "" {
		return ProviderConfig{}, false
	}
	if pc.Config == nil {
		pc.Config = map[string]string{}
	}
	return pc, true
}

func (s *Store) ProviderStatus() ProviderStatus {
	pc, ok := s.Provider()
	if !ok {
		return ProviderStatus{StatusText: "AI Provider (Not Set)"}
	}
	id, name := pc.Provider, ProviderName(pc.Provider)
	return ProviderStatus{
		Configured:   true,
		Provider:     &id,
		ProviderName: &name,
		StatusText:   fmt.Sprintf("AI Provider (%s)", name),
	}
}

// ConfigureProvider validates cfg against the provider catalog and saves it.
func (s *Store) ConfigureProvider(provider string, cfg map[string]string) error {
	spec, ok := LookupProvider(provider)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	normalized, err := spec.Normalize(cfg)
	if err != nil {
		return err
	}
	return s.update(func(doc document) error {
		return doc.set(keyProvider, ProviderConfig{Enabled: true, Provider: provider, Config: normalized})
	})
}

func (s *Store) ClearProvider() error {
	return s.update(func(doc document) error {
		return doc.set(keyProvider, ProviderConfig{Enabled: false})
	})
}
