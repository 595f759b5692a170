package llm

import (
	"context"
	"net/http"
	"strings"
)

const (
	anthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

// Anthropic implements Provider for the Anthropic Messages API.
type Anthropic struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewAnthropic creates an Anthropic provider. An empty baseURL targets
// the public API.
func NewAnthropic(httpClient *http.Client, baseURL, apiKey string) *Anthropic {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &Anthropic{httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (provider *Anthropic) Complete(ctx context.Context, request Request) (*Response, error) {
	wireRequest := anthropicRequest{
		Model:       request.Model,
		MaxTokens:   request.maxTokens(),
		System:      request.System,
		Temperature: request.Temperature,
	}
	for _, m := range request.Messages {
		wireRequest.Messages = append(wireRequest.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	httpResponse, err := doProviderRequest(ctx, provider.httpClient, provider.baseURL+"/v1/messages",
		wireRequest, "llm/anthropic", map[string]string{
			"x-api-key":         provider.apiKey,
			"anthropic-version": anthropicVersion,
		})
	if err != nil {
		return nil, err
	}
	return decodeResponse[anthropicResponse](httpResponse, "llm/anthropic")
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (wireResponse *anthropicResponse) toResponse() *Response {
	var text strings.Builder
	for _, block := range wireResponse.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Response{
		Model:      wireResponse.Model,
		Text:       text.String(),
		StopReason: wireResponse.StopReason,
		Usage:      Usage{InputTokens: wireResponse.Usage.InputTokens, OutputTokens: wireResponse.Usage.OutputTokens},
	}
}
