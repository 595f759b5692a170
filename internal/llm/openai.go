package llm

import (
	"context"
	"net/http"
	"strings"
)

const openaiBaseURL = "https://api.openai.com/v1"

// OpenAI implements Provider for any API speaking the OpenAI chat
// completions wire format.
type OpenAI struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewOpenAI creates an OpenAI-compatible provider. An empty baseURL
// targets the OpenAI API.
func NewOpenAI(httpClient *http.Client, baseURL, apiKey string) *OpenAI {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = openaiBaseURL
	}
	return &OpenAI{httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (provider *OpenAI) Complete(ctx context.Context, request Request) (*Response, error) {
	wireRequest := openaiRequest{
		Model:       request.Model,
		MaxTokens:   request.maxTokens(),
		Temperature: request.Temperature,
	}
	if request.System != "" {
		wireRequest.Messages = append(wireRequest.Messages, openaiMessage{Role: "system", Content: request.System})
	}
	for _, m := range request.Messages {
		wireRequest.Messages = append(wireRequest.Messages, openaiMessage{Role: string(m.Role), Content: m.Content})
	}

	httpResponse, err := doProviderRequest(ctx, provider.httpClient, provider.baseURL+"/chat/completions",
		wireRequest, "llm/openai", map[string]string{"Authorization": "Bearer " + provider.apiKey})
	if err != nil {
		return nil, err
	}
	return decodeResponse[openaiResponse](httpResponse, "llm/openai")
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

func (wireResponse *openaiResponse) toResponse() *Response {
	resp := &Response{
		Model: wireResponse.Model,
		Usage: Usage{InputTokens: wireResponse.Usage.PromptTokens, OutputTokens: wireResponse.Usage.CompletionTokens},
	}
	if len(wireResponse.Choices) > 0 {
		resp.Text = wireResponse.Choices[0].Message.Content
		resp.StopReason = wireResponse.Choices[0].FinishReason
	}
	return resp
}
