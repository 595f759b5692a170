package llm

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini implements Provider for the Gemini generateContent API.
type Gemini struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewGemini(httpClient *http.Client, baseURL, apiKey string) *Gemini {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = geminiBaseURL
	}
	return &Gemini{httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (provider *Gemini) Complete(ctx context.Context, request Request) (*Response, error) {
	wireRequest := geminiRequest{
		GenerationConfig: geminiGenerationConfig{MaxOutputTokens: request.maxTokens(), Temperature: request.Temperature},
	}
	if request.System != "" {
		wireRequest.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: request.System}}}
	}
	for _, m := range request.Messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		wireRequest.Contents = append(wireRequest.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}

	endpoint := provider.baseURL + "/models/" + url.PathEscape(request.Model) + ":generateContent"
	httpResponse, err := doProviderRequest(ctx, provider.httpClient, endpoint,
		wireRequest, "llm/gemini", map[string]string{"x-goog-api-key": provider.apiKey})
	if err != nil {
		return nil, err
	}

	resp, err := decodeResponse[geminiResponse](httpResponse, "llm/gemini")
	if err != nil {
		return nil, err
	}
	if resp.Model == "" {
		resp.Model = request.Model
	}
	return resp, nil
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	ModelVersion string `json:"modelVersion"`
	Candidates   []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (wireResponse *geminiResponse) toResponse() *Response {
	resp := &Response{
		Model: wireResponse.ModelVersion,
		Usage: Usage{
			InputTokens:  wireResponse.UsageMetadata.PromptTokenCount,
			OutputTokens: wireResponse.UsageMetadata.CandidatesTokenCount,
		},
	}
	if len(wireResponse.Candidates) > 0 {
		c := wireResponse.Candidates[0]
		var text strings.Builder
		for _, p := range c.Content.Parts {
			text.WriteString(p.Text)
		}
		resp.Text = text.String()
		resp.StopReason = c.FinishReason
	}
	return resp
}
