package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var ErrMissingCredentials = errors.New("llm: api_key is required")

// New builds the provider named by id from its saved settings
// (api_key, base_url). Bedrock needs AWS request signing and is refused
// with ErrUnsupportedProvider.
func New(id string, cfg map[string]string, httpClient *http.Client) (Provider, error) {
	key, base := cfg["api_key"], cfg["base_url"]

	switch id {
	case "amazon_bedrock":
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, id)
	case "anthropic", "gemini", "openai_compatible":
		if key == "" {
			return nil, ErrMissingCredentials
		}
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrUnsupportedProvider, id)
	}

	switch id {
	case "anthropic":
		return NewAnthropic(httpClient, base, key), nil
	case "gemini":
		return NewGemini(httpClient, base, key), nil
	default:
		return NewOpenAI(httpClient, base, key), nil
	}
}
