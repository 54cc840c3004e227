// ABOUTME: Model string resolution: provider prefix routing to OpenAI-compatible endpoints.
// ABOUTME: Maps openrouter/gemini/moonshot/openai prefixes to base URLs and env API keys.

package model

import (
	"fmt"
	"os"
	"strings"
)

// Provider endpoint table. All routed providers speak the OpenAI Chat
// Completions protocol.
const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	geminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta/openai/"
	moonshotBaseURL   = "https://api.moonshot.ai/v1"
)

// Resolved is the outcome of parsing a model string.
type Resolved struct {
	Provider string
	Model    string // provider-local model name
	BaseURL  string // empty means the provider's default endpoint
	APIKey   string
}

// DefaultModelString returns the ambient default from DEFAULT_MODEL_STRING.
func DefaultModelString() string {
	return os.Getenv("DEFAULT_MODEL_STRING")
}

// Resolve parses a "provider/model" string into an endpoint and credentials.
// An empty model string falls back to DEFAULT_MODEL_STRING. Model strings
// without a recognized provider prefix are treated as OpenAI model names.
func Resolve(modelString string) (*Resolved, error) {
	if modelString == "" {
		modelString = DefaultModelString()
	}
	if modelString == "" {
		return nil, ErrNoModel
	}

	provider, rest, found := strings.Cut(modelString, "/")
	if !found {
		provider, rest = "openai", modelString
	}

	switch provider {
	case "openrouter":
		key := os.Getenv("OPENROUTER_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("%w: OPENROUTER_API_KEY for %q", ErrMissingAPIKey, modelString)
		}
		return &Resolved{Provider: provider, Model: rest, BaseURL: openRouterBaseURL, APIKey: key}, nil

	case "gemini", "google":
		key := os.Getenv("GEMINI_API_KEY")
		if key == "" {
			key = os.Getenv("GOOGLE_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY for %q", ErrMissingAPIKey, modelString)
		}
		return &Resolved{Provider: "gemini", Model: rest, BaseURL: geminiBaseURL, APIKey: key}, nil

	case "moonshot", "moonshotai":
		key := os.Getenv("MOONSHOTAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("%w: MOONSHOTAI_API_KEY for %q", ErrMissingAPIKey, modelString)
		}
		return &Resolved{Provider: "moonshot", Model: rest, BaseURL: moonshotBaseURL, APIKey: key}, nil

	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY for %q", ErrMissingAPIKey, modelString)
		}
		return &Resolved{Provider: provider, Model: rest, APIKey: key}, nil

	default:
		// Unknown single-segment prefixes are ambiguous: the string may be an
		// OpenAI model family name containing a slash. Reject so the caller
		// sees a clear error instead of a provider 404.
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}

// NewClient resolves the model string and builds a streaming client for it.
func NewClient(modelString string) (Client, error) {
	r, err := Resolve(modelString)
	if err != nil {
		return nil, err
	}
	return NewOpenAIClient(r.APIKey, r.Model, r.BaseURL), nil
}
