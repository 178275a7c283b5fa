package llm

import (
	"context"
)

// Request carries an ordered list of prompt parts; providers join them with
// blank lines before submission.
type Request struct {
	PromptParts     []string
	MaxOutputTokens int
}

type Completion struct {
	Text string
	// FinishReason is the provider's stop cause, e.g. "stop" or "length".
	// "length" means the completion was truncated mid-output.
	FinishReason string
}

type Provider interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

type Config struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Org      string
}

func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Org:     cfg.Org,
		}), nil
	case "openrouter":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: defaultIfEmpty(cfg.BaseURL, "https://openrouter.ai/api/v1"),
		}), nil
	default:
		return nil, ErrUnsupportedProvider{Provider: cfg.Provider}
	}
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
