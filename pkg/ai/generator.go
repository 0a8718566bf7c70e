package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// TextGenerator answers a system prompt plus user prompt with free text.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// JSONGenerator is implemented by providers that can constrain output to a JSON document.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ProviderConfig selects and configures a generation backend.
type ProviderConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

// NewGenerator builds the generator named by cfg.Provider: "gemini" (default), "ollama" or "openai".
func NewGenerator(cfg ProviderConfig) (TextGenerator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "gemini":
		g, err := NewGeminiGenerator(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		g.SetBaseURL(cfg.BaseURL)
		return g, nil
	case "ollama":
		return NewOllamaGenerator(cfg.BaseURL, cfg.Model), nil
	case "openai", "openai-compat":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, errors.New("openai-compat base url required")
		}
		return NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", provider)
	}
}
