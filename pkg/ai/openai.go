package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatGenerator calls an OpenAI-style /chat/completions endpoint.
// baseURL includes the version prefix, e.g. "http://localhost:8000/v1".
type OpenAICompatGenerator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAICompatGenerator builds the generator. apiKey may be empty for local servers.
func NewOpenAICompatGenerator(baseURL, apiKey, model string) *OpenAICompatGenerator {
	return &OpenAICompatGenerator{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		model:      strings.TrimSpace(model),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.complete(ctx, systemPrompt, userPrompt, nil)
}

// GenerateJSON requests response_format json_object.
func (g *OpenAICompatGenerator) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.complete(ctx, systemPrompt, userPrompt, &oaiResponseFormat{Type: "json_object"})
}

func (g *OpenAICompatGenerator) complete(ctx context.Context, systemPrompt, userPrompt string, format *oaiResponseFormat) (string, error) {
	if g.model == "" {
		return "", errors.New("openai-compat generation model required")
	}
	req := oaiChatRequest{
		Model:          g.model,
		Messages:       chatMessages(strings.TrimSpace(systemPrompt), userPrompt),
		ResponseFormat: format,
	}
	var header http.Header
	if g.apiKey != "" {
		header = http.Header{"Authorization": []string{"Bearer " + g.apiKey}}
	}
	var resp oaiChatResponse
	if err := postJSON(ctx, g.httpClient, "openai-compat", g.baseURL+"/chat/completions", header, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

type oaiResponseFormat struct {
	Type string `json:"type"`
}

type oaiChatRequest struct {
	Model          string             `json:"model"`
	Messages       []chatMessage      `json:"messages"`
	ResponseFormat *oaiResponseFormat `json:"response_format,omitempty"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}
