// Package completion wraps the external chat-completion service behind a
// small adapter interface so the orchestrator never depends on a concrete
// provider.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message is one role-tagged prompt entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage carries the provider's token counters for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the generated text plus its usage counters.
type Result struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Client generates text from an ordered message sequence. All transport,
// auth and rate-limit problems surface as a generic wrapped error; callers
// treat every failure uniformly.
type Client interface {
	// Complete returns free-form generated text.
	Complete(ctx context.Context, messages []Message, temperature float64) (Result, error)
	// CompleteJSON requires the response text to be a parseable JSON object;
	// a response that is not is an error, never a partial result.
	CompleteJSON(ctx context.Context, messages []Message, temperature float64) (Result, error)
}

// Config controls client construction.
type Config struct {
	Mode    string
	BaseURL string
	APIKey  string
	Model   string
}

// NewClient selects a provider. "auto" picks the HTTP provider when an API
// key is configured and falls back to the deterministic mock otherwise.
func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
		}
		return NewMockClient(), nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("completion API key is required for openai mode")
		}
		return NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported completion mode %q", cfg.Mode)
	}
}
