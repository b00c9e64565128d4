package completion

import (
	"context"
	"fmt"
	"strings"
)

// MockClient produces deterministic local replies when no provider is
// configured. Tests override Respond to script exact outputs.
type MockClient struct {
	// Respond, when set, fully controls the result of both call styles.
	Respond func(messages []Message, temperature float64) (Result, error)
}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Complete(ctx context.Context, messages []Message, temperature float64) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	if c.Respond != nil {
		return c.Respond(messages, temperature)
	}

	last := ""
	prompt := 0
	for _, m := range messages {
		prompt += approxTokens(m.Content)
		if m.Role == "user" {
			last = m.Content
		}
	}
	text := fmt.Sprintf("I hear you: %s", strings.TrimSpace(last))
	out := approxTokens(text)
	return Result{
		Text: text,
		Usage: Usage{
			PromptTokens:     prompt,
			CompletionTokens: out,
			TotalTokens:      prompt + out,
		},
	}, nil
}

func (c *MockClient) CompleteJSON(ctx context.Context, messages []Message, temperature float64) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	if c.Respond != nil {
		return c.Respond(messages, temperature)
	}

	text := `{"profile_updates": {}, "memories": []}`
	out := approxTokens(text)
	prompt := 0
	for _, m := range messages {
		prompt += approxTokens(m.Content)
	}
	return Result{
		Text: text,
		Usage: Usage{
			PromptTokens:     prompt,
			CompletionTokens: out,
			TotalTokens:      prompt + out,
		},
	}, nil
}

// approxTokens is a rough 4-chars-per-token heuristic, good enough for the
// mock's synthetic usage counters.
func approxTokens(s string) int {
	return len(s)/4 + 1
}
