// Package notify delivers sign-in links. Delivery is an injectable
// capability with a boolean success result; the core never depends on a
// concrete backend.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Sender delivers one sign-in link to one address.
type Sender interface {
	Send(ctx context.Context, address, link string) (bool, error)
}

// Config controls sender construction.
type Config struct {
	Backend    string
	From       string
	WebhookURL string
	AuthToken  string
}

// NewSender selects a delivery backend. "console" logs the link, which is
// the development default.
func NewSender(cfg Config, log zerolog.Logger) (Sender, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "console"
	}

	switch backend {
	case "console":
		return &ConsoleSender{log: log}, nil
	case "webhook":
		if strings.TrimSpace(cfg.WebhookURL) == "" {
			return nil, fmt.Errorf("webhook backend requires EMAIL_WEBHOOK_URL")
		}
		return NewWebhookSender(cfg.WebhookURL, cfg.AuthToken, cfg.From), nil
	default:
		return nil, fmt.Errorf("unsupported email backend %q", cfg.Backend)
	}
}

// ConsoleSender prints the link instead of delivering it.
type ConsoleSender struct {
	log zerolog.Logger
}

func (s *ConsoleSender) Send(_ context.Context, address, link string) (bool, error) {
	s.log.Info().Str("to", address).Str("link", link).Msg("magic link (console delivery)")
	return true, nil
}
