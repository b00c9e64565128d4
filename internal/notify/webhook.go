package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// WebhookSender posts the sign-in mail to a transactional-email HTTP API
// (Postmark- or Resend-shaped endpoints both accept this payload).
type WebhookSender struct {
	url    string
	token  string
	from   string
	client *http.Client
}

func NewWebhookSender(url, token, from string) *WebhookSender {
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: token,
		from:  from,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type mailPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

func (s *WebhookSender) Send(ctx context.Context, address, link string) (bool, error) {
	body := fmt.Sprintf("Hi,\n\nClick to sign in:\n%s\n\nThis link will sign you in on this device.", link)
	payload, err := json.Marshal(mailPayload{
		From:    s.from,
		To:      address,
		Subject: "Your sign-in link",
		Text:    body,
	})
	if err != nil {
		return false, fmt.Errorf("marshal mail: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("send mail: %w", err)
	}
	defer res.Body.Close()

	return res.StatusCode >= 200 && res.StatusCode < 300, nil
}
