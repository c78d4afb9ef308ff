package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tradewatch/sentinel/internal/domain"
)

// SlackSender delivers notifications via a Slack incoming webhook.
type SlackSender struct {
	webhookURL string
	client     *http.Client
}

// NewSlackSender creates a SlackSender posting to the given webhook URL. It
// uses a default HTTP client with a 10-second timeout.
func NewSlackSender(webhookURL string) *SlackSender {
	return &SlackSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the notification to the webhook. The recipient, when set,
// overrides the webhook's default channel (e.g. "#risk-ops").
func (s *SlackSender) Send(ctx context.Context, title, message, recipient string) error {
	payload := map[string]string{
		"text": fmt.Sprintf("*%s*\n%s", title, message),
	}
	if recipient != "" {
		payload["channel"] = recipient
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("slack: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Channel returns the channel identifier.
func (s *SlackSender) Channel() domain.NotificationChannel {
	return domain.ChannelSlack
}
