package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/voicetel/freescout-sla-tray/internal/config"
)

const maxRetryDelay = 30 * time.Second

type Client struct {
	webhookURL    string
	httpClient    *http.Client
	retryAttempts uint
	retryDelay    time.Duration
}

type Message struct {
	Text string `json:"text"`
}

func NewClient(cfg config.SlackConfig) *Client {
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	return &Client{
		webhookURL: cfg.WebhookURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout.Or(10 * time.Second),
		},
		retryAttempts: uint(attempts),
		retryDelay:    time.Second,
	}
}

// Enabled reports whether a webhook is configured.
func (c *Client) Enabled() bool { return c.webhookURL != "" }

func (c *Client) SendMessage(ctx context.Context, text string) error {
	payload, err := json.Marshal(Message{Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = retry.Do(
		func() error { return c.post(ctx, payload) },
		retry.Attempts(c.retryAttempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Debug("slack webhook retry", "attempt", n+1, "error", err.Error())
		}),
		retry.Context(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed after %d attempts: %w", c.retryAttempts, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	err = fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	// A bad webhook will not fix itself.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Unrecoverable(err)
	}
	return err
}

// TestWebhook posts a connectivity message.
func TestWebhook(ctx context.Context, cfg config.SlackConfig) error {
	cfg.RetryAttempts = 1
	return NewClient(cfg).SendMessage(ctx, "🔧 FreeScout SLA tray test message - connection successful!")
}
