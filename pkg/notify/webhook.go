package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/bellhop/pkg/dispatch"
	"github.com/cuemby/bellhop/pkg/log"
	"github.com/rs/zerolog"
)

const defaultWebhookTimeout = 10 * time.Second

// Webhook posts each payload as JSON to a fixed URL, typically a mail relay.
// It makes exactly one attempt per payload.
type Webhook struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhook creates a webhook transport. A zero timeout uses 10s.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: log.WithComponent("webhook"),
	}
}

func (w *Webhook) Send(ctx context.Context, payload *dispatch.Payload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "bellhop/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	w.logger.Debug().Str("recipient", payload.Recipient).Int("status", resp.StatusCode).Msg("Webhook delivered")
	return nil
}

// Log writes payloads to the log instead of sending them
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a log-only transport for dry runs
func NewLog() *Log {
	return &Log{logger: log.WithComponent("notify")}
}

func (l *Log) Send(ctx context.Context, payload *dispatch.Payload) error {
	l.logger.Info().
		Str("recipient", payload.Recipient).
		Str("subject", payload.Subject).
		Interface("fields", payload.Fields).
		Msg("Notification (dry run)")
	return nil
}
