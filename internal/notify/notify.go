// Package notify delivers operator alerts about job failures.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

type Level string

const (
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// Notifier sends a message to operators. Delivery is best effort: failures
// are logged and never returned to the caller.
type Notifier interface {
	Notify(ctx context.Context, level Level, message string)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, Level, string) {}

// Slack posts messages to an incoming webhook.
type Slack struct {
	webhookURL string
	env        string
	client     *http.Client
	logger     *slog.Logger
}

// NewSlack creates a webhook notifier. env is prefixed to every message so
// alerts from different deployments can share a channel.
func NewSlack(webhookURL, env string, timeout time.Duration) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		env:        env,
		client:     &http.Client{Timeout: timeout},
		logger:     slog.Default().With("component", "notify"),
	}
}

// New returns a Slack notifier, or Nop when no webhook is configured.
func New(webhookURL, env string, timeout time.Duration) Notifier {
	if webhookURL == "" {
		return Nop{}
	}
	return NewSlack(webhookURL, env, timeout)
}

type slackMessage struct {
	Text string `json:"text"`
}

func (s *Slack) Notify(ctx context.Context, level Level, message string) {
	if err := s.post(ctx, s.format(level, message)); err != nil {
		s.logger.WarnContext(ctx, "slack notification failed",
			"level", string(level),
			"error", err,
		)
	}
}

func (s *Slack) format(level Level, message string) string {
	return fmt.Sprintf("*%s* [datapump %s] %s", level, s.env, message)
}

func (s *Slack) post(ctx context.Context, text string) error {
	body, err := json.Marshal(slackMessage{Text: text})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
