// Package notify defines the outbound notification sink contract and a
// Telegram implementation used by the health notifier and digest job.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Sink delivers a formatted message to an operator-facing channel. Send
// errors are always logged by the caller and never propagated further —
// notification delivery must never stall or crash a kernel component.
type Sink interface {
	Send(ctx context.Context, text string, parseMode string) error
}

// Telegram sends messages via the Bot API's sendMessage endpoint.
type Telegram struct {
	logger *zap.Logger
	client *http.Client
	base   string
	chatID string
}

// NewTelegram constructs a sink for the given bot token and chat ID.
func NewTelegram(logger *zap.Logger, token, chatID string) *Telegram {
	return &Telegram{
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
		base:   "https://api.telegram.org/bot" + token,
		chatID: chatID,
	}
}

// Send posts text to the configured chat. parseMode defaults to "Markdown"
// when empty.
func (t *Telegram) Send(ctx context.Context, text string, parseMode string) error {
	if parseMode == "" {
		parseMode = "Markdown"
	}
	body, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"parse_mode":               parseMode,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram: send status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// NopSink discards every message. Used when no notification channel is
// configured.
type NopSink struct{}

func (NopSink) Send(ctx context.Context, text string, parseMode string) error { return nil }
