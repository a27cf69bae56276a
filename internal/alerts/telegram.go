// Package alerts delivers operator notifications for noteworthy conditions,
// currently via Telegram.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Notifier delivers a plain-text message to operators. Delivery is best
// effort and never blocks the caller's state changes.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Telegram sends messages through the Telegram bot API.
type Telegram struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegram creates a notifier for the given bot and chat.
func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Telegram) Notify(ctx context.Context, message string) {
	body, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    message,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode telegram payload")
		return
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Msg("failed to build telegram request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("failed to deliver telegram alert")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Msg("telegram alert rejected")
	}
}

// NopNotifier drops all notifications. Used when no bot is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string) {}
