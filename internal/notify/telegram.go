package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

var _ Notifier = (*Telegram)(nil)

// DefaultTelegramURL is the Bot API endpoint.
const DefaultTelegramURL = "https://api.telegram.org"

// Telegram posts messages to one chat through the Bot API.
type Telegram struct {
	client *resty.Client
	token  string
	chatID string
}

// NewTelegram creates a Telegram notifier. An empty baseURL uses
// DefaultTelegramURL.
func NewTelegram(baseURL, token, chatID string) *Telegram {
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	return &Telegram{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(5 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
		token:  token,
		chatID: chatID,
	}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify sends text as a Markdown message.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	var out telegramResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id":    t.chatID,
			"text":       text,
			"parse_mode": "Markdown",
		}).
		SetResult(&out).
		SetError(&out).
		Post("/bot" + t.token + "/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("telegram sendMessage: %s: %s", resp.Status(), out.Description)
	}
	return nil
}
