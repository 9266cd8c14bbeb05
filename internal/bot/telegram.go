package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// LongPollSeconds is how long Telegram holds a getUpdates request open.
const LongPollSeconds = 20

// TelegramMessenger talks to the Telegram Bot API.
type TelegramMessenger struct {
	api *tgbotapi.BotAPI
}

// TelegramDialer returns a Dialer for endpoint, a format string such as
// tgbotapi.APIEndpoint. An empty endpoint uses the public API.
func TelegramDialer(endpoint string, timeout time.Duration) Dialer {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := &http.Client{Timeout: timeout}

	return func(ctx context.Context, token string) (Messenger, error) {
		api, err := call(ctx, func() (*tgbotapi.BotAPI, error) {
			return tgbotapi.NewBotAPIWithClient(token, endpoint, client)
		})
		if err != nil {
			return nil, classify(err)
		}
		return &TelegramMessenger{api: api}, nil
	}
}

// Updates fetches pending updates starting at offset.
func (t *TelegramMessenger) Updates(ctx context.Context, offset int64) ([]Update, error) {
	cfg := tgbotapi.NewUpdate(int(offset))
	cfg.Timeout = LongPollSeconds
	cfg.AllowedUpdates = []string{"message"}

	raw, err := call(ctx, func() ([]tgbotapi.Update, error) {
		return t.api.GetUpdates(cfg)
	})
	if err != nil {
		return nil, classify(err)
	}

	updates := make([]Update, 0, len(raw))
	for _, r := range raw {
		u := Update{ID: int64(r.UpdateID)}
		if r.Message != nil && r.Message.Chat != nil {
			u.HasMessage = true
			u.ChatID = r.Message.Chat.ID
			u.Text = r.Message.Text
		}
		updates = append(updates, u)
	}
	return updates, nil
}

// Send delivers a plain text message.
func (t *TelegramMessenger) Send(ctx context.Context, chatID int64, text string) error {
	_, err := call(ctx, func() (tgbotapi.Message, error) {
		return t.api.Send(tgbotapi.NewMessage(chatID, text))
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// call runs fn and stops waiting for it once ctx is done. The Bot API client
// has no context support; its own HTTP timeout ends the abandoned request.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrEndpointAuth, apiErr.Message)
		}
		return fmt.Errorf("telegram api error %d: %s", apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("telegram request: %w", err)
}
