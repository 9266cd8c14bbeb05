package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"jizhang/internal/core"
)

// app_config keys
const (
	KeyTelegramEnabled      = "telegram_enabled"
	KeyTelegramToken        = "telegram_bot_token"
	KeyTelegramAllowedChats = "telegram_allowed_chat_ids"
	KeyTelegramPollInterval = "telegram_poll_interval"
	KeyTelegramLastUpdateID = "telegram_last_update_id"
)

// GetConfig returns the value stored under key, or def when absent.
func (r *SQLiteRepository) GetConfig(ctx context.Context, key, def string) (string, error) {
	value := def
	err := r.withRetry(ctx, "get config", func(ctx context.Context) error {
		err := r.db.QueryRowContext(ctx, `SELECT value FROM app_config WHERE key = ?`, key).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			value = def
			return nil
		}
		return err
	})
	return value, err
}

// SetConfig stores values atomically.
func (r *SQLiteRepository) SetConfig(ctx context.Context, values map[string]string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	return r.withRetry(ctx, "set config", func(ctx context.Context) error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for k, v := range values {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO app_config (key, value) VALUES (?, ?)
				 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
				return fmt.Errorf("set %s: %w", k, err)
			}
		}
		return tx.Commit()
	})
}

// SeedConfig stores values only for keys that are not set yet.
func (r *SQLiteRepository) SeedConfig(ctx context.Context, values map[string]string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	return r.withRetry(ctx, "seed config", func(ctx context.Context) error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for k, v := range values {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO app_config (key, value) VALUES (?, ?)
				 ON CONFLICT (key) DO NOTHING`, k, v); err != nil {
				return fmt.Errorf("seed %s: %w", k, err)
			}
		}
		return tx.Commit()
	})
}

// BotSettings reads the bot authorization state. Malformed values fall back
// to safe defaults rather than failing the polling cycle.
func (r *SQLiteRepository) BotSettings(ctx context.Context) (core.BotSettings, error) {
	var s core.BotSettings

	enabled, err := r.GetConfig(ctx, KeyTelegramEnabled, "0")
	if err != nil {
		return s, err
	}
	s.Enabled = enabled == "1" || enabled == "true"

	if s.Token, err = r.GetConfig(ctx, KeyTelegramToken, ""); err != nil {
		return s, err
	}

	chats, err := r.GetConfig(ctx, KeyTelegramAllowedChats, "")
	if err != nil {
		return s, err
	}
	if s.AllowedChatIDs, err = core.ParseChatIDs(chats); err != nil {
		// An unreadable allow-list must never open the bot to everyone.
		s.Enabled = false
		return s, err
	}

	interval, err := r.GetConfig(ctx, KeyTelegramPollInterval, "")
	if err != nil {
		return s, err
	}
	s.PollInterval = core.DefaultPollInterval
	if secs, perr := strconv.Atoi(interval); perr == nil && secs > 0 {
		s.PollInterval = time.Duration(secs) * time.Second
	}
	return s, nil
}

// SaveBotSettings replaces the bot authorization state.
func (r *SQLiteRepository) SaveBotSettings(ctx context.Context, s core.BotSettings) error {
	enabled := "0"
	if s.Enabled {
		enabled = "1"
	}
	return r.SetConfig(ctx, map[string]string{
		KeyTelegramEnabled:      enabled,
		KeyTelegramToken:        s.Token,
		KeyTelegramAllowedChats: core.FormatChatIDs(s.AllowedChatIDs),
		KeyTelegramPollInterval: strconv.Itoa(int(s.Interval() / time.Second)),
	})
}

// Cursor returns the last acknowledged Telegram update id.
func (r *SQLiteRepository) Cursor(ctx context.Context) (int64, error) {
	v, err := r.GetConfig(ctx, KeyTelegramLastUpdateID, "0")
	if err != nil {
		return 0, err
	}
	id, perr := strconv.ParseInt(v, 10, 64)
	if perr != nil {
		return 0, nil
	}
	return id, nil
}

// SaveCursor acknowledges every update up to and including id.
func (r *SQLiteRepository) SaveCursor(ctx context.Context, id int64) error {
	return r.SetConfig(ctx, map[string]string{KeyTelegramLastUpdateID: strconv.FormatInt(id, 10)})
}
