package core

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPollInterval = 5 * time.Second
	MinPollInterval     = 2 * time.Second
)

// BotSettings is the bot authorization state. It is re-read from its
// source at the start of every polling cycle.
type BotSettings struct {
	Enabled        bool
	Token          string
	AllowedChatIDs []int64
	PollInterval   time.Duration
}

// Active reports whether the poller should fetch messages.
func (s BotSettings) Active() bool {
	return s.Enabled && strings.TrimSpace(s.Token) != ""
}

// Allows reports whether chatID may use the bot. An empty allow-list allows everyone.
func (s BotSettings) Allows(chatID int64) bool {
	if len(s.AllowedChatIDs) == 0 {
		return true
	}
	return slices.Contains(s.AllowedChatIDs, chatID)
}

// Authorize returns an AuthorizationError when chatID is not allowed.
func (s BotSettings) Authorize(chatID int64) error {
	if !s.Allows(chatID) {
		return &AuthorizationError{ChatID: chatID}
	}
	return nil
}

// Interval returns the poll interval clamped to MinPollInterval.
func (s BotSettings) Interval() time.Duration {
	if s.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return max(s.PollInterval, MinPollInterval)
}

// ParseChatIDs parses a comma or whitespace separated list of chat ids.
func ParseChatIDs(s string) ([]int64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t'
	})
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, &ValidationError{Field: "allowed_chat_ids", Err: fmt.Errorf("%q is not a chat id", f)}
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// FormatChatIDs is the inverse of ParseChatIDs.
func FormatChatIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
