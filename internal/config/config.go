package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"

	"jizhang/internal/core"
)

type Config struct {
	// HTTP Server
	Port           string
	RateLimitRPS   float64 `validate:"gt=0"`
	RateLimitBurst int     `validate:"gte=1,lte=1000"`

	// Logging
	LogLevel string `validate:"oneof=debug info warn error"`

	// Ledger
	SQLiteDBPath       string `validate:"required"`
	WriteRetryAttempts int    `validate:"gte=1,lte=20"`
	Timezone           string `validate:"required"`
	IncomeCategories   []string
	ExpenseCategories  []string

	// AMQP (optional for the server, required by the worker)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets mirror
	GoogleSpreadsheetID string
	GoogleSheetName     string

	// Worker
	SyncOnStartup bool
	SyncInterval  time.Duration

	// Telegram seeds, written to app_config only when the keys are missing
	TelegramEnabled        bool
	TelegramBotToken       string
	TelegramAllowedChatIDs string
	TelegramPollInterval   time.Duration
	TelegramAPIEndpoint    string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Load() *Config {
	cfg := &Config{
		Port:           getEnv("PORT", "8081"),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),

		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),

		SQLiteDBPath:       getEnv("SQLITE_DB_PATH", "./data/jizhang.db"),
		WriteRetryAttempts: getEnvInt("WRITE_RETRY_ATTEMPTS", 4),
		Timezone:           getEnv("LEDGER_TIMEZONE", "Asia/Shanghai"),
		IncomeCategories:   getEnvList("LEDGER_INCOME_CATEGORIES", core.DefaultIncomeCategories),
		ExpenseCategories:  getEnvList("LEDGER_EXPENSE_CATEGORIES", core.DefaultExpenseCategories),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "jizhang"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", "Ledger"),

		SyncOnStartup: getEnvBool("SYNC_ON_STARTUP", true),
		SyncInterval:  getEnvDuration("SYNC_INTERVAL", time.Hour),

		TelegramEnabled:        getEnvBool("TELEGRAM_ENABLED", false),
		TelegramBotToken:       getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAllowedChatIDs: getEnv("TELEGRAM_ALLOWED_CHAT_IDS", ""),
		TelegramPollInterval:   getEnvDuration("TELEGRAM_POLL_INTERVAL", core.DefaultPollInterval),
		TelegramAPIEndpoint:    getEnv("TELEGRAM_API_ENDPOINT", ""),
	}

	return cfg
}

// Validate validates the configuration and returns an error listing every problem.
func (c *Config) Validate() error {
	var errors []string

	if err := validate.Struct(c); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				errors = append(errors, fmt.Sprintf("invalid %s %v: failed '%s' check", fe.Field(), fe.Value(), fieldRule(fe)))
			}
		} else {
			errors = append(errors, err.Error())
		}
	}

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Check if the database directory exists or can be created
	if c.SQLiteDBPath != "" {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
		}
	}

	registry := c.Registry()
	for _, kind := range core.Kinds() {
		if len(registry.List(kind)) == 0 {
			errors = append(errors, fmt.Sprintf("no %s categories configured", kind))
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SyncInterval < 0 {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must not be negative", c.SyncInterval))
	} else if c.SyncInterval > 0 && c.SyncInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 minute or 0 to disable", c.SyncInterval))
	}

	// Validate Telegram seeds
	if _, err := core.ParseChatIDs(c.TelegramAllowedChatIDs); err != nil {
		errors = append(errors, fmt.Sprintf("invalid TELEGRAM_ALLOWED_CHAT_IDS: %v", err))
	}
	if c.TelegramPollInterval < core.MinPollInterval {
		errors = append(errors, fmt.Sprintf("invalid telegram poll interval %v: must be at least %v", c.TelegramPollInterval, core.MinPollInterval))
	}
	if c.TelegramEnabled && strings.TrimSpace(c.TelegramBotToken) == "" {
		errors = append(errors, "TELEGRAM_BOT_TOKEN is required when TELEGRAM_ENABLED is set")
	}
	if c.TelegramAPIEndpoint != "" && strings.Count(c.TelegramAPIEndpoint, "%s") != 2 {
		errors = append(errors, fmt.Sprintf("invalid telegram API endpoint '%s': must contain two %%s placeholders (token, method)", c.TelegramAPIEndpoint))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateWorker checks the settings the sync worker cannot run without.
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.AMQPURL == "" {
		return fmt.Errorf("configuration validation failed:\n- AMQP_URL is required by the worker")
	}
	return nil
}

// Location returns the ledger time zone, falling back to UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Registry builds the category registry from the configured labels.
func (c *Config) Registry() *core.Registry {
	return core.NewRegistry(c.IncomeCategories, c.ExpenseCategories)
}

func fieldRule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value. Blank entries are dropped.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
