package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"jizhang/internal/amqp"
	"jizhang/internal/bot"
	"jizhang/internal/cli"
	"jizhang/internal/config"
	apphttp "jizhang/internal/http"
	"jizhang/internal/middleware/ratelimit"
	"jizhang/internal/services"
	"jizhang/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig((*config.Config).Validate)
	logger := cli.SetupLogger(cfg.LogLevel)

	ctx, stop := cli.SignalContext()
	defer stop()

	repo := cli.InitSQLite(cfg)
	defer repo.Close()

	// Event publishing is optional; without a broker the mirror is only
	// refreshed by the worker's reconcile pass.
	var events services.EventPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		events = client
		logger.InfoContext(ctx, "AMQP publisher connected", "exchange", cfg.AMQPExchange)
	} else {
		logger.InfoContext(ctx, "AMQP disabled - no AMQP_URL provided")
	}

	ledger := services.NewLedgerService(repo, cfg.Registry(), events)
	reports := services.NewReportService(repo)

	if err := seedBotSettings(ctx, repo, cfg); err != nil {
		logger.ErrorContext(ctx, "Failed to seed bot settings", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	botConfig := bot.DefaultConfig()
	botConfig.Location = cfg.Location()
	poller := bot.NewPoller(repo, repo, ledger,
		bot.TelegramDialer(cfg.TelegramAPIEndpoint, botConfig.FetchTimeout),
		botConfig, bot.NewMetrics(registry))

	rl := ratelimit.DefaultConfig()
	rl.RequestsPerSecond = cfg.RateLimitRPS
	rl.Burst = cfg.RateLimitBurst

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Ledger:   ledger,
		Reports:  reports,
		Settings: repo,
		Health:   repo,
		Bot:      poller,
		Metrics:  registry,
		Logger:   logger,
		Location: cfg.Location(),
	}, apphttp.Options{RateLimit: rl})

	if err := poller.Start(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to start bot poller", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.InfoContext(ctx, "Starting jizhang server",
			"port", cfg.Port,
			"database", cfg.SQLiteDBPath,
			"timezone", cfg.Timezone)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.InfoContext(context.Background(), "Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := poller.Stop(shutdownCtx); err != nil {
			logger.WarnContext(shutdownCtx, "Bot poller did not stop cleanly", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.ErrorContext(context.Background(), "Server error", "error", err)
		os.Exit(1)
	}
	logger.InfoContext(context.Background(), "Server stopped gracefully")
}

// seedBotSettings writes the environment's bot settings for keys the
// settings store does not have yet. Values saved through the API win.
func seedBotSettings(ctx context.Context, repo *storage.SQLiteRepository, cfg *config.Config) error {
	enabled := "0"
	if cfg.TelegramEnabled {
		enabled = "1"
	}
	seeds := map[string]string{
		storage.KeyTelegramEnabled:      enabled,
		storage.KeyTelegramPollInterval: strconv.Itoa(int(cfg.TelegramPollInterval / time.Second)),
	}
	if token := strings.TrimSpace(cfg.TelegramBotToken); token != "" {
		seeds[storage.KeyTelegramToken] = token
	}
	if cfg.TelegramAllowedChatIDs != "" {
		seeds[storage.KeyTelegramAllowedChats] = cfg.TelegramAllowedChatIDs
	}
	if err := repo.SeedConfig(ctx, seeds); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Bot settings seeded", "enabled", cfg.TelegramEnabled)
	return nil
}
