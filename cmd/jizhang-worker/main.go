package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"jizhang/internal/amqp"
	"jizhang/internal/cli"
	"jizhang/internal/config"
	"jizhang/internal/log"
	"jizhang/internal/sheets"
	gsheet "jizhang/internal/sheets/google"
	"jizhang/internal/sheets/memory"
	"jizhang/internal/storage"
	"jizhang/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig((*config.Config).ValidateWorker)
	logger := cli.SetupLogger(cfg.LogLevel).WithComponent(log.ComponentWorker)

	ctx, stop := cli.SignalContext()
	defer stop()

	logger.InfoContext(ctx, "Starting jizhang-worker")

	repo := cli.InitSQLite(cfg)
	defer repo.Close()

	var mirror sheets.TransactionMirror
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.NewFromEnv(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		mirror = client
		logger.InfoContext(ctx, "Google Sheets mirror initialized",
			"spreadsheet_id", cfg.GoogleSpreadsheetID,
			"sheet", cfg.GoogleSheetName)
	} else {
		mirror = memory.New()
		logger.InfoContext(ctx, "Google Sheets disabled - mirroring in memory")
	}
	syncWorker := worker.NewSyncWorker(mirror)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	if cfg.SyncOnStartup {
		reconcile(ctx, logger, syncWorker, repo)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := amqpClient.ConsumeWithReconnect(gctx, syncWorker.HandleEvent)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if cfg.SyncInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.SyncInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					reconcile(gctx, logger, syncWorker, repo)
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		logger.ErrorContext(context.Background(), "Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.InfoContext(context.Background(), "Worker shutdown complete")
}

// reconcile brings the mirror in line with the ledger, logging the outcome.
func reconcile(ctx context.Context, logger *log.Logger, w *worker.SyncWorker, repo *storage.SQLiteRepository) {
	started := time.Now()
	res, err := w.Reconcile(ctx, repo)
	if err != nil {
		logger.ErrorContext(ctx, "Reconcile failed", "error", err)
		return
	}
	logger.InfoContext(ctx, "Reconcile complete",
		"upserted", res.Upserted,
		"removed", res.Removed,
		"failed", res.Failed,
		"duration", time.Since(started))
}
