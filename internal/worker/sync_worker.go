package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jizhang/internal/core"
	"jizhang/internal/sheets"
)

// LedgerReader walks the ledger month by month. *storage.SQLiteRepository implements it.
type LedgerReader interface {
	Months(ctx context.Context) ([]string, error)
	QueryMonth(ctx context.Context, year, month int) ([]core.Transaction, error)
}

// SyncWorker mirrors ledger changes into a spreadsheet.
type SyncWorker struct {
	mirror sheets.TransactionMirror
	lister sheets.TransactionLister
}

// NewSyncWorker creates a worker writing to mirror. When mirror can also list
// its rows, Reconcile removes rows whose transaction no longer exists.
func NewSyncWorker(mirror sheets.TransactionMirror) *SyncWorker {
	w := &SyncWorker{mirror: mirror}
	if l, ok := mirror.(sheets.TransactionLister); ok {
		w.lister = l
	}
	return w
}

// HandleEvent applies one ledger event to the mirror. It matches amqp.Handler.
func (w *SyncWorker) HandleEvent(ctx context.Context, e core.TransactionEvent) error {
	t := e.Transaction
	switch e.Type {
	case core.EventCreated, core.EventUpdated:
		ref, err := w.mirror.Upsert(ctx, t)
		if err != nil {
			return fmt.Errorf("mirror transaction %d: %w", t.ID, err)
		}
		slog.InfoContext(ctx, "Mirrored transaction",
			"transaction_id", t.ID,
			"event", e.Type,
			"row", ref)
		return nil

	case core.EventDeleted:
		if err := w.mirror.Remove(ctx, t.ID); err != nil {
			return fmt.Errorf("remove transaction %d: %w", t.ID, err)
		}
		slog.InfoContext(ctx, "Removed mirrored transaction", "transaction_id", t.ID)
		return nil

	default:
		// Unknown types cannot become valid by retrying.
		slog.WarnContext(ctx, "Ignoring unknown event type",
			"transaction_id", t.ID,
			"event", e.Type)
		return nil
	}
}

// ReconcileResult counts what Reconcile changed.
type ReconcileResult struct {
	Upserted int
	Removed  int
	Failed   int
}

// Reconcile copies every ledger transaction into the mirror and drops mirrored
// rows that have no ledger transaction. It covers events lost while the broker
// or the worker was down. Per-transaction failures are counted, not returned.
func (w *SyncWorker) Reconcile(ctx context.Context, ledger LedgerReader) (ReconcileResult, error) {
	var res ReconcileResult
	start := time.Now()

	months, err := ledger.Months(ctx)
	if err != nil {
		return res, fmt.Errorf("list months: %w", err)
	}

	// Listed before the walk so rows mirrored by events meanwhile are kept.
	var mirrored []core.Transaction
	if w.lister != nil {
		mirrored, err = w.lister.ListTransactions(ctx)
		if err != nil {
			return res, fmt.Errorf("list mirrored transactions: %w", err)
		}
	}

	seen := make(map[int64]struct{})
	complete := true
	for _, m := range months {
		first, err := time.Parse("2006-01", m)
		if err != nil {
			slog.WarnContext(ctx, "Skipping unreadable month", "month", m, "error", err)
			complete = false
			continue
		}
		txs, err := ledger.QueryMonth(ctx, first.Year(), int(first.Month()))
		if err != nil {
			return res, fmt.Errorf("query month %s: %w", m, err)
		}
		for _, t := range txs {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			seen[t.ID] = struct{}{}
			if _, err := w.mirror.Upsert(ctx, t); err != nil {
				slog.ErrorContext(ctx, "Failed to mirror transaction", "transaction_id", t.ID, "error", err)
				res.Failed++
				continue
			}
			res.Upserted++
		}
	}

	// Rows of a skipped month would look stale.
	if w.lister != nil && complete {
		for _, t := range mirrored {
			if _, ok := seen[t.ID]; ok {
				continue
			}
			if err := w.mirror.Remove(ctx, t.ID); err != nil {
				slog.ErrorContext(ctx, "Failed to remove stale row", "transaction_id", t.ID, "error", err)
				res.Failed++
				continue
			}
			res.Removed++
		}
	}

	slog.InfoContext(ctx, "Reconciled mirror",
		"upserted", res.Upserted,
		"removed", res.Removed,
		"failed", res.Failed,
		"duration", time.Since(start))
	return res, nil
}
