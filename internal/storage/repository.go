package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"jizhang/internal/core"

	_ "modernc.org/sqlite"
)

const (
	DefaultRecentLimit = 100
	MaxRecentLimit     = 1000
)

// SQLiteRepository is the durable ledger. Writes are serialized by writeMu so
// concurrent creates from the API and the bot never interleave; reads run
// concurrently on the pool.
type SQLiteRepository struct {
	db      *sql.DB
	writeMu sync.Mutex
	retry   RetryPolicy
	now     func() time.Time
}

// Option customizes a repository.
type Option func(*SQLiteRepository)

// WithRetryPolicy overrides the transient-error retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *SQLiteRepository) { r.retry = p }
}

// WithClock overrides the clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(r *SQLiteRepository) { r.now = now }
}

func dsn(dbPath string) string {
	return "file:" + dbPath +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(FULL)"
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath and migrates it.
func NewSQLiteRepository(dbPath string, opts ...Option) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewWithDB(db, opts...), nil
}

// NewWithDB wraps an already migrated database handle.
func NewWithDB(db *sql.DB, opts ...Option) *SQLiteRepository {
	r := &SQLiteRepository{
		db:    db,
		retry: DefaultRetryPolicy(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const transactionColumns = `id, kind, amount_cents, category, note, occurred_on, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t          core.Transaction
		kind       string
		occurredOn string
		createdAt  string
	)
	if err := row.Scan(&t.ID, &kind, &t.Amount.Cents, &t.Category, &t.Note, &occurredOn, &createdAt); err != nil {
		return core.Transaction{}, err
	}
	t.Kind = core.Kind(kind)

	d, err := time.Parse(core.DateLayout, occurredOn)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse occurred_on %q of transaction %d: %w", occurredOn, t.ID, err)
	}
	t.OccurredOn = core.Date{Time: d}

	t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse created_at %q of transaction %d: %w", createdAt, t.ID, err)
	}
	return t, nil
}

func (r *SQLiteRepository) queryTransactions(ctx context.Context, op, query string, args ...any) ([]core.Transaction, error) {
	var out []core.Transaction
	err := r.withRetry(ctx, op, func(ctx context.Context) error {
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			t, err := scanTransaction(rows)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []core.Transaction{}
	}
	return out, nil
}

// Create persists a draft and returns the stored transaction with its id.
// Drafts are expected to be validated by the caller.
func (r *SQLiteRepository) Create(ctx context.Context, d core.TransactionDraft) (core.Transaction, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	t := core.Transaction{
		Kind:       d.Kind,
		Amount:     d.Amount,
		Category:   d.Category,
		Note:       d.Note,
		OccurredOn: d.OccurredOn,
		CreatedAt:  r.now().UTC(),
	}

	err := r.withRetry(ctx, "create", func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx,
			`INSERT INTO transactions (kind, amount_cents, category, note, occurred_on, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			string(t.Kind), t.Amount.Cents, t.Category, t.Note, t.OccurredOn.String(), t.CreatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		t.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Transaction saved to SQLite",
		"id", t.ID,
		"kind", t.Kind,
		"amount_cents", t.Amount.Cents,
		"category", t.Category,
		"occurred_on", t.OccurredOn.String())

	return t, nil
}

// Update loads transaction id, passes it to mutate and stores the result, all
// inside one SQL transaction under the write lock. mutate may reject the
// change by returning an error, in which case nothing is written.
func (r *SQLiteRepository) Update(ctx context.Context, id int64, mutate func(core.Transaction) (core.Transaction, error)) (core.Transaction, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	var updated core.Transaction
	err := r.withRetry(ctx, "update", func(ctx context.Context) error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		current, err := scanTransaction(tx.QueryRowContext(ctx,
			`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return &core.NotFoundError{ID: id}
		}
		if err != nil {
			return err
		}

		next, err := mutate(current)
		if err != nil {
			return err
		}
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt

		if _, err := tx.ExecContext(ctx,
			`UPDATE transactions
			 SET kind = ?, amount_cents = ?, category = ?, note = ?, occurred_on = ?
			 WHERE id = ?`,
			string(next.Kind), next.Amount.Cents, next.Category, next.Note, next.OccurredOn.String(), id); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Transaction updated", "id", id, "amount_cents", updated.Amount.Cents, "category", updated.Category)
	return updated, nil
}

// Delete removes transaction id permanently. Deleting an absent id fails with NotFoundError.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) (core.Transaction, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	var deleted core.Transaction
	err := r.withRetry(ctx, "delete", func(ctx context.Context) error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		deleted, err = scanTransaction(tx.QueryRowContext(ctx,
			`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return &core.NotFoundError{ID: id}
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Transaction deleted", "id", id)
	return deleted, nil
}

// Get returns transaction id.
func (r *SQLiteRepository) Get(ctx context.Context, id int64) (core.Transaction, error) {
	var t core.Transaction
	err := r.withRetry(ctx, "get", func(ctx context.Context) error {
		var err error
		t, err = scanTransaction(r.db.QueryRowContext(ctx,
			`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return &core.NotFoundError{ID: id}
		}
		return err
	})
	return t, err
}

// Recent returns up to limit transactions, newest occurred_on first, then highest id.
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]core.Transaction, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	limit = min(limit, MaxRecentLimit)

	return r.queryTransactions(ctx, "recent",
		`SELECT `+transactionColumns+` FROM transactions
		 ORDER BY occurred_on DESC, id DESC
		 LIMIT ?`, limit)
}

// QueryMonth returns every transaction of the calendar month ordered by occurred_on, id.
func (r *SQLiteRepository) QueryMonth(ctx context.Context, year, month int) ([]core.Transaction, error) {
	from, to, err := core.MonthRange(year, month)
	if err != nil {
		return nil, err
	}

	return r.queryTransactions(ctx, "query month",
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE occurred_on >= ? AND occurred_on < ?
		 ORDER BY occurred_on ASC, id ASC`, from.String(), to.String())
}

// Totals sums income and expense across all time.
func (r *SQLiteRepository) Totals(ctx context.Context) (core.Totals, error) {
	var t core.Totals
	err := r.withRetry(ctx, "totals", func(ctx context.Context) error {
		return r.db.QueryRowContext(ctx,
			`SELECT
			   COALESCE(SUM(CASE WHEN kind = 'income'  THEN amount_cents ELSE 0 END), 0),
			   COALESCE(SUM(CASE WHEN kind = 'expense' THEN amount_cents ELSE 0 END), 0)
			 FROM transactions`).Scan(&t.Income.Cents, &t.Expense.Cents)
	})
	if err != nil {
		return core.Totals{}, err
	}
	t.Balance = t.Income.Sub(t.Expense)
	return t, nil
}

// Months lists the distinct YYYY-MM months that have transactions, newest first.
func (r *SQLiteRepository) Months(ctx context.Context) ([]string, error) {
	var months []string
	err := r.withRetry(ctx, "months", func(ctx context.Context) error {
		rows, err := r.db.QueryContext(ctx,
			`SELECT DISTINCT substr(occurred_on, 1, 7) AS month
			 FROM transactions
			 ORDER BY month DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		months = months[:0]
		for rows.Next() {
			var m string
			if err := rows.Scan(&m); err != nil {
				return err
			}
			months = append(months, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if months == nil {
		months = []string{}
	}
	return months, nil
}
