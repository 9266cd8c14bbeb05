package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jizhang/internal/core"
	"jizhang/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.TransactionEvent
	err    error
}

func (p *recordingPublisher) PublishTransactionEvent(_ context.Context, e core.TransactionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []core.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func newTestLedger(t *testing.T) (*LedgerService, *storage.SQLiteRepository, *recordingPublisher) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	pub := &recordingPublisher{}
	return NewLedgerService(repo, core.DefaultRegistry(), pub), repo, pub
}

func expenseDraft(t *testing.T, amount, category, day string) core.TransactionDraft {
	t.Helper()
	m, err := core.ParseAmount(amount)
	require.NoError(t, err)
	d, err := core.ParseDate(day)
	require.NoError(t, err)
	return core.TransactionDraft{Kind: core.Expense, Amount: m, Category: category, Note: "午饭", OccurredOn: d}
}

func TestLedgerService_CreateThenRecent(t *testing.T) {
	svc, _, pub := newTestLedger(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, expenseDraft(t, "32.5", "餐饮", "2025-03-10"))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, core.Expense, created.Kind)
	assert.Equal(t, "32.50", created.Amount.String())
	assert.Equal(t, "餐饮", created.Category)
	assert.Equal(t, "午饭", created.Note)

	recent, err := svc.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, created.ID, recent[0].ID)

	assert.Equal(t, []core.EventType{core.EventCreated}, pub.types())
}

func TestLedgerService_CreateRejectsInvalidDrafts(t *testing.T) {
	day, err := core.ParseDate("2025-03-10")
	require.NoError(t, err)

	tests := []struct {
		name    string
		draft   core.TransactionDraft
		wantErr error
	}{
		{
			name:    "zero amount",
			draft:   core.TransactionDraft{Kind: core.Expense, Amount: core.Money{}, Category: "餐饮", OccurredOn: day},
			wantErr: core.ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			draft:   core.TransactionDraft{Kind: core.Expense, Amount: core.Money{Cents: -100}, Category: "餐饮", OccurredOn: day},
			wantErr: core.ErrInvalidAmount,
		},
		{
			name:    "unknown expense category",
			draft:   core.TransactionDraft{Kind: core.Expense, Amount: core.Money{Cents: 100}, Category: "火箭", OccurredOn: day},
			wantErr: core.ErrUnknownCategory,
		},
		{
			name:    "income category used for expense",
			draft:   core.TransactionDraft{Kind: core.Expense, Amount: core.Money{Cents: 100}, Category: "工资", OccurredOn: day},
			wantErr: core.ErrUnknownCategory,
		},
		{
			name:    "blank category",
			draft:   core.TransactionDraft{Kind: core.Income, Amount: core.Money{Cents: 100}, Category: "   ", OccurredOn: day},
			wantErr: core.ErrEmptyCategory,
		},
		{
			name:    "unknown kind",
			draft:   core.TransactionDraft{Kind: core.Kind("transfer"), Amount: core.Money{Cents: 100}, Category: "其他", OccurredOn: day},
			wantErr: core.ErrInvalidKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, pub := newTestLedger(t)
			ctx := context.Background()

			_, err := svc.Create(ctx, tt.draft)
			require.Error(t, err)
			assert.True(t, core.IsValidation(err), "expected validation error, got %v", err)
			assert.ErrorIs(t, err, tt.wantErr)

			recent, err := svc.Recent(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, recent, "rejected draft must not be persisted")
			assert.Empty(t, pub.types())
		})
	}
}

func TestLedgerService_Update(t *testing.T) {
	svc, _, pub := newTestLedger(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, expenseDraft(t, "20", "餐饮", "2025-03-10"))
	require.NoError(t, err)

	t.Run("valid patch", func(t *testing.T) {
		amount := core.Money{Cents: 4500}
		note := "  晚饭 "
		updated, err := svc.Update(ctx, created.ID, core.TransactionPatch{Amount: &amount, Note: &note})
		require.NoError(t, err)
		assert.Equal(t, int64(4500), updated.Amount.Cents)
		assert.Equal(t, "晚饭", updated.Note)
		assert.Equal(t, "餐饮", updated.Category)
		assert.True(t, created.CreatedAt.Equal(updated.CreatedAt))
	})

	t.Run("unknown category", func(t *testing.T) {
		category := "火箭"
		_, err := svc.Update(ctx, created.ID, core.TransactionPatch{Category: &category})
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrUnknownCategory)

		stored, err := svc.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "餐饮", stored.Category)
	})

	t.Run("kind change requires category of new kind", func(t *testing.T) {
		kind := core.Income
		_, err := svc.Update(ctx, created.ID, core.TransactionPatch{Kind: &kind})
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrUnknownCategory)

		category := "工资"
		updated, err := svc.Update(ctx, created.ID, core.TransactionPatch{Kind: &kind, Category: &category})
		require.NoError(t, err)
		assert.Equal(t, core.Income, updated.Kind)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		zero := core.Money{}
		_, err := svc.Update(ctx, created.ID, core.TransactionPatch{Amount: &zero})
		assert.ErrorIs(t, err, core.ErrInvalidAmount)
	})

	t.Run("empty patch", func(t *testing.T) {
		_, err := svc.Update(ctx, created.ID, core.TransactionPatch{})
		assert.ErrorIs(t, err, core.ErrEmptyPatch)
	})

	t.Run("missing id", func(t *testing.T) {
		note := "x"
		_, err := svc.Update(ctx, created.ID+100, core.TransactionPatch{Note: &note})
		var nf *core.NotFoundError
		require.True(t, errors.As(err, &nf), "expected NotFoundError, got %v", err)
		assert.Equal(t, created.ID+100, nf.ID)
	})

	assert.Equal(t, []core.EventType{core.EventCreated, core.EventUpdated, core.EventUpdated}, pub.types())
}

func TestLedgerService_DeleteTwice(t *testing.T) {
	svc, _, pub := newTestLedger(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, expenseDraft(t, "10", "交通", "2025-03-10"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, created.ID))

	err = svc.Delete(ctx, created.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.Equal(t, []core.EventType{core.EventCreated, core.EventDeleted}, pub.types())
}

func TestLedgerService_PublishFailureDoesNotFailWrite(t *testing.T) {
	svc, _, pub := newTestLedger(t)
	pub.err = errors.New("broker down")
	ctx := context.Background()

	created, err := svc.Create(ctx, expenseDraft(t, "10", "交通", "2025-03-10"))
	require.NoError(t, err)

	stored, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, stored.ID)
}

func TestLedgerService_NilPublisher(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer repo.Close()

	svc := NewLedgerService(repo, nil, nil)
	_, err = svc.Create(context.Background(), expenseDraft(t, "1", "其他", "2025-03-10"))
	require.NoError(t, err)
	assert.Contains(t, svc.Categories(core.Income), "工资")
}

func TestLedgerService_ConcurrentCreatesGetDistinctIDs(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	ctx := context.Background()

	const n = 24
	d := expenseDraft(t, "1.5", "购物", "2025-03-10")
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := svc.Create(ctx, d)
			if assert.NoError(t, err) {
				ids <- created.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)

	totals, err := svc.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(n*150), totals.Expense.Cents)
}
