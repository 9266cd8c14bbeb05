package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"jizhang/internal/core"
)

type RepositoryTestSuite struct {
	suite.Suite
	path string
	repo *SQLiteRepository
	ctx  context.Context
}

func TestRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(RepositoryTestSuite))
}

func (s *RepositoryTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.path = filepath.Join(s.T().TempDir(), "data", "ledger.db")
	repo, err := NewSQLiteRepository(s.path)
	s.Require().NoError(err)
	s.repo = repo
}

func (s *RepositoryTestSuite) TearDownTest() {
	s.Require().NoError(s.repo.Close())
}

func draft(kind core.Kind, cents int64, category, day string) core.TransactionDraft {
	d, err := core.ParseDate(day)
	if err != nil {
		panic(err)
	}
	return core.TransactionDraft{Kind: kind, Amount: core.Money{Cents: cents}, Category: category, Note: "n", OccurredOn: d}
}

func (s *RepositoryTestSuite) TestCreateThenRecent() {
	created, err := s.repo.Create(s.ctx, draft(core.Expense, 3250, "餐饮", "2025-03-10"))
	s.Require().NoError(err)
	s.NotZero(created.ID)
	s.False(created.CreatedAt.IsZero())

	recent, err := s.repo.Recent(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(recent, 1)
	s.Equal(created.ID, recent[0].ID)
	s.Equal(int64(3250), recent[0].Amount.Cents)
	s.Equal("餐饮", recent[0].Category)
	s.Equal("2025-03-10", recent[0].OccurredOn.String())
	s.True(created.CreatedAt.Equal(recent[0].CreatedAt))
}

func (s *RepositoryTestSuite) TestRecentOrdering() {
	a, _ := s.repo.Create(s.ctx, draft(core.Expense, 100, "餐饮", "2025-03-01"))
	b, _ := s.repo.Create(s.ctx, draft(core.Expense, 100, "餐饮", "2025-03-05"))
	c, _ := s.repo.Create(s.ctx, draft(core.Income, 100, "工资", "2025-03-05"))

	recent, err := s.repo.Recent(s.ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(recent, 3)
	s.Equal([]int64{c.ID, b.ID, a.ID}, []int64{recent[0].ID, recent[1].ID, recent[2].ID})
}

func (s *RepositoryTestSuite) TestQueryMonthIsStableAndBounded() {
	_, _ = s.repo.Create(s.ctx, draft(core.Expense, 100, "餐饮", "2025-02-28"))
	_, _ = s.repo.Create(s.ctx, draft(core.Expense, 200, "交通", "2025-03-31"))
	_, _ = s.repo.Create(s.ctx, draft(core.Income, 300, "工资", "2025-03-01"))
	_, _ = s.repo.Create(s.ctx, draft(core.Expense, 400, "购物", "2025-04-01"))

	first, err := s.repo.QueryMonth(s.ctx, 2025, 3)
	s.Require().NoError(err)
	second, err := s.repo.QueryMonth(s.ctx, 2025, 3)
	s.Require().NoError(err)

	s.Require().Len(first, 2)
	s.Equal(first, second)
	s.Equal("2025-03-01", first[0].OccurredOn.String())
	s.Equal("2025-03-31", first[1].OccurredOn.String())

	empty, err := s.repo.QueryMonth(s.ctx, 2024, 1)
	s.Require().NoError(err)
	s.Empty(empty)

	_, err = s.repo.QueryMonth(s.ctx, 2025, 0)
	s.True(core.IsValidation(err))
}

func (s *RepositoryTestSuite) TestTotalsAndMonths() {
	_, _ = s.repo.Create(s.ctx, draft(core.Income, 100000, "工资", "2025-01-05"))
	_, _ = s.repo.Create(s.ctx, draft(core.Expense, 3250, "餐饮", "2025-01-06"))
	_, _ = s.repo.Create(s.ctx, draft(core.Expense, 750, "交通", "2025-03-06"))

	totals, err := s.repo.Totals(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(100000), totals.Income.Cents)
	s.Equal(int64(4000), totals.Expense.Cents)
	s.Equal(int64(96000), totals.Balance.Cents)

	months, err := s.repo.Months(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"2025-03", "2025-01"}, months)
}

func (s *RepositoryTestSuite) TestUpdate() {
	created, err := s.repo.Create(s.ctx, draft(core.Expense, 100, "餐饮", "2025-03-01"))
	s.Require().NoError(err)

	updated, err := s.repo.Update(s.ctx, created.ID, func(t core.Transaction) (core.Transaction, error) {
		t.Amount = core.Money{Cents: 999}
		t.Note = "changed"
		return t, nil
	})
	s.Require().NoError(err)
	s.Equal(int64(999), updated.Amount.Cents)
	s.True(created.CreatedAt.Equal(updated.CreatedAt))

	got, err := s.repo.Get(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal("changed", got.Note)

	// A rejected mutation leaves the row untouched.
	_, err = s.repo.Update(s.ctx, created.ID, func(t core.Transaction) (core.Transaction, error) {
		return t, &core.ValidationError{Field: "category", Err: core.ErrUnknownCategory}
	})
	s.True(errors.Is(err, core.ErrUnknownCategory))
	got, _ = s.repo.Get(s.ctx, created.ID)
	s.Equal(int64(999), got.Amount.Cents)

	_, err = s.repo.Update(s.ctx, 4242, func(t core.Transaction) (core.Transaction, error) { return t, nil })
	s.True(errors.Is(err, core.ErrNotFound))
}

func (s *RepositoryTestSuite) TestDoubleDeleteFails() {
	created, err := s.repo.Create(s.ctx, draft(core.Expense, 100, "餐饮", "2025-03-01"))
	s.Require().NoError(err)

	deleted, err := s.repo.Delete(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(created.ID, deleted.ID)

	_, err = s.repo.Delete(s.ctx, created.ID)
	var nf *core.NotFoundError
	s.Require().ErrorAs(err, &nf)
	s.Equal(created.ID, nf.ID)

	_, err = s.repo.Get(s.ctx, created.ID)
	s.True(errors.Is(err, core.ErrNotFound))
}

func (s *RepositoryTestSuite) TestIDsAreNeverReused() {
	a, _ := s.repo.Create(s.ctx, draft(core.Expense, 100, "餐饮", "2025-03-01"))
	_, err := s.repo.Delete(s.ctx, a.ID)
	s.Require().NoError(err)
	b, err := s.repo.Create(s.ctx, draft(core.Expense, 100, "餐饮", "2025-03-01"))
	s.Require().NoError(err)
	s.Greater(b.ID, a.ID)
}

func (s *RepositoryTestSuite) TestConcurrentCreatesGetDistinctIDs() {
	const n = 32
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[int64]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t, err := s.repo.Create(s.ctx, draft(core.Expense, 100, "餐饮", "2025-03-01"))
			if !s.NoError(err) {
				return
			}
			mu.Lock()
			ids[t.ID] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	s.Len(ids, n)

	all, err := s.repo.QueryMonth(s.ctx, 2025, 3)
	s.Require().NoError(err)
	s.Len(all, n)
}

func (s *RepositoryTestSuite) TestSurvivesReopen() {
	created, err := s.repo.Create(s.ctx, draft(core.Income, 500, "奖金", "2025-05-05"))
	s.Require().NoError(err)
	s.Require().NoError(s.repo.Close())

	reopened, err := NewSQLiteRepository(s.path)
	s.Require().NoError(err)
	s.repo = reopened

	got, err := s.repo.Get(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(created.Category, got.Category)
	s.Equal(created.Amount, got.Amount)
}

func (s *RepositoryTestSuite) TestBotSettingsRoundTrip() {
	settings, err := s.repo.BotSettings(s.ctx)
	s.Require().NoError(err)
	s.False(settings.Enabled)
	s.Equal(core.DefaultPollInterval, settings.PollInterval)

	want := core.BotSettings{Enabled: true, Token: "123:abc", AllowedChatIDs: []int64{42, -100}, PollInterval: 7 * time.Second}
	s.Require().NoError(s.repo.SaveBotSettings(s.ctx, want))

	got, err := s.repo.BotSettings(s.ctx)
	s.Require().NoError(err)
	s.Equal(want, got)

	// Seeding never overwrites what an operator saved.
	s.Require().NoError(s.repo.SeedConfig(s.ctx, map[string]string{KeyTelegramToken: "env-token", KeyTelegramLastUpdateID: "0"}))
	got, _ = s.repo.BotSettings(s.ctx)
	s.Equal("123:abc", got.Token)
}

func (s *RepositoryTestSuite) TestBrokenAllowListDisablesBot() {
	s.Require().NoError(s.repo.SetConfig(s.ctx, map[string]string{
		KeyTelegramEnabled:      "1",
		KeyTelegramToken:        "t",
		KeyTelegramAllowedChats: "42,abc",
	}))
	got, err := s.repo.BotSettings(s.ctx)
	s.Error(err)
	s.False(got.Enabled)
}

func (s *RepositoryTestSuite) TestCursor() {
	c, err := s.repo.Cursor(s.ctx)
	s.Require().NoError(err)
	s.Zero(c)

	s.Require().NoError(s.repo.SaveCursor(s.ctx, 1234))
	c, err = s.repo.Cursor(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1234), c)
}
