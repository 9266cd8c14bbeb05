package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"jizhang/internal/core"
)

// Store is the persistence the ledger needs. *storage.SQLiteRepository implements it.
type Store interface {
	Create(ctx context.Context, d core.TransactionDraft) (core.Transaction, error)
	Update(ctx context.Context, id int64, mutate func(core.Transaction) (core.Transaction, error)) (core.Transaction, error)
	Delete(ctx context.Context, id int64) (core.Transaction, error)
	Get(ctx context.Context, id int64) (core.Transaction, error)
	Recent(ctx context.Context, limit int) ([]core.Transaction, error)
	QueryMonth(ctx context.Context, year, month int) ([]core.Transaction, error)
	Totals(ctx context.Context) (core.Totals, error)
	Months(ctx context.Context) ([]string, error)
}

// EventPublisher receives committed ledger changes. *amqp.Client implements it.
type EventPublisher interface {
	PublishTransactionEvent(ctx context.Context, e core.TransactionEvent) error
}

// LedgerService validates every write against the category registry before
// it reaches the store, and announces committed changes.
type LedgerService struct {
	store    Store
	registry *core.Registry
	events   EventPublisher
	now      func() time.Time
}

func NewLedgerService(store Store, registry *core.Registry, events EventPublisher) *LedgerService {
	if registry == nil {
		registry = core.DefaultRegistry()
	}
	return &LedgerService{
		store:    store,
		registry: registry,
		events:   events,
		now:      time.Now,
	}
}

// Registry returns the category registry used for validation.
func (s *LedgerService) Registry() *core.Registry {
	return s.registry
}

// Categories lists the valid categories for kind.
func (s *LedgerService) Categories(kind core.Kind) []string {
	return s.registry.List(kind)
}

// Create validates d and persists it.
func (s *LedgerService) Create(ctx context.Context, d core.TransactionDraft) (core.Transaction, error) {
	d.Category = strings.TrimSpace(d.Category)
	d.Note = strings.TrimSpace(d.Note)

	if err := s.validate(d); err != nil {
		return core.Transaction{}, err
	}

	t, err := s.store.Create(ctx, d)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	s.publish(ctx, core.EventCreated, t)
	return t, nil
}

// Update applies patch to transaction id. Category membership is re-checked
// only when kind or category change.
func (s *LedgerService) Update(ctx context.Context, id int64, patch core.TransactionPatch) (core.Transaction, error) {
	if patch.IsEmpty() {
		return core.Transaction{}, &core.ValidationError{Field: "patch", Err: core.ErrEmptyPatch}
	}

	t, err := s.store.Update(ctx, id, func(current core.Transaction) (core.Transaction, error) {
		next := patch.Apply(current)
		if err := next.Draft().Validate(); err != nil {
			return current, err
		}
		if next.Kind != current.Kind || next.Category != current.Category {
			if err := s.registry.Check(next.Kind, next.Category); err != nil {
				return current, err
			}
		}
		return next, nil
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction %d: %w", id, err)
	}

	s.publish(ctx, core.EventUpdated, t)
	return t, nil
}

// Delete removes transaction id. A second delete of the same id fails with NotFoundError.
func (s *LedgerService) Delete(ctx context.Context, id int64) error {
	t, err := s.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete transaction %d: %w", id, err)
	}

	s.publish(ctx, core.EventDeleted, t)
	return nil
}

func (s *LedgerService) Get(ctx context.Context, id int64) (core.Transaction, error) {
	return s.store.Get(ctx, id)
}

// Recent returns the newest transactions, most recent first.
func (s *LedgerService) Recent(ctx context.Context, limit int) ([]core.Transaction, error) {
	return s.store.Recent(ctx, limit)
}

// QueryMonth returns every transaction in the calendar month.
func (s *LedgerService) QueryMonth(ctx context.Context, year, month int) ([]core.Transaction, error) {
	return s.store.QueryMonth(ctx, year, month)
}

// Totals returns all-time income, expense and balance.
func (s *LedgerService) Totals(ctx context.Context) (core.Totals, error) {
	return s.store.Totals(ctx)
}

func (s *LedgerService) validate(d core.TransactionDraft) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return s.registry.Check(d.Kind, d.Category)
}

func (s *LedgerService) publish(ctx context.Context, typ core.EventType, t core.Transaction) {
	if s.events == nil {
		return
	}
	err := s.events.PublishTransactionEvent(ctx, core.TransactionEvent{Type: typ, Transaction: t, At: s.now().UTC()})
	if err != nil {
		// Don't fail the request - the transaction is already saved
		slog.ErrorContext(ctx, "Failed to publish transaction event",
			"id", t.ID,
			"event", typ,
			"error", err)
	}
}
