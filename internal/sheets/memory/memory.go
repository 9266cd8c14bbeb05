package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"jizhang/internal/core"
	ports "jizhang/internal/sheets"
)

var (
	_ ports.TransactionMirror = (*Store)(nil)
	_ ports.TransactionLister = (*Store)(nil)
)

// Store is an in-process mirror used when no spreadsheet is configured.
type Store struct {
	mu    sync.Mutex
	items []core.Transaction
}

func New() *Store {
	return &Store{}
}

// Upsert stores t and returns a synthetic row reference.
func (s *Store) Upsert(_ context.Context, t core.Transaction) (string, error) {
	if t.ID <= 0 {
		return "", fmt.Errorf("invalid transaction id %d", t.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == t.ID {
			s.items[i] = t
			return fmt.Sprintf("mem:%d", i+1), nil
		}
	}
	s.items = append(s.items, t)
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

func (s *Store) Remove(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = slices.DeleteFunc(s.items, func(t core.Transaction) bool { return t.ID == id })
	return nil
}

// ListTransactions returns the mirrored rows in sheet order.
func (s *Store) ListTransactions(_ context.Context) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items), nil
}
