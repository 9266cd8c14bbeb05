package sheets

import (
	"context"

	"jizhang/internal/core"
)

// Ports for outbound adapters.
type (
	// TransactionMirror keeps a copy of the ledger in an external sheet.
	TransactionMirror interface {
		// Upsert writes t to the row holding its id, appending a row when absent.
		Upsert(ctx context.Context, t core.Transaction) (rowRef string, err error)
		// Remove deletes the row holding id. Removing an absent id is not an error.
		Remove(ctx context.Context, id int64) error
	}

	// TransactionLister reads the mirrored transactions back.
	TransactionLister interface {
		ListTransactions(ctx context.Context) ([]core.Transaction, error)
	}
)
