package repository

import (
	"context"

	"stampd/internal/model"
)

// LedgerTx is a single atomic ledger write. Begin locks nothing by itself;
// LockBalance takes the per-user row lock that serializes concurrent writers
// for the same user while leaving other users untouched.
type LedgerTx interface {
	// LockBalance upserts the user's balance row if missing and locks it
	// (SELECT ... FOR UPDATE) for the remainder of the transaction.
	LockBalance(ctx context.Context, userID string) (*model.BalanceCache, error)

	// FindEntryByReference returns the prior entry for an idempotency key,
	// or nil when none exists.
	FindEntryByReference(ctx context.Context, referenceType, referenceID string) (*model.LedgerEntry, error)

	// InsertEntry appends one immutable ledger row.
	InsertEntry(ctx context.Context, e *model.LedgerEntry) error

	// SaveBalance overwrites the cached balance row inside the transaction.
	SaveBalance(ctx context.Context, b *model.BalanceCache) error

	Commit() error
	Rollback() error
}

// BalanceFold is the result of folding a user's ledger entries.
type BalanceFold struct {
	Available int64
	Used      int64
	Total     int64
}

// LedgerRepository defines data access for the credit ledger. Entries are
// append-only: there is deliberately no update or delete operation.
type LedgerRepository interface {
	// Begin opens a transaction for an atomic ledger write.
	Begin(ctx context.Context) (LedgerTx, error)

	// FoldBalance recomputes the user's balance from their entries.
	FoldBalance(ctx context.Context, userID string) (*BalanceFold, error)

	// GetBalance returns the cached balance row, or nil when the user has
	// no balance row yet.
	GetBalance(ctx context.Context, userID string) (*model.BalanceCache, error)

	// SaveBalance overwrites the cached balance row outside a ledger
	// transaction (reconciler use).
	SaveBalance(ctx context.Context, b *model.BalanceCache) error

	// ListEntries returns the user's entries, oldest first.
	ListEntries(ctx context.Context, userID string, pq PageQuery) (*PageResult[model.LedgerEntry], error)
}
