package postgres

import (
	"context"
	"database/sql"
	"errors"

	"stampd/internal/model"
	"stampd/internal/repository"
)

// LedgerPostgres is a PostgreSQL implementation of repository.LedgerRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type LedgerPostgres struct {
	db *sql.DB
}

// NewLedgerPostgres creates a new LedgerPostgres repository.
func NewLedgerPostgres(db *sql.DB) *LedgerPostgres {
	return &LedgerPostgres{db: db}
}

var _ repository.LedgerRepository = (*LedgerPostgres)(nil)

// ledgerTx wraps one sql.Tx for a single atomic ledger write.
type ledgerTx struct {
	tx *sql.Tx
}

var _ repository.LedgerTx = (*ledgerTx)(nil)

// Begin opens a transaction for an atomic ledger write.
func (r *LedgerPostgres) Begin(ctx context.Context) (repository.LedgerTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &ledgerTx{tx: tx}, nil
}

// LockBalance upserts the user's balance row and locks it for the rest of the
// transaction. Concurrent writers for the same user queue here; writers for
// different users lock different rows and proceed independently.
func (t *ledgerTx) LockBalance(ctx context.Context, userID string) (*model.BalanceCache, error) {
	const qUpsert = `
		INSERT INTO balance_cache (user_id, available, used, total, plan_type, updated_at)
		VALUES ($1, 0, 0, 0, '', now())
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := t.tx.ExecContext(ctx, qUpsert, userID); err != nil {
		return nil, err
	}

	const qLock = `
		SELECT user_id, available, used, total, plan_type, updated_at
		FROM balance_cache
		WHERE user_id = $1
		FOR UPDATE
	`
	row := t.tx.QueryRowContext(ctx, qLock, userID)
	var b model.BalanceCache
	if err := row.Scan(&b.UserID, &b.Available, &b.Used, &b.Total, &b.PlanType, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// FindEntryByReference returns the prior entry for an idempotency key, or nil.
func (t *ledgerTx) FindEntryByReference(ctx context.Context, referenceType, referenceID string) (*model.LedgerEntry, error) {
	const q = `
		SELECT id, user_id, operation, amount, balance_after, reason, reference_type, reference_id, actor_id, created_at
		FROM ledger_entries
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY created_at ASC
		LIMIT 1
	`
	row := t.tx.QueryRowContext(ctx, q, referenceType, referenceID)
	e, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// InsertEntry appends one immutable ledger row.
func (t *ledgerTx) InsertEntry(ctx context.Context, e *model.LedgerEntry) error {
	const q = `
		INSERT INTO ledger_entries (id, user_id, operation, amount, balance_after, reason, reference_type, reference_id, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := t.tx.ExecContext(ctx, q,
		e.ID,
		e.UserID,
		string(e.Operation),
		e.Amount,
		e.BalanceAfter,
		e.Reason,
		e.ReferenceType,
		e.ReferenceID,
		e.ActorID,
		e.CreatedAt,
	)
	return err
}

// SaveBalance overwrites the cached balance row inside the transaction.
func (t *ledgerTx) SaveBalance(ctx context.Context, b *model.BalanceCache) error {
	return saveBalance(ctx, t.tx, b)
}

func (t *ledgerTx) Commit() error   { return t.tx.Commit() }
func (t *ledgerTx) Rollback() error { return t.tx.Rollback() }

// FoldBalance recomputes the user's balance from their entries. The ledger is
// the only truth source; this aggregate is what the cache must agree with.
func (r *LedgerPostgres) FoldBalance(ctx context.Context, userID string) (*repository.BalanceFold, error) {
	const q = `
		SELECT
			COALESCE(SUM(amount), 0) AS available,
			COALESCE(SUM(CASE WHEN operation = 'CONSUME' THEN -amount ELSE 0 END), 0) AS used
		FROM ledger_entries
		WHERE user_id = $1
	`
	row := r.db.QueryRowContext(ctx, q, userID)
	var f repository.BalanceFold
	if err := row.Scan(&f.Available, &f.Used); err != nil {
		return nil, err
	}
	f.Total = f.Available + f.Used
	return &f, nil
}

// GetBalance returns the cached balance row, or nil when absent.
func (r *LedgerPostgres) GetBalance(ctx context.Context, userID string) (*model.BalanceCache, error) {
	const q = `
		SELECT user_id, available, used, total, plan_type, updated_at
		FROM balance_cache
		WHERE user_id = $1
	`
	row := r.db.QueryRowContext(ctx, q, userID)
	var b model.BalanceCache
	err := row.Scan(&b.UserID, &b.Available, &b.Used, &b.Total, &b.PlanType, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// SaveBalance overwrites the cached balance row (reconciler use).
func (r *LedgerPostgres) SaveBalance(ctx context.Context, b *model.BalanceCache) error {
	return saveBalance(ctx, r.db, b)
}

// ListEntries returns the user's entries, oldest first.
func (r *LedgerPostgres) ListEntries(ctx context.Context, userID string, pq repository.PageQuery) (*repository.PageResult[model.LedgerEntry], error) {
	const qCount = `SELECT COUNT(*) FROM ledger_entries WHERE user_id = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount, userID).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `
		SELECT id, user_id, operation, amount, balance_after, reason, reference_type, reference_id, actor_id, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, qList, userID, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.LedgerEntry, 0)
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.LedgerEntry]{Items: items, Total: total}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveBalance(ctx context.Context, db execer, b *model.BalanceCache) error {
	const q = `
		INSERT INTO balance_cache (user_id, available, used, total, plan_type, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			available = EXCLUDED.available,
			used = EXCLUDED.used,
			total = EXCLUDED.total,
			plan_type = EXCLUDED.plan_type,
			updated_at = EXCLUDED.updated_at
	`
	_, err := db.ExecContext(ctx, q,
		b.UserID,
		b.Available,
		b.Used,
		b.Total,
		b.PlanType,
		b.UpdatedAt,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedgerEntry(row rowScanner) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	var op string
	if err := row.Scan(
		&e.ID,
		&e.UserID,
		&op,
		&e.Amount,
		&e.BalanceAfter,
		&e.Reason,
		&e.ReferenceType,
		&e.ReferenceID,
		&e.ActorID,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.Operation = model.LedgerOperation(op)
	return &e, nil
}
