package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stampd/internal/model"
	"stampd/internal/repository"
)

// AddCreditsParams are the inputs for a credit grant.
type AddCreditsParams struct {
	UserID         string
	Amount         int64
	Reason         string
	ReferenceType  string
	ReferenceID    string
	IsSubscription bool
	PlanType       string
}

// AddCreditsResult reports the outcome of a credit grant. Idempotent means a
// prior entry with the same reference already existed and nothing was
// mutated.
type AddCreditsResult struct {
	Success     bool  `json:"success"`
	AmountAdded int64 `json:"amount_added"`
	NewBalance  int64 `json:"new_balance"`
	WasReset    bool  `json:"was_reset"`
	Idempotent  bool  `json:"idempotent"`
}

// ConsumeResult reports the outcome of a credit consumption.
type ConsumeResult struct {
	Success          bool  `json:"success"`
	RemainingBalance int64 `json:"remaining_balance"`
	Idempotent       bool  `json:"idempotent"`
	Unlimited        bool  `json:"unlimited,omitempty"`
}

// RefundParams are the inputs for a refund write.
type RefundParams struct {
	UserID      string
	Amount      int64
	Reason      string
	ReferenceID string
	Actor       model.Actor
}

// RefundResult reports the outcome of a refund write.
type RefundResult struct {
	Success          bool  `json:"success"`
	AmountRefunded   int64 `json:"amount_refunded"`
	RemainingBalance int64 `json:"remaining_balance"`
	Idempotent       bool  `json:"idempotent"`
}

// AdjustResult reports the outcome of an administrative balance override.
type AdjustResult struct {
	Success    bool  `json:"success"`
	Delta      int64 `json:"delta"`
	NewBalance int64 `json:"new_balance"`
}

// LedgerService is the only writer of ledger entries. Every operation runs as
// one transaction holding the user's balance row lock, so concurrent writers
// for the same user serialize while other users proceed independently.
type LedgerService interface {
	// AddCredits grants credits. A repeated ReferenceID returns the prior
	// outcome with Idempotent=true and mutates nothing. IsSubscription sets
	// the balance to the cycle amount instead of accumulating.
	AddCredits(ctx context.Context, p AddCreditsParams) (*AddCreditsResult, error)

	// ConsumeCredit decrements one credit for a registration, at most once
	// per registration id. Returns ErrInsufficientBalance when the balance
	// is zero, unless the actor holds the unlimited role (which still writes
	// a zero-amount audit entry).
	ConsumeCredit(ctx context.Context, userID, registrationID, reason string, actor model.Actor) (*ConsumeResult, error)

	// RefundCredit removes previously granted credits. Requires a
	// non-anonymous authorized actor.
	RefundCredit(ctx context.Context, p RefundParams) (*RefundResult, error)

	// AdjustBalance overrides the balance to an absolute value, recording
	// the delta so the ledger fold stays consistent. Reason is mandatory.
	AdjustBalance(ctx context.Context, userID string, newBalance int64, reason string, actor model.Actor) (*AdjustResult, error)

	// GetBalance folds the user's entries. This is the only truth source;
	// the cached row is a derived convenience.
	GetBalance(ctx context.Context, userID string) (*repository.BalanceFold, error)

	// CachedBalance returns the derived balance row for display surfaces.
	CachedBalance(ctx context.Context, userID string) (*model.BalanceCache, error)

	// ListEntries returns the user's ledger entries, oldest first.
	ListEntries(ctx context.Context, userID string, limit, offset int) (*repository.PageResult[model.LedgerEntry], error)
}

type ledgerService struct {
	repo repository.LedgerRepository
}

// NewLedgerService constructs a new LedgerService.
func NewLedgerService(repo repository.LedgerRepository) LedgerService {
	return &ledgerService{repo: repo}
}

func (s *ledgerService) AddCredits(ctx context.Context, p AddCreditsParams) (*AddCreditsResult, error) {
	if p.UserID == "" {
		return nil, ErrUserRequired
	}
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if p.ReferenceType == "" || p.ReferenceID == "" {
		return nil, ErrIDRequired
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback()

	bal, err := tx.LockBalance(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}

	prior, err := tx.FindEntryByReference(ctx, p.ReferenceType, p.ReferenceID)
	if err != nil {
		return nil, fmt.Errorf("check reference: %w", err)
	}
	if prior != nil && prior.Operation == model.OpAdd {
		return &AddCreditsResult{
			Success:     true,
			AmountAdded: prior.Amount,
			NewBalance:  prior.BalanceAfter,
			Idempotent:  true,
		}, nil
	}

	var newAvailable, entryAmount int64
	wasReset := false
	if p.IsSubscription {
		// Subscription cycle: the balance becomes the cycle grant, it does
		// not accumulate. The entry records the delta so the fold holds.
		newAvailable = p.Amount
		entryAmount = newAvailable - bal.Available
		wasReset = true
	} else {
		newAvailable = bal.Available + p.Amount
		entryAmount = p.Amount
	}

	now := time.Now().UTC()
	entry := &model.LedgerEntry{
		ID:            uuid.New().String(),
		UserID:        p.UserID,
		Operation:     model.OpAdd,
		Amount:        entryAmount,
		BalanceAfter:  newAvailable,
		Reason:        p.Reason,
		ReferenceType: p.ReferenceType,
		ReferenceID:   p.ReferenceID,
		CreatedAt:     now,
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	bal.Available = newAvailable
	bal.Total = newAvailable + bal.Used
	if p.PlanType != "" {
		bal.PlanType = p.PlanType
	}
	bal.UpdatedAt = now
	if err := tx.SaveBalance(ctx, bal); err != nil {
		return nil, fmt.Errorf("save balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	return &AddCreditsResult{
		Success:     true,
		AmountAdded: p.Amount,
		NewBalance:  newAvailable,
		WasReset:    wasReset,
	}, nil
}

func (s *ledgerService) ConsumeCredit(ctx context.Context, userID, registrationID, reason string, actor model.Actor) (*ConsumeResult, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	if registrationID == "" {
		return nil, ErrIDRequired
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback()

	bal, err := tx.LockBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}

	prior, err := tx.FindEntryByReference(ctx, model.RefRegistration, registrationID)
	if err != nil {
		return nil, fmt.Errorf("check reference: %w", err)
	}
	if prior != nil && prior.Operation == model.OpConsume {
		return &ConsumeResult{
			Success:          true,
			RemainingBalance: prior.BalanceAfter,
			Idempotent:       true,
		}, nil
	}

	now := time.Now().UTC()
	entry := &model.LedgerEntry{
		ID:            uuid.New().String(),
		UserID:        userID,
		Operation:     model.OpConsume,
		Reason:        reason,
		ReferenceType: model.RefRegistration,
		ReferenceID:   registrationID,
		ActorID:       actor.ID,
		CreatedAt:     now,
	}

	if actor.IsUnlimited() {
		// Unlimited role bypasses the balance check but still leaves a
		// zero-amount audit entry.
		entry.Amount = 0
		entry.BalanceAfter = bal.Available
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("insert ledger entry: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit ledger tx: %w", err)
		}
		return &ConsumeResult{Success: true, RemainingBalance: bal.Available, Unlimited: true}, nil
	}

	if bal.Available < 1 {
		return nil, ErrInsufficientBalance
	}

	entry.Amount = -1
	entry.BalanceAfter = bal.Available - 1
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	bal.Available--
	bal.Used++
	bal.UpdatedAt = now
	if err := tx.SaveBalance(ctx, bal); err != nil {
		return nil, fmt.Errorf("save balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	return &ConsumeResult{Success: true, RemainingBalance: entry.BalanceAfter}, nil
}

func (s *ledgerService) RefundCredit(ctx context.Context, p RefundParams) (*RefundResult, error) {
	if !p.Actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if p.UserID == "" {
		return nil, ErrUserRequired
	}
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if p.ReferenceID == "" {
		return nil, ErrIDRequired
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback()

	bal, err := tx.LockBalance(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}

	prior, err := tx.FindEntryByReference(ctx, model.RefPayment, p.ReferenceID)
	if err != nil {
		return nil, fmt.Errorf("check reference: %w", err)
	}
	if prior != nil && prior.Operation == model.OpRefund {
		return &RefundResult{
			Success:          true,
			AmountRefunded:   -prior.Amount,
			RemainingBalance: prior.BalanceAfter,
			Idempotent:       true,
		}, nil
	}

	if bal.Available < p.Amount {
		// Refunds never drive the balance negative; the caller clamps or
		// routes to manual review.
		return nil, ErrInsufficientBalance
	}

	now := time.Now().UTC()
	entry := &model.LedgerEntry{
		ID:            uuid.New().String(),
		UserID:        p.UserID,
		Operation:     model.OpRefund,
		Amount:        -p.Amount,
		BalanceAfter:  bal.Available - p.Amount,
		Reason:        p.Reason,
		ReferenceType: model.RefPayment,
		ReferenceID:   p.ReferenceID,
		ActorID:       p.Actor.ID,
		CreatedAt:     now,
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	bal.Available -= p.Amount
	bal.Total -= p.Amount
	bal.UpdatedAt = now
	if err := tx.SaveBalance(ctx, bal); err != nil {
		return nil, fmt.Errorf("save balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	return &RefundResult{
		Success:          true,
		AmountRefunded:   p.Amount,
		RemainingBalance: entry.BalanceAfter,
	}, nil
}

func (s *ledgerService) AdjustBalance(ctx context.Context, userID string, newBalance int64, reason string, actor model.Actor) (*AdjustResult, error) {
	if !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if userID == "" {
		return nil, ErrUserRequired
	}
	if reason == "" {
		return nil, ErrReasonRequired
	}
	if newBalance < 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback()

	bal, err := tx.LockBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}

	delta := newBalance - bal.Available
	now := time.Now().UTC()
	entry := &model.LedgerEntry{
		ID:            uuid.New().String(),
		UserID:        userID,
		Operation:     model.OpAdjust,
		Amount:        delta,
		BalanceAfter:  newBalance,
		Reason:        reason,
		ReferenceType: model.RefManual,
		ReferenceID:   uuid.New().String(),
		ActorID:       actor.ID,
		CreatedAt:     now,
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	bal.Available = newBalance
	bal.Total = newBalance + bal.Used
	bal.UpdatedAt = now
	if err := tx.SaveBalance(ctx, bal); err != nil {
		return nil, fmt.Errorf("save balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	return &AdjustResult{Success: true, Delta: delta, NewBalance: newBalance}, nil
}

func (s *ledgerService) GetBalance(ctx context.Context, userID string) (*repository.BalanceFold, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	return s.repo.FoldBalance(ctx, userID)
}

func (s *ledgerService) CachedBalance(ctx context.Context, userID string) (*model.BalanceCache, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	bal, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return &model.BalanceCache{UserID: userID}, nil
	}
	return bal, nil
}

func (s *ledgerService) ListEntries(ctx context.Context, userID string, limit, offset int) (*repository.PageResult[model.LedgerEntry], error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListEntries(ctx, userID, repository.PageQuery{Limit: limit, Offset: offset})
}
