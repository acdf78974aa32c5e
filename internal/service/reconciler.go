package service

import (
	"context"
	"fmt"
	"time"

	"stampd/internal/model"
	"stampd/internal/repository"
)

// ReconcileResult surfaces both the authoritative and the cached values so
// drift is observable even after it has been corrected.
type ReconcileResult struct {
	UserID          string `json:"user_id"`
	Corrected       bool   `json:"corrected"`
	LedgerAvailable int64  `json:"ledger_available"`
	LedgerUsed      int64  `json:"ledger_used"`
	LedgerTotal     int64  `json:"ledger_total"`
	CachedAvailable int64  `json:"cached_available"`
	CachedUsed      int64  `json:"cached_used"`
	CachedTotal     int64  `json:"cached_total"`
}

// ReconcilerService recomputes a user's balance from the ledger fold and
// corrects cache drift. It never writes to the ledger.
type ReconcilerService interface {
	Reconcile(ctx context.Context, userID string) (*ReconcileResult, error)
}

type reconcilerService struct {
	repo repository.LedgerRepository
}

// NewReconcilerService constructs a new ReconcilerService.
func NewReconcilerService(repo repository.LedgerRepository) ReconcilerService {
	return &reconcilerService{repo: repo}
}

func (s *reconcilerService) Reconcile(ctx context.Context, userID string) (*ReconcileResult, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}

	fold, err := s.repo.FoldBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fold ledger: %w", err)
	}

	cached, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}

	res := &ReconcileResult{
		UserID:          userID,
		LedgerAvailable: fold.Available,
		LedgerUsed:      fold.Used,
		LedgerTotal:     fold.Total,
	}
	if cached != nil {
		res.CachedAvailable = cached.Available
		res.CachedUsed = cached.Used
		res.CachedTotal = cached.Total
	}

	match := cached != nil &&
		cached.Available == fold.Available &&
		cached.Used == fold.Used &&
		cached.Total == fold.Total
	if match {
		return res, nil
	}

	// Drift: the ledger wins, always.
	planType := ""
	if cached != nil {
		planType = cached.PlanType
	}
	corrected := cachedFromFold(userID, fold, planType)
	if err := s.repo.SaveBalance(ctx, corrected); err != nil {
		return nil, fmt.Errorf("correct cache: %w", err)
	}
	res.Corrected = true
	return res, nil
}

func cachedFromFold(userID string, fold *repository.BalanceFold, planType string) *model.BalanceCache {
	return &model.BalanceCache{
		UserID:    userID,
		Available: fold.Available,
		Used:      fold.Used,
		Total:     fold.Total,
		PlanType:  planType,
		UpdatedAt: time.Now().UTC(),
	}
}
