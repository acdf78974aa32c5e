package service

import (
	"context"
	"errors"
	"testing"

	"stampd/internal/model"
	"stampd/internal/repository"
	repoMocks "stampd/internal/repository/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newLedgerTx(t *testing.T, repo *repoMocks.MockLedgerRepository) *repoMocks.MockLedgerTx {
	t.Helper()
	tx := new(repoMocks.MockLedgerTx)
	repo.On("Begin", mock.Anything).Return(tx, nil)
	tx.On("Rollback").Return(nil).Maybe()
	return tx
}

func TestLedgerService_AddCredits(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		params     AddCreditsParams
		setupMocks func(tx *repoMocks.MockLedgerTx)
		wantErr    error
		checkRes   func(t *testing.T, res *AddCreditsResult)
	}{
		{
			name: "happy path",
			params: AddCreditsParams{
				UserID: "user-1", Amount: 5, Reason: "payment confirmed",
				ReferenceType: model.RefPayment, ReferenceID: "pay_123",
			},
			setupMocks: func(tx *repoMocks.MockLedgerTx) {
				tx.On("LockBalance", ctx, "user-1").
					Return(&model.BalanceCache{UserID: "user-1", Available: 2, Used: 3, Total: 5}, nil)
				tx.On("FindEntryByReference", ctx, model.RefPayment, "pay_123").Return(nil, nil)
				tx.On("InsertEntry", ctx, mock.MatchedBy(func(e *model.LedgerEntry) bool {
					return e.Operation == model.OpAdd && e.Amount == 5 && e.BalanceAfter == 7
				})).Return(nil)
				tx.On("SaveBalance", ctx, mock.MatchedBy(func(b *model.BalanceCache) bool {
					return b.Available == 7 && b.Total == 10
				})).Return(nil)
				tx.On("Commit").Return(nil)
			},
			checkRes: func(t *testing.T, res *AddCreditsResult) {
				assert.True(t, res.Success)
				assert.Equal(t, int64(5), res.AmountAdded)
				assert.Equal(t, int64(7), res.NewBalance)
				assert.False(t, res.WasReset)
				assert.False(t, res.Idempotent)
			},
		},
		{
			name: "duplicate reference is idempotent",
			params: AddCreditsParams{
				UserID: "user-1", Amount: 5, Reason: "payment confirmed",
				ReferenceType: model.RefPayment, ReferenceID: "pay_123",
			},
			setupMocks: func(tx *repoMocks.MockLedgerTx) {
				tx.On("LockBalance", ctx, "user-1").
					Return(&model.BalanceCache{UserID: "user-1", Available: 7}, nil)
				tx.On("FindEntryByReference", ctx, model.RefPayment, "pay_123").
					Return(&model.LedgerEntry{Operation: model.OpAdd, Amount: 5, BalanceAfter: 7}, nil)
			},
			checkRes: func(t *testing.T, res *AddCreditsResult) {
				assert.True(t, res.Idempotent)
				assert.Equal(t, int64(5), res.AmountAdded)
				assert.Equal(t, int64(7), res.NewBalance)
			},
		},
		{
			name: "subscription cycle resets instead of accumulating",
			params: AddCreditsParams{
				UserID: "user-1", Amount: 10, Reason: "subscription cycle",
				ReferenceType: model.RefPayment, ReferenceID: "pay_sub_1",
				IsSubscription: true, PlanType: "monthly",
			},
			setupMocks: func(tx *repoMocks.MockLedgerTx) {
				tx.On("LockBalance", ctx, "user-1").
					Return(&model.BalanceCache{UserID: "user-1", Available: 3, Used: 4, Total: 7}, nil)
				tx.On("FindEntryByReference", ctx, model.RefPayment, "pay_sub_1").Return(nil, nil)
				// The entry records the delta (10-3) so the fold stays exact.
				tx.On("InsertEntry", ctx, mock.MatchedBy(func(e *model.LedgerEntry) bool {
					return e.Amount == 7 && e.BalanceAfter == 10
				})).Return(nil)
				tx.On("SaveBalance", ctx, mock.MatchedBy(func(b *model.BalanceCache) bool {
					return b.Available == 10 && b.PlanType == "monthly"
				})).Return(nil)
				tx.On("Commit").Return(nil)
			},
			checkRes: func(t *testing.T, res *AddCreditsResult) {
				assert.True(t, res.WasReset)
				assert.Equal(t, int64(10), res.AmountAdded)
				assert.Equal(t, int64(10), res.NewBalance)
			},
		},
		{
			name: "subscription reset below current balance records negative delta",
			params: AddCreditsParams{
				UserID: "user-1", Amount: 10, Reason: "subscription cycle",
				ReferenceType: model.RefPayment, ReferenceID: "pay_sub_2",
				IsSubscription: true,
			},
			setupMocks: func(tx *repoMocks.MockLedgerTx) {
				tx.On("LockBalance", ctx, "user-1").
					Return(&model.BalanceCache{UserID: "user-1", Available: 14}, nil)
				tx.On("FindEntryByReference", ctx, model.RefPayment, "pay_sub_2").Return(nil, nil)
				tx.On("InsertEntry", ctx, mock.MatchedBy(func(e *model.LedgerEntry) bool {
					return e.Amount == -4 && e.BalanceAfter == 10
				})).Return(nil)
				tx.On("SaveBalance", ctx, mock.Anything).Return(nil)
				tx.On("Commit").Return(nil)
			},
			checkRes: func(t *testing.T, res *AddCreditsResult) {
				assert.True(t, res.WasReset)
				assert.Equal(t, int64(10), res.NewBalance)
			},
		},
		{
			name:    "missing user",
			params:  AddCreditsParams{Amount: 5, ReferenceType: model.RefPayment, ReferenceID: "x"},
			wantErr: ErrUserRequired,
		},
		{
			name:    "non-positive amount",
			params:  AddCreditsParams{UserID: "u", Amount: 0, ReferenceType: model.RefPayment, ReferenceID: "x"},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "missing reference",
			params:  AddCreditsParams{UserID: "u", Amount: 1},
			wantErr: ErrIDRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mRepo := new(repoMocks.MockLedgerRepository)
			if tt.setupMocks != nil {
				tx := newLedgerTx(t, mRepo)
				tt.setupMocks(tx)
				defer tx.AssertExpectations(t)
			}
			svc := NewLedgerService(mRepo)

			res, err := svc.AddCredits(ctx, tt.params)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
			tt.checkRes(t, res)
			mRepo.AssertExpectations(t)
		})
	}
}

func TestLedgerService_ConsumeCredit(t *testing.T) {
	ctx := context.Background()
	user := model.Actor{ID: "user-1", Role: model.RoleUser}

	t.Run("happy path", func(t *testing.T) {
		mRepo := new(repoMocks.MockLedgerRepository)
		tx := newLedgerTx(t, mRepo)
		tx.On("LockBalance", ctx, "user-1").
			Return(&model.BalanceCache{UserID: "user-1", Available: 3, Used: 1, Total: 4}, nil)
		tx.On("FindEntryByReference", ctx, model.RefRegistration, "reg-1").Return(nil, nil)
		tx.On("InsertEntry", ctx, mock.MatchedBy(func(e *model.LedgerEntry) bool {
			return e.Operation == model.OpConsume && e.Amount == -1 && e.BalanceAfter == 2 && e.ActorID == "user-1"
		})).Return(nil)
		tx.On("SaveBalance", ctx, mock.MatchedBy(func(b *model.BalanceCache) bool {
			return b.Available == 2 && b.Used == 2
		})).Return(nil)
		tx.On("Commit").Return(nil)

		res, err := NewLedgerService(mRepo).ConsumeCredit(ctx, "user-1", "reg-1", "timestamp submission", user)

		assert.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, int64(2), res.RemainingBalance)
		tx.AssertExpectations(t)
	})

	t.Run("zero balance", func(t *testing.T) {
		mRepo := new(repoMocks.MockLedgerRepository)
		tx := newLedgerTx(t, mRepo)
		tx.On("LockBalance", ctx, "user-1").
			Return(&model.BalanceCache{UserID: "user-1", Available: 0}, nil)
		tx.On("FindEntryByReference", ctx, model.RefRegistration, "reg-1").Return(nil, nil)

		res, err := NewLedgerService(mRepo).ConsumeCredit(ctx, "user-1", "reg-1", "timestamp submission", user)

		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Nil(t, res)
		tx.AssertNotCalled(t, "InsertEntry", mock.Anything, mock.Anything)
	})

	t.Run("repeated registration id is idempotent", func(t *testing.T) {
		mRepo := new(repoMocks.MockLedgerRepository)
		tx := newLedgerTx(t, mRepo)
		tx.On("LockBalance", ctx, "user-1").
			Return(&model.BalanceCache{UserID: "user-1", Available: 2}, nil)
		tx.On("FindEntryByReference", ctx, model.RefRegistration, "reg-1").
			Return(&model.LedgerEntry{Operation: model.OpConsume, Amount: -1, BalanceAfter: 2}, nil)

		res, err := NewLedgerService(mRepo).ConsumeCredit(ctx, "user-1", "reg-1", "timestamp submission", user)

		assert.NoError(t, err)
		assert.True(t, res.Idempotent)
		assert.Equal(t, int64(2), res.RemainingBalance)
		tx.AssertNotCalled(t, "InsertEntry", mock.Anything, mock.Anything)
	})

	t.Run("unlimited actor writes a zero-amount entry", func(t *testing.T) {
		mRepo := new(repoMocks.MockLedgerRepository)
		tx := newLedgerTx(t, mRepo)
		tx.On("LockBalance", ctx, "user-1").
			Return(&model.BalanceCache{UserID: "user-1", Available: 0}, nil)
		tx.On("FindEntryByReference", ctx, model.RefRegistration, "reg-1").Return(nil, nil)
		tx.On("InsertEntry", ctx, mock.MatchedBy(func(e *model.LedgerEntry) bool {
			return e.Operation == model.OpConsume && e.Amount == 0 && e.BalanceAfter == 0
		})).Return(nil)
		tx.On("Commit").Return(nil)

		res, err := NewLedgerService(mRepo).ConsumeCredit(ctx, "user-1", "reg-1", "timestamp submission",
			model.Actor{ID: "svc", Role: model.RoleUnlimited})

		assert.NoError(t, err)
		assert.True(t, res.Unlimited)
		assert.Equal(t, int64(0), res.RemainingBalance)
		tx.AssertNotCalled(t, "SaveBalance", mock.Anything, mock.Anything)
	})
}

func TestLedgerService_RefundCredit(t *testing.T) {
	ctx := context.Background()
	admin := model.Actor{ID: "ops-1", Role: model.RoleAdmin}

	t.Run("happy path", func(t *testing.T) {
		mRepo := new(repoMocks.MockLedgerRepository)
		tx := newLedgerTx(t, mRepo)
		tx.On("LockBalance", ctx, "user-1").
			Return(&model.BalanceCache{UserID: "user-1", Available: 5, Used: 2, Total: 7}, nil)
		tx.On("FindEntryByReference", ctx, model.RefPayment, "pay_1").Return(nil, nil)
		tx.On("InsertEntry", ctx, mock.MatchedBy(func(e *model.LedgerEntry) bool {
			return e.Operation == model.OpRefund && e.Amount == -3 && e.BalanceAfter == 2 && e.ActorID == "ops-1"
		})).Return(nil)
		tx.On("SaveBalance", ctx, mock.MatchedBy(func(b *model.BalanceCache) bool {
			return b.Available == 2 && b.Total == 4
		})).Return(nil)
		tx.On("Commit").Return(nil)

		res, err := NewLedgerService(mRepo).RefundCredit(ctx, RefundParams{
			UserID: "user-1", Amount: 3, Reason: "payment refunded", ReferenceID: "pay_1", Actor: admin,
		})

		assert.NoError(t, err)
		assert.Equal(t, int64(3), res.AmountRefunded)
		assert.Equal(t, int64(2), res.RemainingBalance)
		tx.AssertExpectations(t)
	})

	t.Run("anonymous actor rejected", func(t *testing.T) {
		mRepo := new(repoMocks.MockLedgerRepository)

		res, err := NewLedgerService(mRepo).RefundCredit(ctx, RefundParams{
			UserID: "user-1", Amount: 3, ReferenceID: "pay_1", Actor: model.Anonymous,
		})

		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Nil(t, res)
		mRepo.AssertNotCalled(t, "Begin", mock.Anything)
	})

	t.Run("refund larger than available is rejected", func(t *testing.T) {
		mRepo := new(repoMocks.MockLedgerRepository)
		tx := newLedgerTx(t, mRepo)
		tx.On("LockBalance", ctx, "user-1").
			Return(&model.BalanceCache{UserID: "user-1", Available: 2}, nil)
		tx.On("FindEntryByReference", ctx, model.RefPayment, "pay_1").Return(nil, nil)

		res, err := NewLedgerService(mRepo).RefundCredit(ctx, RefundParams{
			UserID: "user-1", Amount: 5, Reason: "payment refunded", ReferenceID: "pay_1", Actor: admin,
		})

		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Nil(t, res)
		tx.AssertNotCalled(t, "InsertEntry", mock.Anything, mock.Anything)
	})

	t.Run("repeated refund reference is idempotent", func(t *testing.T) {
		mRepo := new(repoMocks.MockLedgerRepository)
		tx := newLedgerTx(t, mRepo)
		tx.On("LockBalance", ctx, "user-1").
			Return(&model.BalanceCache{UserID: "user-1", Available: 2}, nil)
		tx.On("FindEntryByReference", ctx, model.RefPayment, "pay_1").
			Return(&model.LedgerEntry{Operation: model.OpRefund, Amount: -3, BalanceAfter: 2}, nil)

		res, err := NewLedgerService(mRepo).RefundCredit(ctx, RefundParams{
			UserID: "user-1", Amount: 3, Reason: "payment refunded", ReferenceID: "pay_1", Actor: admin,
		})

		assert.NoError(t, err)
		assert.True(t, res.Idempotent)
		assert.Equal(t, int64(3), res.AmountRefunded)
	})
}

func TestLedgerService_AdjustBalance(t *testing.T) {
	ctx := context.Background()
	admin := model.Actor{ID: "ops-1", Role: model.RoleAdmin}

	t.Run("records delta against current balance", func(t *testing.T) {
		mRepo := new(repoMocks.MockLedgerRepository)
		tx := newLedgerTx(t, mRepo)
		tx.On("LockBalance", ctx, "user-1").
			Return(&model.BalanceCache{UserID: "user-1", Available: 8, Used: 2}, nil)
		tx.On("InsertEntry", ctx, mock.MatchedBy(func(e *model.LedgerEntry) bool {
			return e.Operation == model.OpAdjust && e.Amount == -5 && e.BalanceAfter == 3 &&
				e.ReferenceType == model.RefManual && e.ReferenceID != ""
		})).Return(nil)
		tx.On("SaveBalance", ctx, mock.MatchedBy(func(b *model.BalanceCache) bool {
			return b.Available == 3 && b.Total == 5
		})).Return(nil)
		tx.On("Commit").Return(nil)

		res, err := NewLedgerService(mRepo).AdjustBalance(ctx, "user-1", 3, "support correction", admin)

		assert.NoError(t, err)
		assert.Equal(t, int64(-5), res.Delta)
		assert.Equal(t, int64(3), res.NewBalance)
		tx.AssertExpectations(t)
	})

	t.Run("reason is mandatory", func(t *testing.T) {
		mRepo := new(repoMocks.MockLedgerRepository)

		_, err := NewLedgerService(mRepo).AdjustBalance(ctx, "user-1", 3, "", admin)

		assert.ErrorIs(t, err, ErrReasonRequired)
		mRepo.AssertNotCalled(t, "Begin", mock.Anything)
	})

	t.Run("non-admin rejected", func(t *testing.T) {
		mRepo := new(repoMocks.MockLedgerRepository)

		_, err := NewLedgerService(mRepo).AdjustBalance(ctx, "user-1", 3, "support correction",
			model.Actor{ID: "user-2", Role: model.RoleUser})

		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestLedgerService_CachedBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("missing cache row yields zero balance", func(t *testing.T) {
		mRepo := new(repoMocks.MockLedgerRepository)
		mRepo.On("GetBalance", ctx, "user-1").Return(nil, nil)

		bal, err := NewLedgerService(mRepo).CachedBalance(ctx, "user-1")

		assert.NoError(t, err)
		assert.Equal(t, "user-1", bal.UserID)
		assert.Equal(t, int64(0), bal.Available)
	})

	t.Run("repository error propagates", func(t *testing.T) {
		mRepo := new(repoMocks.MockLedgerRepository)
		mRepo.On("GetBalance", ctx, "user-1").Return(nil, errors.New("db down"))

		_, err := NewLedgerService(mRepo).CachedBalance(ctx, "user-1")

		assert.Error(t, err)
	})
}

func TestLedgerService_ListEntries(t *testing.T) {
	ctx := context.Background()

	mRepo := new(repoMocks.MockLedgerRepository)
	mRepo.On("ListEntries", ctx, "user-1", repository.PageQuery{Limit: 50, Offset: 0}).
		Return(&repository.PageResult[model.LedgerEntry]{
			Items: []model.LedgerEntry{{ID: "1"}, {ID: "2"}},
			Total: 2,
		}, nil)

	res, err := NewLedgerService(mRepo).ListEntries(ctx, "user-1", 0, -1)

	assert.NoError(t, err)
	assert.Len(t, res.Items, 2)
	mRepo.AssertExpectations(t)
}
