package mocks

import (
	"context"

	"stampd/internal/model"
	"stampd/internal/repository"

	"github.com/stretchr/testify/mock"
)

type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) Begin(ctx context.Context) (repository.LedgerTx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(repository.LedgerTx), args.Error(1)
}

func (m *MockLedgerRepository) FoldBalance(ctx context.Context, userID string) (*repository.BalanceFold, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.BalanceFold), args.Error(1)
}

func (m *MockLedgerRepository) GetBalance(ctx context.Context, userID string) (*model.BalanceCache, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BalanceCache), args.Error(1)
}

func (m *MockLedgerRepository) SaveBalance(ctx context.Context, b *model.BalanceCache) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *MockLedgerRepository) ListEntries(ctx context.Context, userID string, pq repository.PageQuery) (*repository.PageResult[model.LedgerEntry], error) {
	args := m.Called(ctx, userID, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.LedgerEntry]), args.Error(1)
}

type MockLedgerTx struct {
	mock.Mock
}

func (m *MockLedgerTx) LockBalance(ctx context.Context, userID string) (*model.BalanceCache, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BalanceCache), args.Error(1)
}

func (m *MockLedgerTx) FindEntryByReference(ctx context.Context, referenceType, referenceID string) (*model.LedgerEntry, error) {
	args := m.Called(ctx, referenceType, referenceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LedgerEntry), args.Error(1)
}

func (m *MockLedgerTx) InsertEntry(ctx context.Context, e *model.LedgerEntry) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockLedgerTx) SaveBalance(ctx context.Context, b *model.BalanceCache) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *MockLedgerTx) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockLedgerTx) Rollback() error {
	args := m.Called()
	return args.Error(0)
}
