package mocks

import (
	"context"
	"io"

	"stampd/internal/model"
	"stampd/internal/repository"
	"stampd/internal/service"

	"github.com/stretchr/testify/mock"
)

type MockLedgerService struct {
	mock.Mock
}

func (m *MockLedgerService) AddCredits(ctx context.Context, p service.AddCreditsParams) (*service.AddCreditsResult, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AddCreditsResult), args.Error(1)
}

func (m *MockLedgerService) ConsumeCredit(ctx context.Context, userID, registrationID, reason string, actor model.Actor) (*service.ConsumeResult, error) {
	args := m.Called(ctx, userID, registrationID, reason, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ConsumeResult), args.Error(1)
}

func (m *MockLedgerService) RefundCredit(ctx context.Context, p service.RefundParams) (*service.RefundResult, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RefundResult), args.Error(1)
}

func (m *MockLedgerService) AdjustBalance(ctx context.Context, userID string, newBalance int64, reason string, actor model.Actor) (*service.AdjustResult, error) {
	args := m.Called(ctx, userID, newBalance, reason, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AdjustResult), args.Error(1)
}

func (m *MockLedgerService) GetBalance(ctx context.Context, userID string) (*repository.BalanceFold, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.BalanceFold), args.Error(1)
}

func (m *MockLedgerService) CachedBalance(ctx context.Context, userID string) (*model.BalanceCache, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BalanceCache), args.Error(1)
}

func (m *MockLedgerService) ListEntries(ctx context.Context, userID string, limit, offset int) (*repository.PageResult[model.LedgerEntry], error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.LedgerEntry]), args.Error(1)
}

type MockWebhookService struct {
	mock.Mock
}

func (m *MockWebhookService) Process(ctx context.Context, token string, payload *model.WebhookPayload) (*service.WebhookResult, error) {
	args := m.Called(ctx, token, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.WebhookResult), args.Error(1)
}

func (m *MockWebhookService) ReconcilePendingPayments(ctx context.Context) (*service.PollResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PollResult), args.Error(1)
}

type MockPipelineService struct {
	mock.Mock
}

func (m *MockPipelineService) Create(ctx context.Context, ownerID, filename string, r io.Reader, size int64) (*model.Registration, error) {
	args := m.Called(ctx, ownerID, filename, r, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Registration), args.Error(1)
}

func (m *MockPipelineService) Submit(ctx context.Context, registrationID string, actor model.Actor) (*service.SubmitResult, error) {
	args := m.Called(ctx, registrationID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SubmitResult), args.Error(1)
}

func (m *MockPipelineService) Get(ctx context.Context, registrationID string) (*service.RegistrationView, error) {
	args := m.Called(ctx, registrationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RegistrationView), args.Error(1)
}

type MockReconcilerService struct {
	mock.Mock
}

func (m *MockReconcilerService) Reconcile(ctx context.Context, userID string) (*service.ReconcileResult, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ReconcileResult), args.Error(1)
}

type MockVerificationService struct {
	mock.Mock
}

func (m *MockVerificationService) VerifyHash(ctx context.Context, hexHash string) (*service.VerificationResult, error) {
	args := m.Called(ctx, hexHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.VerificationResult), args.Error(1)
}

func (m *MockVerificationService) VerifyProof(ctx context.Context, hexHash string, proof []byte) (*service.VerificationResult, error) {
	args := m.Called(ctx, hexHash, proof)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.VerificationResult), args.Error(1)
}
