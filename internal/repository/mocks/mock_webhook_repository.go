package mocks

import (
	"context"

	"stampd/internal/model"
	"stampd/internal/repository"

	"github.com/stretchr/testify/mock"
)

type MockWebhookEventRepository struct {
	mock.Mock
}

func (m *MockWebhookEventRepository) Create(ctx context.Context, e *model.WebhookEvent) (*model.WebhookEvent, error) {
	args := m.Called(ctx, e)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookEvent), args.Error(1)
}

func (m *MockWebhookEventRepository) FindProcessed(ctx context.Context, eventType, externalPaymentID string) (*model.WebhookEvent, error) {
	args := m.Called(ctx, eventType, externalPaymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookEvent), args.Error(1)
}

func (m *MockWebhookEventRepository) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.WebhookEvent], error) {
	args := m.Called(ctx, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.WebhookEvent]), args.Error(1)
}

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) FindByExternalID(ctx context.Context, externalID string) (*model.Payment, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockPaymentRepository) ListPending(ctx context.Context) ([]model.Payment, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Payment), args.Error(1)
}

func (m *MockPaymentRepository) UpdateStatus(ctx context.Context, id string, status model.PaymentStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) Upsert(ctx context.Context, s *model.Subscription) (*model.Subscription, error) {
	args := m.Called(ctx, s)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) UpdateStatusByExternalID(ctx context.Context, externalID string, status model.SubscriptionStatus) error {
	args := m.Called(ctx, externalID, status)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) FindByExternalID(ctx context.Context, externalID string) (*model.Subscription, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Subscription), args.Error(1)
}
