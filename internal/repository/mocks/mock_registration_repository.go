package mocks

import (
	"context"

	"stampd/internal/model"

	"github.com/stretchr/testify/mock"
)

type MockRegistrationRepository struct {
	mock.Mock
}

func (m *MockRegistrationRepository) Create(ctx context.Context, r *model.Registration) (*model.Registration, error) {
	args := m.Called(ctx, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Registration), args.Error(1)
}

func (m *MockRegistrationRepository) FindByID(ctx context.Context, id string) (*model.Registration, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Registration), args.Error(1)
}

func (m *MockRegistrationRepository) FindConfirmedByHash(ctx context.Context, hash string) (*model.Registration, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Registration), args.Error(1)
}

func (m *MockRegistrationRepository) FindByHash(ctx context.Context, hash string) (*model.Registration, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Registration), args.Error(1)
}

func (m *MockRegistrationRepository) SetContentHash(ctx context.Context, id, hash string) error {
	args := m.Called(ctx, id, hash)
	return args.Error(0)
}

func (m *MockRegistrationRepository) TransitionStatus(ctx context.Context, id string, from, to model.RegistrationStatus, errorReason string) (bool, error) {
	args := m.Called(ctx, id, from, to, errorReason)
	return args.Bool(0), args.Error(1)
}

func (m *MockRegistrationRepository) IncrementAttempt(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

type MockAnchorRepository struct {
	mock.Mock
}

func (m *MockAnchorRepository) Create(ctx context.Context, a *model.Anchor) (*model.Anchor, error) {
	args := m.Called(ctx, a)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Anchor), args.Error(1)
}

func (m *MockAnchorRepository) FindByRegistration(ctx context.Context, registrationID string) (*model.Anchor, error) {
	args := m.Called(ctx, registrationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Anchor), args.Error(1)
}
