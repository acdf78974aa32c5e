package mocks

import (
	"context"

	"stampd/internal/gateway"

	"github.com/stretchr/testify/mock"
)

type MockClient struct {
	mock.Mock
}

func (m *MockClient) GetPayment(ctx context.Context, externalID string) (*gateway.PaymentInfo, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PaymentInfo), args.Error(1)
}
