package service

import (
	"context"
	"errors"
	"testing"

	"stampd/internal/gateway"
	gwMocks "stampd/internal/gateway/mocks"
	"stampd/internal/model"
	"stampd/internal/repository"
	repoMocks "stampd/internal/repository/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// stubLedger stands in for the ledger service without pulling the mocks
// package into an import cycle.
type stubLedger struct {
	mock.Mock
}

func (m *stubLedger) AddCredits(ctx context.Context, p AddCreditsParams) (*AddCreditsResult, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AddCreditsResult), args.Error(1)
}

func (m *stubLedger) ConsumeCredit(ctx context.Context, userID, registrationID, reason string, actor model.Actor) (*ConsumeResult, error) {
	args := m.Called(ctx, userID, registrationID, reason, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ConsumeResult), args.Error(1)
}

func (m *stubLedger) RefundCredit(ctx context.Context, p RefundParams) (*RefundResult, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RefundResult), args.Error(1)
}

func (m *stubLedger) AdjustBalance(ctx context.Context, userID string, newBalance int64, reason string, actor model.Actor) (*AdjustResult, error) {
	args := m.Called(ctx, userID, newBalance, reason, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AdjustResult), args.Error(1)
}

func (m *stubLedger) GetBalance(ctx context.Context, userID string) (*repository.BalanceFold, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.BalanceFold), args.Error(1)
}

func (m *stubLedger) CachedBalance(ctx context.Context, userID string) (*model.BalanceCache, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BalanceCache), args.Error(1)
}

func (m *stubLedger) ListEntries(ctx context.Context, userID string, limit, offset int) (*repository.PageResult[model.LedgerEntry], error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.LedgerEntry]), args.Error(1)
}

type webhookFixture struct {
	ledger *stubLedger
	events *repoMocks.MockWebhookEventRepository
	paym   *repoMocks.MockPaymentRepository
	subs   *repoMocks.MockSubscriptionRepository
	gw     *gwMocks.MockClient
	svc    WebhookService
}

func newWebhookFixture(t *testing.T, token string) *webhookFixture {
	t.Helper()
	f := &webhookFixture{
		ledger: new(stubLedger),
		events: new(repoMocks.MockWebhookEventRepository),
		paym:   new(repoMocks.MockPaymentRepository),
		subs:   new(repoMocks.MockSubscriptionRepository),
		gw:     new(gwMocks.MockClient),
	}
	svc, err := NewWebhookService(token, f.ledger, f.events, f.paym, f.subs, f.gw, nil)
	if err != nil {
		t.Fatalf("new webhook service: %v", err)
	}
	f.svc = svc
	return f
}

// expectAudit matches the single audit row a Process call writes.
func (f *webhookFixture) expectAudit(processed bool, action string) *mock.Call {
	return f.events.On("Create", mock.Anything, mock.MatchedBy(func(e *model.WebhookEvent) bool {
		return e.Processed == processed && e.ActionTaken == action
	})).Return(&model.WebhookEvent{}, nil).Once()
}

func confirmedPayload(paymentID, userID string, value float64) *model.WebhookPayload {
	return &model.WebhookPayload{
		Event: model.EventPaymentConfirmed,
		Payment: model.WebhookPayment{
			ID:                paymentID,
			Customer:          "cus_1",
			Value:             value,
			Status:            "CONFIRMED",
			ExternalReference: userID,
		},
	}
}

func TestWebhookService_Process_BadToken(t *testing.T) {
	ctx := context.Background()
	f := newWebhookFixture(t, "secret")
	f.expectAudit(false, ActionRejectedSignature)

	res, err := f.svc.Process(ctx, "wrong", confirmedPayload("pay_1", "user-1", 9.90))

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Nil(t, res)
	f.ledger.AssertNotCalled(t, "AddCredits", mock.Anything, mock.Anything)
	f.events.AssertExpectations(t)
}

func TestWebhookService_Process_EmptyConfiguredToken(t *testing.T) {
	ctx := context.Background()
	f := newWebhookFixture(t, "")
	f.expectAudit(false, ActionRejectedSignature)

	// An unset token must never degrade into accept-everything.
	_, err := f.svc.Process(ctx, "", confirmedPayload("pay_1", "user-1", 9.90))

	assert.ErrorIs(t, err, ErrUnauthorized)
	f.events.AssertExpectations(t)
}

func TestWebhookService_Process_InvalidPayload(t *testing.T) {
	ctx := context.Background()
	f := newWebhookFixture(t, "secret")
	f.expectAudit(false, ActionRejectedPayload)

	_, err := f.svc.Process(ctx, "secret", &model.WebhookPayload{Event: model.EventPaymentConfirmed})

	assert.ErrorIs(t, err, ErrIDRequired)
	f.events.AssertExpectations(t)
}

func TestWebhookService_Process_ReleasesCredits(t *testing.T) {
	ctx := context.Background()
	f := newWebhookFixture(t, "secret")

	f.events.On("FindProcessed", ctx, model.EventPaymentConfirmed, "pay_1").Return(nil, nil)
	f.ledger.On("AddCredits", ctx, mock.MatchedBy(func(p AddCreditsParams) bool {
		return p.UserID == "user-1" && p.Amount == 1 &&
			p.ReferenceType == model.RefPayment && p.ReferenceID == "pay_1" &&
			!p.IsSubscription && p.PlanType == "single"
	})).Return(&AddCreditsResult{Success: true, AmountAdded: 1, NewBalance: 1}, nil)
	f.paym.On("FindByExternalID", ctx, "pay_1").Return(nil, nil)
	f.expectAudit(true, ActionCreditsAdded)

	res, err := f.svc.Process(ctx, "secret", confirmedPayload("pay_1", "user-1", 9.90))

	assert.NoError(t, err)
	assert.Equal(t, ActionCreditsAdded, res.Action)
	assert.Equal(t, int64(1), res.CreditsMoved)
	f.events.AssertExpectations(t)
	f.ledger.AssertExpectations(t)
}

func TestWebhookService_Process_SubscriptionPaymentResets(t *testing.T) {
	ctx := context.Background()
	f := newWebhookFixture(t, "secret")

	payload := confirmedPayload("pay_2", "user-1", 29.90)
	payload.Event = model.EventSubscriptionPayment

	f.events.On("FindProcessed", ctx, model.EventSubscriptionPayment, "pay_2").Return(nil, nil)
	f.ledger.On("AddCredits", ctx, mock.MatchedBy(func(p AddCreditsParams) bool {
		return p.IsSubscription && p.Amount == 10 && p.PlanType == "monthly"
	})).Return(&AddCreditsResult{Success: true, AmountAdded: 10, NewBalance: 10, WasReset: true}, nil)
	f.paym.On("FindByExternalID", ctx, "pay_2").Return(nil, nil)
	f.expectAudit(true, ActionCreditsAdded)

	res, err := f.svc.Process(ctx, "secret", payload)

	assert.NoError(t, err)
	assert.Equal(t, int64(10), res.CreditsMoved)
	f.ledger.AssertExpectations(t)
}

func TestWebhookService_Process_DuplicateEventSkipped(t *testing.T) {
	ctx := context.Background()
	f := newWebhookFixture(t, "secret")

	f.events.On("FindProcessed", ctx, model.EventPaymentConfirmed, "pay_1").
		Return(&model.WebhookEvent{ID: "evt-1", Processed: true}, nil)
	f.expectAudit(false, ActionSkippedDuplicate)

	res, err := f.svc.Process(ctx, "secret", confirmedPayload("pay_1", "user-1", 9.90))

	assert.NoError(t, err)
	assert.Equal(t, ActionSkippedDuplicate, res.Action)
	assert.True(t, res.Idempotent)
	f.ledger.AssertNotCalled(t, "AddCredits", mock.Anything, mock.Anything)
}

func TestWebhookService_Process_UnknownValueGoesToManualReview(t *testing.T) {
	ctx := context.Background()
	f := newWebhookFixture(t, "secret")

	f.events.On("FindProcessed", ctx, model.EventPaymentConfirmed, "pay_1").Return(nil, nil)
	f.expectAudit(false, ActionManualReview)

	res, err := f.svc.Process(ctx, "secret", confirmedPayload("pay_1", "user-1", 42.00))

	assert.NoError(t, err)
	assert.True(t, res.ManualReview)
	f.ledger.AssertNotCalled(t, "AddCredits", mock.Anything, mock.Anything)
}

func TestWebhookService_Process_UnknownEventIgnored(t *testing.T) {
	ctx := context.Background()
	f := newWebhookFixture(t, "secret")

	payload := confirmedPayload("pay_1", "user-1", 9.90)
	payload.Event = "PAYMENT_SOMETHING_NEW"

	f.events.On("FindProcessed", ctx, "PAYMENT_SOMETHING_NEW", "pay_1").Return(nil, nil)
	f.expectAudit(false, ActionIgnoredUnknown)

	res, err := f.svc.Process(ctx, "secret", payload)

	assert.NoError(t, err)
	assert.Equal(t, ActionIgnoredUnknown, res.Action)
}

func TestWebhookService_Process_Refund(t *testing.T) {
	ctx := context.Background()

	t.Run("clamps to available", func(t *testing.T) {
		f := newWebhookFixture(t, "secret")
		payload := confirmedPayload("pay_1", "user-1", 39.90) // pack_5
		payload.Event = model.EventPaymentRefunded

		f.events.On("FindProcessed", ctx, model.EventPaymentRefunded, "pay_1").Return(nil, nil)
		f.ledger.On("GetBalance", ctx, "user-1").
			Return(&repository.BalanceFold{Available: 2, Used: 3, Total: 5}, nil)
		f.ledger.On("RefundCredit", ctx, mock.MatchedBy(func(p RefundParams) bool {
			return p.Amount == 2 && p.ReferenceID == "pay_1" && p.Actor == systemActor
		})).Return(&RefundResult{Success: true, AmountRefunded: 2, RemainingBalance: 0}, nil)
		f.paym.On("FindByExternalID", ctx, "pay_1").Return(nil, nil)
		f.expectAudit(true, ActionCreditsRefunded)

		res, err := f.svc.Process(ctx, "secret", payload)

		assert.NoError(t, err)
		assert.Equal(t, int64(2), res.CreditsMoved)
		f.ledger.AssertExpectations(t)
	})

	t.Run("all credits spent routes to manual review", func(t *testing.T) {
		f := newWebhookFixture(t, "secret")
		payload := confirmedPayload("pay_1", "user-1", 9.90)
		payload.Event = model.EventPaymentChargeback

		f.events.On("FindProcessed", ctx, model.EventPaymentChargeback, "pay_1").Return(nil, nil)
		f.ledger.On("GetBalance", ctx, "user-1").
			Return(&repository.BalanceFold{Available: 0, Used: 1, Total: 1}, nil)
		f.expectAudit(false, ActionManualReview)

		res, err := f.svc.Process(ctx, "secret", payload)

		assert.NoError(t, err)
		assert.True(t, res.ManualReview)
		f.ledger.AssertNotCalled(t, "RefundCredit", mock.Anything, mock.Anything)
	})
}

func TestWebhookService_Process_FailureEventsTouchNoCredits(t *testing.T) {
	ctx := context.Background()
	f := newWebhookFixture(t, "secret")

	payload := confirmedPayload("pay_1", "user-1", 9.90)
	payload.Event = model.EventPaymentFailed

	f.events.On("FindProcessed", ctx, model.EventPaymentFailed, "pay_1").Return(nil, nil)
	f.paym.On("FindByExternalID", ctx, "pay_1").
		Return(&model.Payment{ID: "local-1", ExternalID: "pay_1"}, nil)
	f.paym.On("UpdateStatus", ctx, "local-1", model.PaymentFailed).Return(nil)
	f.expectAudit(true, ActionStatusRecorded)

	res, err := f.svc.Process(ctx, "secret", payload)

	assert.NoError(t, err)
	assert.Equal(t, ActionStatusRecorded, res.Action)
	f.ledger.AssertNotCalled(t, "AddCredits", mock.Anything, mock.Anything)
	f.ledger.AssertNotCalled(t, "RefundCredit", mock.Anything, mock.Anything)
	f.paym.AssertExpectations(t)
}

func TestWebhookService_Process_SubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("created upserts active subscription", func(t *testing.T) {
		f := newWebhookFixture(t, "secret")
		payload := confirmedPayload("pay_1", "user-1", 29.90)
		payload.Event = model.EventSubscriptionCreated
		payload.Payment.Subscription = "sub_1"

		f.events.On("FindProcessed", ctx, model.EventSubscriptionCreated, "pay_1").Return(nil, nil)
		f.subs.On("Upsert", ctx, mock.MatchedBy(func(s *model.Subscription) bool {
			return s.ExternalID == "sub_1" && s.UserID == "user-1" &&
				s.Status == model.SubscriptionActive && s.PlanType == "monthly"
		})).Return(&model.Subscription{}, nil)
		f.expectAudit(true, ActionSubscriptionSaved)

		res, err := f.svc.Process(ctx, "secret", payload)

		assert.NoError(t, err)
		assert.Equal(t, ActionSubscriptionSaved, res.Action)
		f.subs.AssertExpectations(t)
	})

	t.Run("canceled keeps granted credits", func(t *testing.T) {
		f := newWebhookFixture(t, "secret")
		payload := confirmedPayload("pay_1", "user-1", 29.90)
		payload.Event = model.EventSubscriptionCanceled
		payload.Payment.Subscription = "sub_1"

		f.events.On("FindProcessed", ctx, model.EventSubscriptionCanceled, "pay_1").Return(nil, nil)
		f.subs.On("UpdateStatusByExternalID", ctx, "sub_1", model.SubscriptionCanceled).Return(nil)
		f.expectAudit(true, ActionSubscriptionSaved)

		res, err := f.svc.Process(ctx, "secret", payload)

		assert.NoError(t, err)
		assert.Equal(t, ActionSubscriptionSaved, res.Action)
		f.ledger.AssertNotCalled(t, "RefundCredit", mock.Anything, mock.Anything)
		f.subs.AssertExpectations(t)
	})
}

func TestWebhookService_ReconcilePendingPayments(t *testing.T) {
	ctx := context.Background()

	t.Run("releases confirmed, skips processed and unconfirmed", func(t *testing.T) {
		f := newWebhookFixture(t, "secret")

		f.paym.On("ListPending", ctx).Return([]model.Payment{
			{ID: "l1", ExternalID: "pay_a", UserID: "user-1"},
			{ID: "l2", ExternalID: "pay_b", UserID: "user-2"},
			{ID: "l3", ExternalID: "pay_c", UserID: "user-3"},
			{ID: "l4", ExternalID: "pay_d", UserID: "user-4"},
		}, nil)

		// pay_a: confirmed upstream, not yet released locally
		f.gw.On("GetPayment", ctx, "pay_a").
			Return(&gateway.PaymentInfo{ID: "pay_a", Customer: "cus_1", Value: 9.90, Status: "CONFIRMED"}, nil)
		f.events.On("FindProcessed", ctx, model.EventPaymentConfirmed, "pay_a").Return(nil, nil)
		f.ledger.On("AddCredits", ctx, mock.MatchedBy(func(p AddCreditsParams) bool {
			return p.UserID == "user-1" && p.ReferenceID == "pay_a"
		})).Return(&AddCreditsResult{Success: true, AmountAdded: 1, NewBalance: 1}, nil)
		f.paym.On("FindByExternalID", ctx, "pay_a").
			Return(&model.Payment{ID: "l1", ExternalID: "pay_a"}, nil)
		f.paym.On("UpdateStatus", ctx, "l1", model.PaymentConfirmed).Return(nil)
		f.events.On("Create", ctx, mock.MatchedBy(func(e *model.WebhookEvent) bool {
			return e.ExternalPaymentID == "pay_a" && e.Processed && e.ActionTaken == ActionCreditsAdded
		})).Return(&model.WebhookEvent{}, nil)

		// pay_b: still pending upstream
		f.gw.On("GetPayment", ctx, "pay_b").
			Return(&gateway.PaymentInfo{ID: "pay_b", Status: "PENDING"}, nil)

		// pay_c: webhook already released it
		f.gw.On("GetPayment", ctx, "pay_c").
			Return(&gateway.PaymentInfo{ID: "pay_c", Status: "CONFIRMED"}, nil)
		f.events.On("FindProcessed", ctx, model.EventPaymentConfirmed, "pay_c").
			Return(&model.WebhookEvent{ID: "evt", Processed: true}, nil)

		// pay_d: gateway unreachable
		f.gw.On("GetPayment", ctx, "pay_d").Return(nil, errors.New("gateway timeout"))

		res, err := f.svc.ReconcilePendingPayments(ctx)

		assert.NoError(t, err)
		assert.Equal(t, 4, res.Checked)
		assert.Equal(t, 1, res.Released)
		assert.Equal(t, 2, res.Skipped)
		assert.Equal(t, 1, res.Errors)
		f.ledger.AssertExpectations(t)
		f.gw.AssertExpectations(t)
	})

	t.Run("nothing pending", func(t *testing.T) {
		f := newWebhookFixture(t, "secret")
		f.paym.On("ListPending", ctx).Return([]model.Payment{}, nil)

		res, err := f.svc.ReconcilePendingPayments(ctx)

		assert.NoError(t, err)
		assert.Equal(t, 0, res.Checked)
	})
}
