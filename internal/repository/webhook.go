package repository

import (
	"context"

	"stampd/internal/model"
)

// WebhookEventRepository is the append-only audit trail of inbound gateway
// events. Every inbound request produces exactly one row, including rejected
// and duplicate ones.
type WebhookEventRepository interface {
	Create(ctx context.Context, e *model.WebhookEvent) (*model.WebhookEvent, error)

	// FindProcessed returns the prior successfully processed row for an
	// idempotency key (event_type, external_payment_id), or nil.
	FindProcessed(ctx context.Context, eventType, externalPaymentID string) (*model.WebhookEvent, error)

	List(ctx context.Context, pq PageQuery) (*PageResult[model.WebhookEvent], error)
}

// PaymentRepository tracks locally known gateway payments for the polling
// reconciliation path.
type PaymentRepository interface {
	FindByExternalID(ctx context.Context, externalID string) (*model.Payment, error)
	ListPending(ctx context.Context) ([]model.Payment, error)
	UpdateStatus(ctx context.Context, id string, status model.PaymentStatus) error
}

// SubscriptionRepository tracks gateway subscription lifecycle. Cancellation
// only flips status; it never touches granted credits.
type SubscriptionRepository interface {
	Upsert(ctx context.Context, s *model.Subscription) (*model.Subscription, error)
	UpdateStatusByExternalID(ctx context.Context, externalID string, status model.SubscriptionStatus) error
	FindByExternalID(ctx context.Context, externalID string) (*model.Subscription, error)
}
