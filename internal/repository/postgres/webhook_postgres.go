package postgres

import (
	"context"
	"database/sql"
	"errors"

	"stampd/internal/model"
	"stampd/internal/repository"
)

// WebhookEventPostgres is a PostgreSQL implementation of
// repository.WebhookEventRepository. Rows are append-only.
type WebhookEventPostgres struct {
	db *sql.DB
}

// NewWebhookEventPostgres creates a new WebhookEventPostgres repository.
func NewWebhookEventPostgres(db *sql.DB) *WebhookEventPostgres {
	return &WebhookEventPostgres{db: db}
}

var _ repository.WebhookEventRepository = (*WebhookEventPostgres)(nil)

const webhookEventColumns = `id, event_type, external_payment_id, processed, action_taken, COALESCE(error_message, ''), received_at`

// Create appends one audit row and returns the stored record.
func (r *WebhookEventPostgres) Create(ctx context.Context, e *model.WebhookEvent) (*model.WebhookEvent, error) {
	const q = `
		INSERT INTO webhook_events (id, event_type, external_payment_id, processed, action_taken, error_message, received_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		RETURNING ` + webhookEventColumns + `
	`
	row := r.db.QueryRowContext(ctx, q,
		e.ID,
		e.EventType,
		e.ExternalPaymentID,
		e.Processed,
		e.ActionTaken,
		e.ErrorMessage,
		e.ReceivedAt,
	)
	return scanWebhookEvent(row)
}

// FindProcessed returns the prior processed row for an idempotency key, or nil.
func (r *WebhookEventPostgres) FindProcessed(ctx context.Context, eventType, externalPaymentID string) (*model.WebhookEvent, error) {
	const q = `
		SELECT ` + webhookEventColumns + `
		FROM webhook_events
		WHERE event_type = $1 AND external_payment_id = $2 AND processed = TRUE
		ORDER BY received_at ASC
		LIMIT 1
	`
	e, err := scanWebhookEvent(r.db.QueryRowContext(ctx, q, eventType, externalPaymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// List returns audit rows, newest first.
func (r *WebhookEventPostgres) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.WebhookEvent], error) {
	const qCount = `SELECT COUNT(*) FROM webhook_events`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `
		SELECT ` + webhookEventColumns + `
		FROM webhook_events
		ORDER BY received_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.QueryContext(ctx, qList, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.WebhookEvent, 0)
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.WebhookEvent]{Items: items, Total: total}, nil
}

func scanWebhookEvent(row rowScanner) (*model.WebhookEvent, error) {
	var e model.WebhookEvent
	if err := row.Scan(
		&e.ID,
		&e.EventType,
		&e.ExternalPaymentID,
		&e.Processed,
		&e.ActionTaken,
		&e.ErrorMessage,
		&e.ReceivedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

// PaymentPostgres is a PostgreSQL implementation of repository.PaymentRepository.
type PaymentPostgres struct {
	db *sql.DB
}

// NewPaymentPostgres creates a new PaymentPostgres repository.
func NewPaymentPostgres(db *sql.DB) *PaymentPostgres {
	return &PaymentPostgres{db: db}
}

var _ repository.PaymentRepository = (*PaymentPostgres)(nil)

const paymentColumns = `id, external_id, user_id, value, credits, status, created_at, updated_at`

// FindByExternalID returns the local payment for a gateway payment id, or nil.
func (r *PaymentPostgres) FindByExternalID(ctx context.Context, externalID string) (*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE external_id = $1`
	p, err := scanPayment(r.db.QueryRowContext(ctx, q, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// ListPending returns locally pending payments, oldest first.
func (r *PaymentPostgres) ListPending(ctx context.Context) ([]model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE status = 'PENDING' ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *p)
	}
	return items, rows.Err()
}

// UpdateStatus flips a payment's local status.
func (r *PaymentPostgres) UpdateStatus(ctx context.Context, id string, status model.PaymentStatus) error {
	const q = `UPDATE payments SET status = $2, updated_at = now() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id, string(status))
	return err
}

func scanPayment(row rowScanner) (*model.Payment, error) {
	var p model.Payment
	var status string
	if err := row.Scan(
		&p.ID,
		&p.ExternalID,
		&p.UserID,
		&p.Value,
		&p.Credits,
		&status,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(status)
	return &p, nil
}

// SubscriptionPostgres is a PostgreSQL implementation of
// repository.SubscriptionRepository.
type SubscriptionPostgres struct {
	db *sql.DB
}

// NewSubscriptionPostgres creates a new SubscriptionPostgres repository.
func NewSubscriptionPostgres(db *sql.DB) *SubscriptionPostgres {
	return &SubscriptionPostgres{db: db}
}

var _ repository.SubscriptionRepository = (*SubscriptionPostgres)(nil)

const subscriptionColumns = `id, external_id, user_id, plan_type, status, created_at, updated_at`

// Upsert inserts the subscription or refreshes it by gateway id.
func (r *SubscriptionPostgres) Upsert(ctx context.Context, s *model.Subscription) (*model.Subscription, error) {
	const q = `
		INSERT INTO subscriptions (id, external_id, user_id, plan_type, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_id) DO UPDATE SET
			plan_type = EXCLUDED.plan_type,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + subscriptionColumns + `
	`
	row := r.db.QueryRowContext(ctx, q,
		s.ID,
		s.ExternalID,
		s.UserID,
		s.PlanType,
		string(s.Status),
		s.CreatedAt,
		s.UpdatedAt,
	)
	return scanSubscription(row)
}

// UpdateStatusByExternalID flips the subscription status for a gateway id.
func (r *SubscriptionPostgres) UpdateStatusByExternalID(ctx context.Context, externalID string, status model.SubscriptionStatus) error {
	const q = `UPDATE subscriptions SET status = $2, updated_at = now() WHERE external_id = $1`
	_, err := r.db.ExecContext(ctx, q, externalID, string(status))
	return err
}

// FindByExternalID returns the subscription for a gateway id, or nil.
func (r *SubscriptionPostgres) FindByExternalID(ctx context.Context, externalID string) (*model.Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE external_id = $1`
	s, err := scanSubscription(r.db.QueryRowContext(ctx, q, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func scanSubscription(row rowScanner) (*model.Subscription, error) {
	var s model.Subscription
	var status string
	if err := row.Scan(
		&s.ID,
		&s.ExternalID,
		&s.UserID,
		&s.PlanType,
		&status,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Status = model.SubscriptionStatus(status)
	return &s, nil
}
