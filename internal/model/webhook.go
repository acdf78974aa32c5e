package model

import "time"

// Webhook event types delivered by the payment gateway.
const (
	EventPaymentConfirmed     = "PAYMENT_CONFIRMED"
	EventPaymentReceived      = "PAYMENT_RECEIVED"
	EventSubscriptionPayment  = "SUBSCRIPTION_PAYMENT_CONFIRMED"
	EventPaymentRefunded      = "PAYMENT_REFUNDED"
	EventPaymentChargeback    = "PAYMENT_CHARGEBACK_REQUESTED"
	EventPaymentFailed        = "PAYMENT_FAILED"
	EventPaymentOverdue       = "PAYMENT_OVERDUE"
	EventSubscriptionCreated  = "SUBSCRIPTION_CREATED"
	EventSubscriptionCanceled = "SUBSCRIPTION_CANCELED"
)

// WebhookEvent is the append-only audit row written for every inbound
// gateway request, including rejected and duplicate ones.
type WebhookEvent struct {
	ID                string    `json:"id"`
	EventType         string    `json:"event_type"`
	ExternalPaymentID string    `json:"external_payment_id"`
	Processed         bool      `json:"processed"`
	ActionTaken       string    `json:"action_taken"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
}

// WebhookPayload is the gateway's webhook body.
type WebhookPayload struct {
	Event   string         `json:"event"`
	Payment WebhookPayment `json:"payment"`
}

// WebhookPayment is the payment object embedded in a webhook payload.
// ExternalReference carries the local user id the checkout was created for.
type WebhookPayment struct {
	ID                string  `json:"id"`
	Customer          string  `json:"customer"`
	Value             float64 `json:"value"`
	Status            string  `json:"status"`
	ExternalReference string  `json:"externalReference"`
	Subscription      string  `json:"subscription,omitempty"`
}

// PaymentStatus is the local view of a gateway payment, used by the polling
// reconciliation path.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentConfirmed PaymentStatus = "CONFIRMED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// Payment is a locally tracked gateway payment. Rows are created at checkout
// time by the (external) billing UI; the core only reads pending ones and
// flips their status once the gateway confirms.
type Payment struct {
	ID         string        `json:"id"`
	ExternalID string        `json:"external_id"`
	UserID     string        `json:"user_id"`
	Value      float64       `json:"value"`
	Credits    int64         `json:"credits"`
	Status     PaymentStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// SubscriptionStatus is the lifecycle state of a gateway subscription.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "ACTIVE"
	SubscriptionCanceled SubscriptionStatus = "CANCELED"
)

// Subscription mirrors the gateway's subscription object. Cancellation only
// flips the status; credits already granted are never removed.
type Subscription struct {
	ID         string             `json:"id"`
	ExternalID string             `json:"external_id"`
	UserID     string             `json:"user_id"`
	PlanType   string             `json:"plan_type"`
	Status     SubscriptionStatus `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}
