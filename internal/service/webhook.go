package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"stampd/internal/gateway"
	"stampd/internal/model"
	"stampd/internal/repository"
)

// Action labels recorded on webhook audit rows.
const (
	ActionCreditsAdded      = "CREDITS_ADDED"
	ActionCreditsRefunded   = "CREDITS_REFUNDED"
	ActionStatusRecorded    = "STATUS_RECORDED"
	ActionSubscriptionSaved = "SUBSCRIPTION_UPDATED"
	ActionSkippedDuplicate  = "SKIPPED_ALREADY_PROCESSED"
	ActionRejectedSignature = "REJECTED_BAD_SIGNATURE"
	ActionRejectedPayload   = "REJECTED_INVALID_PAYLOAD"
	ActionManualReview      = "MANUAL_REVIEW_REQUIRED"
	ActionIgnoredUnknown    = "IGNORED_UNKNOWN_EVENT"
)

// WebhookResult is the outcome of one inbound gateway event.
type WebhookResult struct {
	Action       string `json:"action"`
	Idempotent   bool   `json:"idempotent"`
	ManualReview bool   `json:"manual_review,omitempty"`
	CreditsMoved int64  `json:"credits_moved,omitempty"`
}

// PollResult summarizes one polling reconciliation sweep.
type PollResult struct {
	Checked  int `json:"checked"`
	Released int `json:"released"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// WebhookService verifies, deduplicates and dispatches inbound payment
// gateway events, and owns the secondary polling path. Both paths funnel
// through the same (event_type, external_payment_id) idempotency key and the
// same ledger calls, so a credit release happens at most once no matter
// which path wins.
type WebhookService interface {
	// Process handles one inbound webhook request. Exactly one audit row is
	// written per call, whatever the outcome. A bad token returns
	// ErrUnauthorized after the rejected row is written.
	Process(ctx context.Context, token string, payload *model.WebhookPayload) (*WebhookResult, error)

	// ReconcilePendingPayments polls the gateway for locally pending
	// payments and releases credits for the confirmed ones through the same
	// idempotency path as Process.
	ReconcilePendingPayments(ctx context.Context) (*PollResult, error)
}

type webhookService struct {
	token   string
	ledger  LedgerService
	events  repository.WebhookEventRepository
	paym    repository.PaymentRepository
	subs    repository.SubscriptionRepository
	gateway gateway.Client

	eventsTotal *prometheus.CounterVec
}

// systemActor is the identity webhook-driven ledger writes are attributed to.
var systemActor = model.Actor{ID: "payment-gateway", Role: model.RoleAdmin}

// NewWebhookService constructs a new WebhookService.
func NewWebhookService(
	token string,
	ledger LedgerService,
	events repository.WebhookEventRepository,
	paym repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	gw gateway.Client,
	reg prometheus.Registerer,
) (WebhookService, error) {
	s := &webhookService{
		token:   token,
		ledger:  ledger,
		events:  events,
		paym:    paym,
		subs:    subs,
		gateway: gw,
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "Inbound gateway events by type and action taken.",
			},
			[]string{"event_type", "action"},
		),
	}
	if reg != nil {
		if err := reg.Register(s.eventsTotal); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *webhookService) Process(ctx context.Context, token string, payload *model.WebhookPayload) (*WebhookResult, error) {
	eventType := ""
	paymentID := ""
	if payload != nil {
		eventType = payload.Event
		paymentID = payload.Payment.ID
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 || s.token == "" {
		s.audit(ctx, eventType, paymentID, false, ActionRejectedSignature, "access token mismatch")
		return nil, ErrUnauthorized
	}

	if payload == nil || eventType == "" || paymentID == "" {
		s.audit(ctx, eventType, paymentID, false, ActionRejectedPayload, "event and payment.id are required")
		return nil, ErrIDRequired
	}

	// Idempotency: a processed row for this (event, payment) means the work
	// already happened on some path. Record the replay and stop.
	prior, err := s.events.FindProcessed(ctx, eventType, paymentID)
	if err != nil {
		s.audit(ctx, eventType, paymentID, false, ActionSkippedDuplicate, err.Error())
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	if prior != nil {
		s.audit(ctx, eventType, paymentID, false, ActionSkippedDuplicate, "")
		return &WebhookResult{Action: ActionSkippedDuplicate, Idempotent: true}, nil
	}

	switch eventType {
	case model.EventPaymentConfirmed, model.EventPaymentReceived:
		return s.releaseCredits(ctx, eventType, &payload.Payment, false)
	case model.EventSubscriptionPayment:
		return s.releaseCredits(ctx, eventType, &payload.Payment, true)
	case model.EventPaymentRefunded, model.EventPaymentChargeback:
		return s.refund(ctx, eventType, &payload.Payment)
	case model.EventPaymentFailed, model.EventPaymentOverdue:
		return s.recordFailure(ctx, eventType, &payload.Payment)
	case model.EventSubscriptionCreated, model.EventSubscriptionCanceled:
		return s.subscriptionLifecycle(ctx, eventType, &payload.Payment)
	default:
		s.audit(ctx, eventType, paymentID, false, ActionIgnoredUnknown, "")
		return &WebhookResult{Action: ActionIgnoredUnknown}, nil
	}
}

// releaseCredits grants credits for a confirmed payment. Shared by the
// webhook path and the polling path.
func (s *webhookService) releaseCredits(ctx context.Context, eventType string, p *model.WebhookPayment, isSubscription bool) (*WebhookResult, error) {
	if p.ExternalReference == "" {
		s.audit(ctx, eventType, p.ID, false, ActionRejectedPayload, "externalReference (user id) missing")
		return nil, ErrUserRequired
	}

	plan, ok := model.PlanForValue(p.Value)
	if !ok {
		s.audit(ctx, eventType, p.ID, false, ActionManualReview,
			fmt.Sprintf("no plan matches charge value %.2f", p.Value))
		return &WebhookResult{Action: ActionManualReview, ManualReview: true}, nil
	}

	res, err := s.ledger.AddCredits(ctx, AddCreditsParams{
		UserID:         p.ExternalReference,
		Amount:         plan.Credits,
		Reason:         fmt.Sprintf("payment %s (%s)", p.ID, plan.Type),
		ReferenceType:  model.RefPayment,
		ReferenceID:    p.ID,
		IsSubscription: isSubscription,
		PlanType:       plan.Type,
	})
	if err != nil {
		s.audit(ctx, eventType, p.ID, false, ActionCreditsAdded, err.Error())
		return nil, fmt.Errorf("add credits: %w", err)
	}

	s.markPayment(ctx, p.ID, model.PaymentConfirmed)
	s.audit(ctx, eventType, p.ID, true, ActionCreditsAdded, "")
	return &WebhookResult{
		Action:       ActionCreditsAdded,
		Idempotent:   res.Idempotent,
		CreditsMoved: res.AmountAdded,
	}, nil
}

// refund removes min(original credits, currently available). When credits are
// already spent the event is flagged for a human instead of silently failing
// or taking the balance negative.
func (s *webhookService) refund(ctx context.Context, eventType string, p *model.WebhookPayment) (*WebhookResult, error) {
	if p.ExternalReference == "" {
		s.audit(ctx, eventType, p.ID, false, ActionRejectedPayload, "externalReference (user id) missing")
		return nil, ErrUserRequired
	}

	plan, ok := model.PlanForValue(p.Value)
	if !ok {
		s.audit(ctx, eventType, p.ID, false, ActionManualReview,
			fmt.Sprintf("no plan matches charge value %.2f", p.Value))
		return &WebhookResult{Action: ActionManualReview, ManualReview: true}, nil
	}

	fold, err := s.ledger.GetBalance(ctx, p.ExternalReference)
	if err != nil {
		s.audit(ctx, eventType, p.ID, false, ActionCreditsRefunded, err.Error())
		return nil, fmt.Errorf("fold balance: %w", err)
	}

	refundable := plan.Credits
	if fold.Available < refundable {
		refundable = fold.Available
	}
	if refundable <= 0 {
		s.audit(ctx, eventType, p.ID, false, ActionManualReview,
			fmt.Sprintf("credits for payment %s already consumed; refund requires manual review", p.ID))
		return &WebhookResult{Action: ActionManualReview, ManualReview: true}, nil
	}

	res, err := s.ledger.RefundCredit(ctx, RefundParams{
		UserID:      p.ExternalReference,
		Amount:      refundable,
		Reason:      fmt.Sprintf("gateway %s for payment %s", eventType, p.ID),
		ReferenceID: p.ID,
		Actor:       systemActor,
	})
	if err != nil {
		s.audit(ctx, eventType, p.ID, false, ActionCreditsRefunded, err.Error())
		return nil, fmt.Errorf("refund credits: %w", err)
	}

	s.markPayment(ctx, p.ID, model.PaymentRefunded)
	s.audit(ctx, eventType, p.ID, true, ActionCreditsRefunded, "")
	return &WebhookResult{
		Action:       ActionCreditsRefunded,
		Idempotent:   res.Idempotent,
		CreditsMoved: res.AmountRefunded,
	}, nil
}

// recordFailure updates payment status only; failure events never mutate the ledger.
func (s *webhookService) recordFailure(ctx context.Context, eventType string, p *model.WebhookPayment) (*WebhookResult, error) {
	s.markPayment(ctx, p.ID, model.PaymentFailed)
	s.audit(ctx, eventType, p.ID, true, ActionStatusRecorded, "")
	return &WebhookResult{Action: ActionStatusRecorded}, nil
}

// subscriptionLifecycle persists subscription state. Cancellation never
// removes credits already granted.
func (s *webhookService) subscriptionLifecycle(ctx context.Context, eventType string, p *model.WebhookPayment) (*WebhookResult, error) {
	subID := p.Subscription
	if subID == "" {
		subID = p.ID
	}

	var err error
	if eventType == model.EventSubscriptionCanceled {
		err = s.subs.UpdateStatusByExternalID(ctx, subID, model.SubscriptionCanceled)
	} else {
		planType := ""
		if plan, ok := model.PlanForValue(p.Value); ok {
			planType = plan.Type
		}
		now := time.Now().UTC()
		_, err = s.subs.Upsert(ctx, &model.Subscription{
			ID:         uuid.New().String(),
			ExternalID: subID,
			UserID:     p.ExternalReference,
			PlanType:   planType,
			Status:     model.SubscriptionActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if err != nil {
		s.audit(ctx, eventType, p.ID, false, ActionSubscriptionSaved, err.Error())
		return nil, fmt.Errorf("save subscription: %w", err)
	}

	s.audit(ctx, eventType, p.ID, true, ActionSubscriptionSaved, "")
	return &WebhookResult{Action: ActionSubscriptionSaved}, nil
}

func (s *webhookService) ReconcilePendingPayments(ctx context.Context) (*PollResult, error) {
	if s.gateway == nil {
		return nil, fmt.Errorf("gateway client not configured")
	}

	pending, err := s.paym.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}

	out := &PollResult{}
	for i := range pending {
		p := &pending[i]
		out.Checked++

		info, err := s.gateway.GetPayment(ctx, p.ExternalID)
		if err != nil {
			out.Errors++
			continue
		}
		if !info.Confirmed() {
			out.Skipped++
			continue
		}

		// Same idempotency key as the webhook path: if the webhook already
		// released this payment, the poll takes no action.
		prior, err := s.events.FindProcessed(ctx, model.EventPaymentConfirmed, p.ExternalID)
		if err != nil {
			out.Errors++
			continue
		}
		if prior != nil {
			out.Skipped++
			continue
		}

		res, err := s.releaseCredits(ctx, model.EventPaymentConfirmed, &model.WebhookPayment{
			ID:                p.ExternalID,
			Customer:          info.Customer,
			Value:             info.Value,
			Status:            info.Status,
			ExternalReference: p.UserID,
			Subscription:      info.Subscription,
		}, false)
		if err != nil || res.ManualReview {
			out.Errors++
			continue
		}
		out.Released++
	}
	return out, nil
}

// markPayment flips the local payment row when one exists. Best effort: the
// ledger already committed and the audit row carries the truth.
func (s *webhookService) markPayment(ctx context.Context, externalID string, status model.PaymentStatus) {
	p, err := s.paym.FindByExternalID(ctx, externalID)
	if err != nil || p == nil {
		return
	}
	_ = s.paym.UpdateStatus(ctx, p.ID, status)
}

// audit appends the single per-request audit row. Failures here are not
// returned to the dispatcher: the ledger outcome already stands and the
// caller's error (if any) takes precedence.
func (s *webhookService) audit(ctx context.Context, eventType, paymentID string, processed bool, action, errMsg string) {
	_, err := s.events.Create(ctx, &model.WebhookEvent{
		ID:                uuid.New().String(),
		EventType:         eventType,
		ExternalPaymentID: paymentID,
		Processed:         processed,
		ActionTaken:       action,
		ErrorMessage:      errMsg,
		ReceivedAt:        time.Now().UTC(),
	})
	if err == nil {
		s.eventsTotal.WithLabelValues(eventType, action).Inc()
	}
}
