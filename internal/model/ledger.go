package model

import "time"

// LedgerOperation is the kind of balance-affecting operation recorded in the ledger.
type LedgerOperation string

const (
	OpAdd     LedgerOperation = "ADD"
	OpConsume LedgerOperation = "CONSUME"
	OpRefund  LedgerOperation = "REFUND"
	OpAdjust  LedgerOperation = "ADJUST"
	OpExpire  LedgerOperation = "EXPIRE"
)

// LedgerEntry is one immutable row of the append-only credit ledger.
// Rows are written only by the ledger service and never updated or deleted;
// a user's balance is always the fold of their entries in insertion order.
type LedgerEntry struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Operation     LedgerOperation `json:"operation"`
	Amount        int64           `json:"amount"`
	BalanceAfter  int64           `json:"balance_after"`
	Reason        string          `json:"reason"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	ActorID       string          `json:"actor_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Reference types used as the first half of a ledger idempotency key.
const (
	RefPayment      = "PAYMENT"
	RefRegistration = "REGISTRATION"
	RefManual       = "MANUAL"
)

// BalanceCache is the derived per-user balance row. It is disposable: the
// reconciler may overwrite it at any time with the ledger fold.
type BalanceCache struct {
	UserID    string    `json:"user_id"`
	Available int64     `json:"available"`
	Used      int64     `json:"used"`
	Total     int64     `json:"total"`
	PlanType  string    `json:"plan_type"`
	UpdatedAt time.Time `json:"updated_at"`
}
