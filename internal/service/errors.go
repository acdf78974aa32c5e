package service

import "errors"

// Sentinel errors shared across the service layer. Handlers translate these
// to HTTP statuses; internal retries branch on them.
var (
	ErrUserRequired   = errors.New("user id is required")
	ErrIDRequired     = errors.New("id is required")
	ErrReasonRequired = errors.New("reason is required")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrInvalidHash    = errors.New("invalid content hash format")

	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("actor is not authorized")

	// ErrInsufficientBalance is a hard stop: it is never retried and a
	// registration hitting it stays in PENDING.
	ErrInsufficientBalance = errors.New("insufficient_balance")

	// ErrAlreadyConfirmed guards the terminal registration state.
	ErrAlreadyConfirmed = errors.New("registration already confirmed")

	// ErrAttemptsExhausted means the cumulative attempt ceiling was hit and
	// automatic retries have stopped.
	ErrAttemptsExhausted = errors.New("submission attempts exhausted")

	// ErrRegistrationBusy means another worker holds the registration in
	// PROCESSING.
	ErrRegistrationBusy = errors.New("registration is being processed")
)
