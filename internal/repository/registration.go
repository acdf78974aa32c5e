package repository

import (
	"context"

	"stampd/internal/model"
)

// RegistrationRepository defines data access for registrations. Status
// changes go through TransitionStatus so concurrent workers on the same
// registration serialize on a compare-and-set instead of clobbering each
// other.
type RegistrationRepository interface {
	Create(ctx context.Context, r *model.Registration) (*model.Registration, error)

	FindByID(ctx context.Context, id string) (*model.Registration, error)

	// FindConfirmedByHash returns the newest confirmed registration for a
	// content hash, or nil when none exists.
	FindConfirmedByHash(ctx context.Context, hash string) (*model.Registration, error)

	// FindByHash returns the newest registration for a content hash in any
	// status, or nil when none exists.
	FindByHash(ctx context.Context, hash string) (*model.Registration, error)

	// SetContentHash persists the computed hash so retries never recompute it.
	SetContentHash(ctx context.Context, id, hash string) error

	// TransitionStatus moves the registration from one status to another and
	// reports whether the row actually changed. A false return means another
	// writer got there first or the registration was not in `from`.
	TransitionStatus(ctx context.Context, id string, from, to model.RegistrationStatus, errorReason string) (bool, error)

	// IncrementAttempt bumps the persisted attempt counter and returns the
	// new cumulative value.
	IncrementAttempt(ctx context.Context, id string) (int, error)
}

// AnchorRepository defines data access for anchors. An anchor is written at
// most once per registration; Create is a no-op returning the existing row
// when one is already present.
type AnchorRepository interface {
	Create(ctx context.Context, a *model.Anchor) (*model.Anchor, error)
	FindByRegistration(ctx context.Context, registrationID string) (*model.Anchor, error)
}
