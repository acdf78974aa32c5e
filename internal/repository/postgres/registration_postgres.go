package postgres

import (
	"context"
	"database/sql"
	"errors"

	"stampd/internal/model"
	"stampd/internal/repository"
)

// RegistrationPostgres is a PostgreSQL implementation of
// repository.RegistrationRepository.
type RegistrationPostgres struct {
	db *sql.DB
}

// NewRegistrationPostgres creates a new RegistrationPostgres repository.
func NewRegistrationPostgres(db *sql.DB) *RegistrationPostgres {
	return &RegistrationPostgres{db: db}
}

var _ repository.RegistrationRepository = (*RegistrationPostgres)(nil)

const registrationColumns = `id, owner_id, filename, storage_path, COALESCE(content_hash, ''), status, attempt_count, COALESCE(error_reason, ''), created_at, updated_at`

// Create inserts a new registration row and returns the stored record.
func (r *RegistrationPostgres) Create(ctx context.Context, reg *model.Registration) (*model.Registration, error) {
	const q = `
		INSERT INTO registrations (id, owner_id, filename, storage_path, status, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + registrationColumns + `
	`
	row := r.db.QueryRowContext(ctx, q,
		reg.ID,
		reg.OwnerID,
		reg.Filename,
		reg.StoragePath,
		string(reg.Status),
		reg.AttemptCount,
		reg.CreatedAt,
		reg.UpdatedAt,
	)
	return scanRegistration(row)
}

// FindByID fetches a single registration by its ID.
func (r *RegistrationPostgres) FindByID(ctx context.Context, id string) (*model.Registration, error) {
	const q = `SELECT ` + registrationColumns + ` FROM registrations WHERE id = $1`
	return scanRegistration(r.db.QueryRowContext(ctx, q, id))
}

// FindConfirmedByHash returns the newest confirmed registration for a hash, or nil.
func (r *RegistrationPostgres) FindConfirmedByHash(ctx context.Context, hash string) (*model.Registration, error) {
	const q = `
		SELECT ` + registrationColumns + `
		FROM registrations
		WHERE content_hash = $1 AND status = 'CONFIRMED'
		ORDER BY updated_at DESC
		LIMIT 1
	`
	reg, err := scanRegistration(r.db.QueryRowContext(ctx, q, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return reg, err
}

// FindByHash returns the newest registration for a hash in any status, or nil.
func (r *RegistrationPostgres) FindByHash(ctx context.Context, hash string) (*model.Registration, error) {
	const q = `
		SELECT ` + registrationColumns + `
		FROM registrations
		WHERE content_hash = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`
	reg, err := scanRegistration(r.db.QueryRowContext(ctx, q, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return reg, err
}

// SetContentHash persists the computed hash so retries never recompute it.
func (r *RegistrationPostgres) SetContentHash(ctx context.Context, id, hash string) error {
	const q = `UPDATE registrations SET content_hash = $2, updated_at = now() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id, hash)
	return err
}

// TransitionStatus performs a compare-and-set status change and reports
// whether the row actually moved. Concurrent workers on the same registration
// serialize here: only one of them observes `from`.
func (r *RegistrationPostgres) TransitionStatus(ctx context.Context, id string, from, to model.RegistrationStatus, errorReason string) (bool, error) {
	const q = `
		UPDATE registrations
		SET status = $3, error_reason = NULLIF($4, ''), updated_at = now()
		WHERE id = $1 AND status = $2
	`
	res, err := r.db.ExecContext(ctx, q, id, string(from), string(to), errorReason)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IncrementAttempt bumps the cumulative attempt counter and returns its new value.
func (r *RegistrationPostgres) IncrementAttempt(ctx context.Context, id string) (int, error) {
	const q = `
		UPDATE registrations
		SET attempt_count = attempt_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING attempt_count
	`
	var n int
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanRegistration(row rowScanner) (*model.Registration, error) {
	var reg model.Registration
	var status string
	if err := row.Scan(
		&reg.ID,
		&reg.OwnerID,
		&reg.Filename,
		&reg.StoragePath,
		&reg.ContentHash,
		&status,
		&reg.AttemptCount,
		&reg.ErrorReason,
		&reg.CreatedAt,
		&reg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	reg.Status = model.RegistrationStatus(status)
	return &reg, nil
}

// AnchorPostgres is a PostgreSQL implementation of repository.AnchorRepository.
type AnchorPostgres struct {
	db *sql.DB
}

// NewAnchorPostgres creates a new AnchorPostgres repository.
func NewAnchorPostgres(db *sql.DB) *AnchorPostgres {
	return &AnchorPostgres{db: db}
}

var _ repository.AnchorRepository = (*AnchorPostgres)(nil)

// Create inserts the anchor unless one already exists for the registration,
// in which case the existing row is returned unchanged. The unique index on
// registration_id enforces at-most-once at the store level.
func (r *AnchorPostgres) Create(ctx context.Context, a *model.Anchor) (*model.Anchor, error) {
	const q = `
		INSERT INTO anchors (id, registration_id, method, authority, proof, note, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (registration_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, q,
		a.ID,
		a.RegistrationID,
		string(a.Method),
		a.Authority,
		a.Proof,
		a.Note,
		a.ConfirmedAt,
	)
	if err != nil {
		return nil, err
	}
	return r.FindByRegistration(ctx, a.RegistrationID)
}

// FindByRegistration returns the registration's anchor, or nil when absent.
func (r *AnchorPostgres) FindByRegistration(ctx context.Context, registrationID string) (*model.Anchor, error) {
	const q = `
		SELECT id, registration_id, method, authority, proof, COALESCE(note, ''), confirmed_at
		FROM anchors
		WHERE registration_id = $1
	`
	row := r.db.QueryRowContext(ctx, q, registrationID)
	var a model.Anchor
	var method string
	err := row.Scan(&a.ID, &a.RegistrationID, &method, &a.Authority, &a.Proof, &a.Note, &a.ConfirmedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Method = model.AnchorMethod(method)
	return &a, nil
}
