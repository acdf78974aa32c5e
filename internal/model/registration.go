package model

import "time"

// RegistrationStatus is the lifecycle state of a timestamp registration.
type RegistrationStatus string

const (
	StatusPending    RegistrationStatus = "PENDING"
	StatusProcessing RegistrationStatus = "PROCESSING"
	StatusConfirmed  RegistrationStatus = "CONFIRMED"
	StatusFailed     RegistrationStatus = "FAILED"
)

// Registration is one file/hash being timestamped. Status transitions are
// owned exclusively by the submission pipeline; CONFIRMED is terminal.
type Registration struct {
	ID           string             `json:"id"`
	OwnerID      string             `json:"owner_id"`
	Filename     string             `json:"filename"`
	StoragePath  string             `json:"storage_path"`
	ContentHash  string             `json:"content_hash,omitempty"` // hex SHA-256, empty until computed
	Status       RegistrationStatus `json:"status"`
	AttemptCount int                `json:"attempt_count"`
	ErrorReason  string             `json:"error_reason,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// AnchorMethod distinguishes a real external timestamp proof from the
// degraded internal fallback.
type AnchorMethod string

const (
	AnchorExternal AnchorMethod = "EXTERNAL"
	AnchorInternal AnchorMethod = "INTERNAL"
)

// Anchor is the proof that a registration's hash was submitted to a
// timestamping authority. At most one anchor exists per registration and it
// is immutable once written.
type Anchor struct {
	ID             string       `json:"id"`
	RegistrationID string       `json:"registration_id"`
	Method         AnchorMethod `json:"method"`
	Authority      string       `json:"authority"`
	Proof          []byte       `json:"-"`
	Note           string       `json:"note,omitempty"`
	ConfirmedAt    time.Time    `json:"confirmed_at"`
}
