package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"stampd/internal/model"
	"stampd/internal/repository"
)

// VerificationStatus is the verdict of a verification lookup.
type VerificationStatus string

const (
	VerificationVerified      VerificationStatus = "VERIFIED"
	VerificationProcessing    VerificationStatus = "PROCESSING"
	VerificationNotFound      VerificationStatus = "NOT_FOUND"
	VerificationInvalidFormat VerificationStatus = "INVALID_FORMAT"
)

// VerificationResult carries the verdict plus anchor metadata on success.
type VerificationResult struct {
	Status         VerificationStatus `json:"status"`
	RegistrationID string             `json:"registration_id,omitempty"`
	AnchorMethod   model.AnchorMethod `json:"anchor_method,omitempty"`
	Authority      string             `json:"authority,omitempty"`
	Degraded       bool               `json:"degraded,omitempty"`
	ConfirmedAt    *time.Time         `json:"confirmed_at,omitempty"`
}

// VerificationService is the read-only lookup surface consumed by the UI.
type VerificationService interface {
	// VerifyHash answers whether a content hash has a confirmed anchor.
	VerifyHash(ctx context.Context, hexHash string) (*VerificationResult, error)

	// VerifyProof additionally checks an uploaded proof against the stored
	// anchor bytes for that hash.
	VerifyProof(ctx context.Context, hexHash string, proof []byte) (*VerificationResult, error)
}

type verificationService struct {
	regs    repository.RegistrationRepository
	anchors repository.AnchorRepository
}

// NewVerificationService constructs a new VerificationService.
func NewVerificationService(regs repository.RegistrationRepository, anchors repository.AnchorRepository) VerificationService {
	return &verificationService{regs: regs, anchors: anchors}
}

func (s *verificationService) VerifyHash(ctx context.Context, hexHash string) (*VerificationResult, error) {
	if !validHexHash(hexHash) {
		return &VerificationResult{Status: VerificationInvalidFormat}, nil
	}

	reg, err := s.regs.FindConfirmedByHash(ctx, hexHash)
	if err != nil {
		return nil, fmt.Errorf("lookup hash: %w", err)
	}
	if reg == nil {
		// A registration still in flight reports PROCESSING, not absence.
		pending, err := s.regs.FindByHash(ctx, hexHash)
		if err != nil {
			return nil, fmt.Errorf("lookup hash: %w", err)
		}
		if pending != nil && (pending.Status == model.StatusPending || pending.Status == model.StatusProcessing) {
			return &VerificationResult{Status: VerificationProcessing, RegistrationID: pending.ID}, nil
		}
		return &VerificationResult{Status: VerificationNotFound}, nil
	}

	anchor, err := s.anchors.FindByRegistration(ctx, reg.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup anchor: %w", err)
	}
	if anchor == nil {
		// Confirmed without an anchor would violate the confirmation order;
		// report in-flight rather than inventing a verdict.
		return &VerificationResult{Status: VerificationProcessing, RegistrationID: reg.ID}, nil
	}

	confirmedAt := anchor.ConfirmedAt
	return &VerificationResult{
		Status:         VerificationVerified,
		RegistrationID: reg.ID,
		AnchorMethod:   anchor.Method,
		Authority:      anchor.Authority,
		Degraded:       anchor.Method == model.AnchorInternal,
		ConfirmedAt:    &confirmedAt,
	}, nil
}

func (s *verificationService) VerifyProof(ctx context.Context, hexHash string, proof []byte) (*VerificationResult, error) {
	if len(proof) == 0 {
		return &VerificationResult{Status: VerificationInvalidFormat}, nil
	}
	res, err := s.VerifyHash(ctx, hexHash)
	if err != nil || res.Status != VerificationVerified {
		return res, err
	}

	anchor, err := s.anchors.FindByRegistration(ctx, res.RegistrationID)
	if err != nil {
		return nil, fmt.Errorf("lookup anchor: %w", err)
	}
	if anchor == nil || !bytes.Equal(anchor.Proof, proof) {
		return &VerificationResult{Status: VerificationNotFound}, nil
	}
	return res, nil
}

func validHexHash(h string) bool {
	if len(h) != 64 {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}
