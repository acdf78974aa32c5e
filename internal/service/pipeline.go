package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"stampd/internal/model"
	"stampd/internal/repository"
	"stampd/internal/storage"
	"stampd/internal/tsa"
)

// AuthorityAttempt records one authority tried during a submission, in order.
type AuthorityAttempt struct {
	Authority string `json:"authority"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// SubmitResult is the outcome of driving a registration through the pipeline.
type SubmitResult struct {
	RegistrationID   string                   `json:"registration_id"`
	Status           model.RegistrationStatus `json:"status"`
	AnchorMethod     model.AnchorMethod       `json:"anchor_method,omitempty"`
	Authority        string                   `json:"authority,omitempty"`
	Degraded         bool                     `json:"degraded,omitempty"`
	Attempt          int                      `json:"attempt"`
	RemainingBalance int64                    `json:"remaining_balance"`
	Attempts         []AuthorityAttempt       `json:"attempts,omitempty"`
}

// RegistrationView is a registration joined with its anchor metadata.
type RegistrationView struct {
	Registration *model.Registration `json:"registration"`
	Anchor       *model.Anchor       `json:"anchor,omitempty"`
	Degraded     bool                `json:"degraded,omitempty"`
}

// PipelineService owns every registration status transition. The submission
// sequence is a short saga: persist proof, consume credit, confirm — in that
// order, with a forced FAILED when consumption fails after the proof exists.
type PipelineService interface {
	// Create stores the uploaded content and opens a PENDING registration.
	Create(ctx context.Context, ownerID, filename string, r io.Reader, size int64) (*model.Registration, error)

	// Submit drives one registration from PENDING (or FAILED, on
	// resubmission) to CONFIRMED or FAILED.
	Submit(ctx context.Context, registrationID string, actor model.Actor) (*SubmitResult, error)

	// Get returns a registration with its anchor metadata.
	Get(ctx context.Context, registrationID string) (*RegistrationView, error)
}

type pipelineService struct {
	regs        repository.RegistrationRepository
	anchors     repository.AnchorRepository
	ledger      LedgerService
	store       storage.Storage
	authorities []tsa.Authority
	maxAttempts int

	submissions *prometheus.CounterVec
}

// NewPipelineService constructs a new PipelineService. maxAttempts is the
// cumulative ceiling across all invocations for one registration.
func NewPipelineService(
	regs repository.RegistrationRepository,
	anchors repository.AnchorRepository,
	ledger LedgerService,
	store storage.Storage,
	authorities []tsa.Authority,
	maxAttempts int,
	reg prometheus.Registerer,
) (PipelineService, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	s := &pipelineService{
		regs:        regs,
		anchors:     anchors,
		ledger:      ledger,
		store:       store,
		authorities: authorities,
		maxAttempts: maxAttempts,
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timestamp_submissions_total",
				Help: "Authority submissions by authority and outcome.",
			},
			[]string{"authority", "outcome"},
		),
	}
	if reg != nil {
		if err := reg.Register(s.submissions); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *pipelineService) Create(ctx context.Context, ownerID, filename string, r io.Reader, size int64) (*model.Registration, error) {
	if ownerID == "" {
		return nil, ErrUserRequired
	}
	if r == nil {
		return nil, ErrIDRequired
	}

	id := uuid.New().String()
	key := filepath.ToSlash(filepath.Join("registrations", id+filepath.Ext(filename)))
	if _, err := s.store.Put(ctx, key, r, storage.PutObjectOptions{
		Size:        size,
		ContentType: "application/octet-stream",
		Metadata:    map[string]string{"original-filename": filename},
	}); err != nil {
		return nil, fmt.Errorf("store content: %w", err)
	}

	now := time.Now().UTC()
	reg, err := s.regs.Create(ctx, &model.Registration{
		ID:          id,
		OwnerID:     ownerID,
		Filename:    filename,
		StoragePath: key,
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			return nil, fmt.Errorf("db save failed: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, fmt.Errorf("db save failed: %w", err)
	}
	return reg, nil
}

func (s *pipelineService) Submit(ctx context.Context, registrationID string, actor model.Actor) (*SubmitResult, error) {
	if registrationID == "" {
		return nil, ErrIDRequired
	}

	reg, err := s.regs.FindByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	switch reg.Status {
	case model.StatusConfirmed:
		return nil, ErrAlreadyConfirmed
	case model.StatusProcessing:
		return nil, ErrRegistrationBusy
	}

	// Cumulative ceiling: counts survive across invocations and human
	// resubmissions alike.
	if reg.AttemptCount >= s.maxAttempts {
		return nil, ErrAttemptsExhausted
	}

	// Entry guard: no state change and no external calls on an empty balance.
	if !actor.IsUnlimited() {
		fold, err := s.ledger.GetBalance(ctx, reg.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("fold balance: %w", err)
		}
		if fold.Available < 1 {
			return nil, ErrInsufficientBalance
		}
	}

	moved, err := s.regs.TransitionStatus(ctx, reg.ID, reg.Status, model.StatusProcessing, "")
	if err != nil {
		return nil, fmt.Errorf("enter processing: %w", err)
	}
	if !moved {
		return nil, ErrRegistrationBusy
	}

	attempt, err := s.regs.IncrementAttempt(ctx, reg.ID)
	if err != nil {
		return nil, s.fail(ctx, reg.ID, fmt.Sprintf("attempt bookkeeping failed: %v", err), err)
	}
	if attempt > s.maxAttempts {
		reason := fmt.Sprintf("submission attempt limit (%d) exceeded", s.maxAttempts)
		return nil, s.fail(ctx, reg.ID, reason, ErrAttemptsExhausted)
	}

	hash := reg.ContentHash
	if hash == "" {
		hash, err = s.computeHash(ctx, reg)
		if err != nil {
			return nil, s.fail(ctx, reg.ID, fmt.Sprintf("content hash: %v", err), err)
		}
	}

	// An anchor may already exist when a prior run persisted the proof but
	// lost the credit race; resubmission must not contact authorities again.
	anchor, err := s.anchors.FindByRegistration(ctx, reg.ID)
	if err != nil {
		return nil, s.fail(ctx, reg.ID, fmt.Sprintf("anchor lookup: %v", err), err)
	}

	var attempts []AuthorityAttempt
	if anchor == nil {
		anchor, attempts = s.submitToAuthorities(ctx, hash)
		anchor.RegistrationID = reg.ID
		// Proof is persisted before any credit consumption is attempted.
		anchor, err = s.anchors.Create(ctx, anchor)
		if err != nil {
			return nil, s.fail(ctx, reg.ID, fmt.Sprintf("persist anchor: %v", err), err)
		}
	}

	consumed, err := s.ledger.ConsumeCredit(ctx, reg.OwnerID, reg.ID, "timestamp registration", actor)
	if err != nil {
		// A persisted anchor is not sufficient to confirm without payment.
		reason := fmt.Sprintf("credit consumption failed after proof was persisted: %v", err)
		return nil, s.fail(ctx, reg.ID, reason, err)
	}

	moved, err = s.regs.TransitionStatus(ctx, reg.ID, model.StatusProcessing, model.StatusConfirmed, "")
	if err != nil {
		return nil, fmt.Errorf("confirm registration: %w", err)
	}
	if !moved {
		return nil, ErrRegistrationBusy
	}

	return &SubmitResult{
		RegistrationID:   reg.ID,
		Status:           model.StatusConfirmed,
		AnchorMethod:     anchor.Method,
		Authority:        anchor.Authority,
		Degraded:         anchor.Method == model.AnchorInternal,
		Attempt:          attempt,
		RemainingBalance: consumed.RemainingBalance,
		Attempts:         attempts,
	}, nil
}

// submitToAuthorities walks the ordered authority list and returns the first
// proof obtained, or the degraded internal anchor when every authority fails.
func (s *pipelineService) submitToAuthorities(ctx context.Context, hexHash string) (*model.Anchor, []AuthorityAttempt) {
	attempts := make([]AuthorityAttempt, 0, len(s.authorities))
	var lastErr error

	for _, auth := range s.authorities {
		proof, err := auth.Submit(ctx, hexHash)
		if err != nil {
			lastErr = err
			attempts = append(attempts, AuthorityAttempt{Authority: auth.Name(), Error: err.Error()})
			s.submissions.WithLabelValues(auth.Name(), "failure").Inc()
			continue
		}
		attempts = append(attempts, AuthorityAttempt{Authority: auth.Name(), OK: true})
		s.submissions.WithLabelValues(auth.Name(), "success").Inc()
		return &model.Anchor{
			ID:          uuid.New().String(),
			Method:      model.AnchorExternal,
			Authority:   auth.Name(),
			Proof:       proof,
			ConfirmedAt: time.Now().UTC(),
		}, attempts
	}

	note := "no external authority configured"
	if lastErr != nil {
		note = fmt.Sprintf("all external authorities failed; last error: %v", lastErr)
	}
	s.submissions.WithLabelValues("internal", "fallback").Inc()

	now := time.Now().UTC()
	proof, _ := json.Marshal(map[string]any{
		"content_hash": hexHash,
		"anchored_at":  now.Format(time.RFC3339Nano),
		"method":       "internal",
	})
	return &model.Anchor{
		ID:          uuid.New().String(),
		Method:      model.AnchorInternal,
		Authority:   "internal",
		Proof:       proof,
		Note:        note,
		ConfirmedAt: now,
	}, attempts
}

// computeHash streams the stored content through SHA-256 and persists the
// digest so later retries never recompute it.
func (s *pipelineService) computeHash(ctx context.Context, reg *model.Registration) (string, error) {
	rc, _, err := s.store.Get(ctx, reg.StoragePath)
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	defer rc.Close()

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	hash := hex.EncodeToString(h.Sum(nil))

	if err := s.regs.SetContentHash(ctx, reg.ID, hash); err != nil {
		return "", fmt.Errorf("persist hash: %w", err)
	}
	return hash, nil
}

// fail forces the registration to FAILED with a human-readable reason and
// returns cause so callers can branch on the original error.
func (s *pipelineService) fail(ctx context.Context, registrationID, reason string, cause error) error {
	if _, err := s.regs.TransitionStatus(ctx, registrationID, model.StatusProcessing, model.StatusFailed, reason); err != nil {
		return fmt.Errorf("force failed (%s): %w", reason, err)
	}
	return cause
}

func (s *pipelineService) Get(ctx context.Context, registrationID string) (*RegistrationView, error) {
	if registrationID == "" {
		return nil, ErrIDRequired
	}
	reg, err := s.regs.FindByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	anchor, err := s.anchors.FindByRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	return &RegistrationView{
		Registration: reg,
		Anchor:       anchor,
		Degraded:     anchor != nil && anchor.Method == model.AnchorInternal,
	}, nil
}
