package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/mmynk/tabsplit/internal/allocator"
	"github.com/mmynk/tabsplit/internal/auth"
	"github.com/mmynk/tabsplit/internal/calculator"
	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/money"
	"github.com/mmynk/tabsplit/internal/observability"
	"github.com/mmynk/tabsplit/internal/storage"
)

// ClaimService handles the claim phase: joining a shared receipt,
// submitting claims, and polling status.
type ClaimService struct {
	store    storage.Store
	alloc    *allocator.Allocator
	sessions *auth.SessionManager
	metrics  *observability.Metrics
}

// NewClaimService creates a new ClaimService.
func NewClaimService(store storage.Store, alloc *allocator.Allocator, sessions *auth.SessionManager, metrics *observability.Metrics) *ClaimService {
	return &ClaimService{
		store:    store,
		alloc:    alloc,
		sessions: sessions,
		metrics:  metrics,
	}
}

// JoinResult carries the session token handed to a new viewer.
type JoinResult struct {
	Name  string
	Token string
}

// Status is everything a polling viewer needs to render the claim
// page. Reading it never mutates server state.
type Status struct {
	ViewerName      string
	ViewerFinalized bool
	MyTotal         money.Cents
	Receipt         *models.Receipt
	Projection      *calculator.Projection
}

// Join registers a viewer on a shared receipt and issues their
// session. Joining twice with the same name is a no-op.
func (s *ClaimService) Join(ctx context.Context, receiptID, name string) (*JoinResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, allocator.NewValidationError("name is required")
	}

	receipt, err := s.store.GetReceipt(ctx, receiptID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, allocator.NewNotFoundError("receipt %s not found", receiptID)
		}
		return nil, err
	}
	if !receipt.ClaimsOpen() {
		return nil, allocator.NewPreconditionError("receipt is not open for claims")
	}

	if err := s.store.AddParticipant(ctx, &models.Participant{ReceiptID: receiptID, Name: name}); err != nil {
		slog.Error("Join failed to add participant", "receipt_id", receiptID, "error", err)
		return nil, err
	}

	token, err := s.sessions.Issue(receiptID, name)
	if err != nil {
		return nil, err
	}

	slog.Info("Participant joined", "receipt_id", receiptID, "name", name)
	return &JoinResult{Name: name, Token: token}, nil
}

// Submit forwards a claim submission to the allocator and records the
// outcome.
func (s *ClaimService) Submit(ctx context.Context, receiptID, name string, desired map[string]int) (*allocator.Result, error) {
	result, err := s.alloc.Submit(ctx, receiptID, name, desired)
	s.metrics.RecordClaim(outcomeLabel(err))
	return result, err
}

// GetStatus builds the claim snapshot for one viewer. viewerName may
// be empty for anonymous polls; my-total is zero then.
func (s *ClaimService) GetStatus(ctx context.Context, receiptID, viewerName string) (*Status, error) {
	receipt, err := s.store.GetReceipt(ctx, receiptID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, allocator.NewNotFoundError("receipt %s not found", receiptID)
		}
		return nil, err
	}
	if !receipt.ClaimsOpen() {
		return nil, allocator.NewPreconditionError("receipt is not open for claims")
	}

	claims, err := s.store.ListClaims(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, receiptID)
	if err != nil {
		return nil, err
	}

	proj, err := calculator.Project(receipt, claims, participants)
	if err != nil {
		slog.Error("GetStatus projection failed", "receipt_id", receiptID, "error", err)
		return nil, err
	}

	status := &Status{
		ViewerName: viewerName,
		MyTotal:    proj.ShareFor(viewerName),
		Receipt:    receipt,
		Projection: proj,
	}
	for _, p := range participants {
		if p.Name == viewerName {
			status.ViewerFinalized = p.Finalized
			break
		}
	}

	s.metrics.RecordStatusPoll()
	return status, nil
}

// outcomeLabel maps a submission error to its metric label.
func outcomeLabel(err error) string {
	if err == nil {
		return observability.OutcomeSuccess
	}
	ce := allocator.AsClaimError(err)
	if ce == nil {
		return observability.OutcomeError
	}
	switch ce.Code {
	case allocator.CodeValidation:
		return observability.OutcomeValidation
	case allocator.CodeAvailabilityConflict:
		return observability.OutcomeAvailability
	case allocator.CodePreconditionFailed:
		return observability.OutcomePrecondition
	case allocator.CodeConflict:
		return observability.OutcomeConflict
	case allocator.CodeNotFound:
		return observability.OutcomeNotFound
	default:
		return observability.OutcomeError
	}
}
