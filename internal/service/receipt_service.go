package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mmynk/tabsplit/internal/auth"
	"github.com/mmynk/tabsplit/internal/ledger"
	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/money"
	"github.com/mmynk/tabsplit/internal/observability"
	"github.com/mmynk/tabsplit/internal/reconcile"
	"github.com/mmynk/tabsplit/internal/storage"
)

// ErrReceiptLocked is returned when an edit arrives after the receipt
// has been finalized for claims.
var ErrReceiptLocked = errors.New("receipt is locked for claims")

// ReceiptService manages the upload-correct-edit-finalize side of a
// receipt's life. Claims are handled by ClaimService once Finalize has
// locked the content.
type ReceiptService struct {
	store     storage.Store
	metrics   *observability.Metrics
	reconcile reconcile.Options
	baseURL   string
}

// NewReceiptService creates a new ReceiptService.
func NewReceiptService(store storage.Store, metrics *observability.Metrics, opts reconcile.Options, baseURL string) *ReceiptService {
	return &ReceiptService{
		store:     store,
		metrics:   metrics,
		reconcile: opts,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
	}
}

// IngestResult is what the uploader gets back: the stored receipt plus
// the editor key, which is never shown again.
type IngestResult struct {
	Receipt   *models.Receipt
	EditorKey string
	EditURL   string
	Method    reconcile.Method
	Note      string
}

// ReceiptContent carries the editable fields of a receipt. Subtotal is
// always derived from the items, never taken from the client.
type ReceiptContent struct {
	RestaurantName string
	Items          []models.LineItem
	Tax            money.Cents
	Tip            money.Cents
	Total          money.Cents
}

// Ingest runs extraction output through the corrector and stores the
// result as an editable receipt. An unbalanced correction still yields
// a receipt; the uploader fixes it by hand before finalizing.
func (s *ReceiptService) Ingest(ctx context.Context, ex reconcile.Extracted) (*IngestResult, error) {
	res := reconcile.Correct(ex, s.reconcile)
	s.metrics.RecordReconcile(string(res.Method))

	key := auth.NewEditorKey()
	hash, err := auth.HashEditorKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare editor key: %w", err)
	}

	receipt := &models.Receipt{
		RestaurantName: res.RestaurantName,
		State:          models.StateEditable,
		Items:          res.Items,
		Subtotal:       res.Subtotal,
		Tax:            res.Tax,
		Tip:            res.Tip,
		Total:          res.Total,
		Balanced:       res.Balanced,
		EditorKeyHash:  hash,
	}

	if err := s.store.CreateReceipt(ctx, receipt); err != nil {
		slog.Error("Ingest failed to store receipt", "error", err)
		return nil, err
	}

	slog.Info("Receipt ingested",
		"receipt_id", receipt.ID,
		"items", len(receipt.Items),
		"method", res.Method,
		"balanced", res.Balanced,
	)

	return &IngestResult{
		Receipt:   receipt,
		EditorKey: key,
		EditURL:   s.editURL(receipt.ID),
		Method:    res.Method,
		Note:      res.Note,
	}, nil
}

// Get retrieves a receipt by ID.
func (s *ReceiptService) Get(ctx context.Context, id string) (*models.Receipt, error) {
	receipt, err := s.store.GetReceipt(ctx, id)
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Update replaces the editable content of a receipt. It rejects
// invalid items outright and reports, not rejects, an out-of-balance
// total: the uploader sees is_balanced and keeps editing.
func (s *ReceiptService) Update(ctx context.Context, id, editorKey string, content ReceiptContent) (*models.Receipt, error) {
	receipt, err := s.store.GetReceipt(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := auth.VerifyEditorKey(receipt.EditorKeyHash, editorKey); err != nil {
		return nil, err
	}
	if receipt.ClaimsOpen() {
		return nil, ErrReceiptLocked
	}

	applyContent(receipt, content)
	if errs := ledger.ValidateReceipt(receipt); len(errs) > 0 {
		return nil, errs
	}
	receipt.Balanced = ledger.Balanced(receipt)

	if err := s.store.UpdateReceipt(ctx, receipt); err != nil {
		slog.Error("Update failed", "receipt_id", id, "error", err)
		return nil, err
	}

	slog.Info("Receipt updated",
		"receipt_id", id,
		"balanced", receipt.Balanced,
		"gap", ledger.BalanceGap(receipt).String(),
	)
	return receipt, nil
}

// Correct replaces the content of a receipt after claims have opened.
// It is the administrative path for a wrong total discovered too late
// for Update: the lock does not apply, but the replacement must
// balance because participants keep claiming against it. Existing
// claims are dropped with the replaced items and every participant is
// reopened, so the room re-claims from scratch.
func (s *ReceiptService) Correct(ctx context.Context, id, editorKey string, content ReceiptContent) (*models.Receipt, error) {
	receipt, err := s.store.GetReceipt(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := auth.VerifyEditorKey(receipt.EditorKeyHash, editorKey); err != nil {
		return nil, err
	}

	applyContent(receipt, content)
	if errs := ledger.ValidateReceipt(receipt); len(errs) > 0 {
		return nil, errs
	}
	if !ledger.Balanced(receipt) {
		return nil, ledger.Errors{{
			Field:   "total",
			Message: fmt.Sprintf("receipt is out of balance by %s", ledger.BalanceGap(receipt)),
		}}
	}
	receipt.Balanced = true

	if err := s.store.UpdateReceipt(ctx, receipt); err != nil {
		slog.Error("Correction failed", "receipt_id", id, "error", err)
		return nil, err
	}
	if err := s.store.ResetFinalization(ctx, id); err != nil {
		slog.Error("Correction failed to reopen participants", "receipt_id", id, "error", err)
		return nil, err
	}

	slog.Warn("Receipt corrected after claims opened",
		"receipt_id", id,
		"items", len(receipt.Items),
		"total", receipt.Total.String(),
	)
	return receipt, nil
}

// applyContent copies the editable fields onto the receipt, trimming
// names, renumbering positions, and deriving the subtotal from the
// items.
func applyContent(receipt *models.Receipt, content ReceiptContent) {
	items := make([]models.LineItem, len(content.Items))
	for i, it := range content.Items {
		items[i] = models.LineItem{
			Position:   i,
			Name:       strings.TrimSpace(it.Name),
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			TotalPrice: it.TotalPrice,
		}
	}
	receipt.RestaurantName = strings.TrimSpace(content.RestaurantName)
	receipt.Items = items
	receipt.Subtotal = receipt.ItemsTotal()
	receipt.Tax = content.Tax
	receipt.Tip = content.Tip
	receipt.Total = content.Total
}

// Finalize locks the receipt content and opens it for claims. Only a
// balanced receipt may be finalized; the returned share URL is what
// the uploader sends around. Finalizing twice returns the same URL.
func (s *ReceiptService) Finalize(ctx context.Context, id, editorKey string) (string, error) {
	receipt, err := s.store.GetReceipt(ctx, id)
	if err != nil {
		return "", err
	}
	if err := auth.VerifyEditorKey(receipt.EditorKeyHash, editorKey); err != nil {
		return "", err
	}
	if receipt.ClaimsOpen() {
		return s.shareURL(id), nil
	}

	if errs := ledger.ValidateReceipt(receipt); len(errs) > 0 {
		return "", errs
	}
	if !ledger.Balanced(receipt) {
		return "", ledger.Errors{{
			Field:   "total",
			Message: fmt.Sprintf("receipt is out of balance by %s", ledger.BalanceGap(receipt)),
		}}
	}

	if err := s.store.SetReceiptState(ctx, id, models.StateClaimsOpen); err != nil {
		slog.Error("Finalize failed", "receipt_id", id, "error", err)
		return "", err
	}

	s.metrics.RecordFinalization()
	slog.Info("Receipt finalized", "receipt_id", id)
	return s.shareURL(id), nil
}

func (s *ReceiptService) shareURL(id string) string {
	return fmt.Sprintf("%s/claim/%s/", s.baseURL, id)
}

func (s *ReceiptService) editURL(id string) string {
	return fmt.Sprintf("%s/receipts/%s/", s.baseURL, id)
}
