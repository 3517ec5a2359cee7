package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mmynk/tabsplit/internal/allocator"
	"github.com/mmynk/tabsplit/internal/auth"
	"github.com/mmynk/tabsplit/internal/ledger"
	"github.com/mmynk/tabsplit/internal/middleware"
	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/reconcile"
	"github.com/mmynk/tabsplit/internal/service"
	"github.com/mmynk/tabsplit/internal/storage"
)

// EditorKeyHeader carries the uploader's edit key on mutating receipt
// endpoints. The key is issued once at ingest.
const EditorKeyHeader = "X-Editor-Key"

// Extractor resolves a hosted receipt image into extraction output.
// Nil when no extraction API is configured; inline payloads still work.
type Extractor interface {
	ExtractURL(ctx context.Context, imageURL string) (reconcile.Extracted, error)
}

// IngestReceipt accepts extraction output, runs it through the
// corrector, and stores the result as an editable receipt. A request
// carrying image_url is resolved through the extraction API first.
func IngestReceipt(receipts *service.ReceiptService, extractor Extractor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
			return
		}

		ex := req.Extracted
		if req.ImageURL != "" {
			if extractor == nil {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "image extraction is not configured"})
				return
			}
			var err error
			ex, err = extractor.ExtractURL(c.Request.Context(), req.ImageURL)
			if err != nil {
				c.Error(err)
				c.JSON(http.StatusBadGateway, ErrorResponse{Error: "image extraction failed"})
				return
			}
		}

		res, err := receipts.Ingest(c.Request.Context(), ex)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusCreated, IngestResponse{
			Success:          true,
			Slug:             res.Receipt.ID,
			EditURL:          res.EditURL,
			EditorKey:        res.EditorKey,
			IsBalanced:       res.Receipt.Balanced,
			CorrectionMethod: string(res.Method),
			CorrectionNote:   res.Note,
			Receipt:          receiptView(res.Receipt),
		})
	}
}

// GetReceipt returns the current receipt content for the edit page.
func GetReceipt(receipts *service.ReceiptService) gin.HandlerFunc {
	return func(c *gin.Context) {
		receipt, err := receipts.Get(c.Request.Context(), c.Param("slug"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, receiptView(receipt))
	}
}

// UpdateReceipt replaces the editable content of a receipt. Invalid
// items are rejected; an out-of-balance total is stored and reported
// through is_balanced so the uploader can keep editing.
func UpdateReceipt(receipts *service.ReceiptService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
			return
		}

		items := make([]models.LineItem, len(req.Items))
		for i, it := range req.Items {
			items[i] = models.LineItem{
				ID:         it.ID,
				Name:       it.Name,
				Quantity:   it.Quantity,
				UnitPrice:  it.UnitPrice,
				TotalPrice: it.TotalPrice,
			}
		}

		receipt, err := receipts.Update(c.Request.Context(), c.Param("slug"), c.GetHeader(EditorKeyHeader), service.ReceiptContent{
			RestaurantName: req.RestaurantName,
			Items:          items,
			Tax:            req.Tax,
			Tip:            req.Tip,
			Total:          req.Total,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, UpdateResponse{Success: true, IsBalanced: receipt.Balanced})
	}
}

// FinalizeReceipt locks the receipt and opens it for claims. Only a
// balanced receipt finalizes; repeating the call returns the same
// share URL.
func FinalizeReceipt(receipts *service.ReceiptService) gin.HandlerFunc {
	return func(c *gin.Context) {
		shareURL, err := receipts.Finalize(c.Request.Context(), c.Param("slug"), c.GetHeader(EditorKeyHeader))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, FinalizeResponse{Success: true, ShareURL: shareURL})
	}
}

// JoinReceipt registers a participant on a finalized receipt and
// issues their session. The token is set as a cookie and echoed in the
// body for clients that send it as a bearer token instead.
func JoinReceipt(claims *service.ClaimService, cookieTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req JoinRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
			return
		}

		res, err := claims.Join(c.Request.Context(), c.Param("slug"), req.Name)
		if err != nil {
			writeError(c, err)
			return
		}

		c.SetCookie(middleware.SessionCookie, res.Token, int(cookieTTL.Seconds()), "/", "", false, true)
		c.JSON(http.StatusOK, JoinResponse{Success: true, Name: res.Name, Token: res.Token})
	}
}

// SubmitClaims commits a participant's complete desired allocation and
// finalizes them in one atomic step. A duplicate item in the payload
// is ambiguous under desired-total semantics and is rejected outright.
func SubmitClaims(claims *service.ClaimService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ClaimRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
			return
		}

		desired := make(map[string]int, len(req.Claims))
		for _, entry := range req.Claims {
			if _, dup := desired[entry.LineItemID]; dup {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "duplicate line_item_id in claims: " + entry.LineItemID})
				return
			}
			desired[entry.LineItemID] = entry.Quantity
		}

		res, err := claims.Submit(c.Request.Context(), c.Param("slug"), middleware.ViewerName(c), desired)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, ClaimResponse{
			Success:     true,
			Finalized:   res.Finalized,
			ClaimsCount: res.ClaimsCount,
		})
	}
}

// ClaimStatus serves the poll payload for the claim page. The endpoint
// never mutates state, so clients may poll it as often as they like.
// Viewers without a session for this receipt get the shared totals
// with an empty viewer_name.
func ClaimStatus(claims *service.ClaimService) gin.HandlerFunc {
	return func(c *gin.Context) {
		slug := c.Param("slug")

		viewer := ""
		if middleware.ViewerReceipt(c) == slug {
			viewer = middleware.ViewerName(c)
		}

		st, err := claims.GetStatus(c.Request.Context(), slug, viewer)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, statusView(st))
	}
}

// HealthCheck reports process liveness.
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// writeError maps domain errors to HTTP responses. Availability
// conflicts get the structured payload the claim page needs to let the
// participant trim their selection and resubmit.
func writeError(c *gin.Context, err error) {
	c.Error(err)

	if ce := allocator.AsClaimError(err); ce != nil {
		switch ce.Code {
		case allocator.CodeValidation:
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: ce.Message})
		case allocator.CodeNotFound:
			c.JSON(http.StatusNotFound, ErrorResponse{Error: ce.Message})
		case allocator.CodeAvailabilityConflict:
			c.JSON(http.StatusConflict, ClaimConflictResponse{
				Error:         ce.Message,
				PreserveInput: ce.PreserveInput,
				Availability:  ce.Availability,
			})
		case allocator.CodePreconditionFailed:
			c.JSON(http.StatusPreconditionFailed, ErrorResponse{Error: ce.Message})
		case allocator.CodeConflict:
			c.JSON(http.StatusConflict, ErrorResponse{Error: ce.Message})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	var verrs ledger.Errors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "receipt validation failed", Fields: verrs})
		return
	}

	switch {
	case errors.Is(err, auth.ErrMissingEditorKey), errors.Is(err, auth.ErrBadEditorKey):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrReceiptLocked):
		c.JSON(http.StatusPreconditionFailed, ErrorResponse{Error: err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "receipt not found"})
	case errors.Is(err, storage.ErrStale):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "receipt was modified concurrently, reload and retry"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}
