package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mmynk/tabsplit/internal/allocator"
	"github.com/mmynk/tabsplit/internal/auth"
	"github.com/mmynk/tabsplit/internal/money"
	"github.com/mmynk/tabsplit/internal/observability"
	"github.com/mmynk/tabsplit/internal/reconcile"
	"github.com/mmynk/tabsplit/internal/service"
	"github.com/mmynk/tabsplit/internal/storage/sqlite"
)

func setupRouter(t *testing.T) *gin.Engine {
	return setupRouterWith(t, nil)
}

func setupRouterWith(t *testing.T, extractor Extractor) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.New(prometheus.NewRegistry())
	sessions := auth.NewSessionManager("test-secret", time.Hour)
	alloc := allocator.New(store, logger)
	receipts := service.NewReceiptService(store, metrics, reconcile.DefaultOptions(), "http://localhost:8080")
	claims := service.NewClaimService(store, alloc, sessions, metrics)

	router := gin.New()
	SetupRoutes(router, receipts, claims, extractor, sessions, metrics, time.Hour)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

// sampleExtraction is a receipt whose stated tip is missing: items sum
// to 30.00, tax is 3.00, and the charged total is 38.00, so correction
// should derive a 5.00 tip.
func sampleExtraction() reconcile.Extracted {
	return reconcile.Extracted{
		RestaurantName: "Luigi's",
		Items: []reconcile.Item{
			{Name: "Margherita", Quantity: 1, UnitPrice: 1800, TotalPrice: 1800},
			{Name: "Garlic Bread", Quantity: 2, UnitPrice: 600, TotalPrice: 1200},
		},
		Subtotal: 3000,
		Tax:      300,
		Total:    3800,
	}
}

func ingestReceipt(t *testing.T, router *gin.Engine) (receiptID, editorKey string) {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/receipts/", sampleExtraction(), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp IngestResponse
	decodeJSON(t, w, &resp)
	if resp.Slug == "" || resp.EditorKey == "" {
		t.Fatalf("expected slug and editor key, got %+v", resp)
	}
	return resp.Slug, resp.EditorKey
}

func finalizeReceipt(t *testing.T, router *gin.Engine, id, key string) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/finalize/"+id+"/", nil, map[string]string{EditorKeyHeader: key})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 finalizing, got %d: %s", w.Code, w.Body.String())
	}
	var resp FinalizeResponse
	decodeJSON(t, w, &resp)
	return resp.ShareURL
}

func joinReceipt(t *testing.T, router *gin.Engine, id, name string) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/claim/"+id+"/join/", JoinRequest{Name: name}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 joining, got %d: %s", w.Code, w.Body.String())
	}
	var resp JoinResponse
	decodeJSON(t, w, &resp)
	if resp.Token == "" {
		t.Fatal("expected a session token")
	}
	return resp.Token
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// itemIDByName fetches the receipt and returns the ID of the named item.
func itemIDByName(t *testing.T, router *gin.Engine, receiptID, name string) string {
	t.Helper()
	w := doJSON(t, router, http.MethodGet, "/receipts/"+receiptID+"/", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var view ReceiptView
	decodeJSON(t, w, &view)
	for _, it := range view.Items {
		if it.Name == name {
			return it.ID
		}
	}
	t.Fatalf("item %q not found in receipt %+v", name, view.Items)
	return ""
}

func TestIngestAndGetReceipt(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/receipts/", sampleExtraction(), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp IngestResponse
	decodeJSON(t, w, &resp)
	if !resp.Success {
		t.Error("expected success")
	}
	if resp.CorrectionMethod != "tip" {
		t.Errorf("expected correction method %q, got %q", "tip", resp.CorrectionMethod)
	}
	if !resp.IsBalanced || !resp.Receipt.IsBalanced {
		t.Error("expected corrected receipt to be balanced")
	}
	if resp.Receipt.Tip != money.Cents(500) {
		t.Errorf("expected derived tip 5.00, got %s", resp.Receipt.Tip)
	}
	if resp.Receipt.State != "editable" {
		t.Errorf("expected state editable, got %q", resp.Receipt.State)
	}
	wantEdit := "http://localhost:8080/receipts/" + resp.Slug + "/"
	if resp.EditURL != wantEdit {
		t.Errorf("expected edit URL %q, got %q", wantEdit, resp.EditURL)
	}

	w = doJSON(t, router, http.MethodGet, "/receipts/"+resp.Slug+"/", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var view ReceiptView
	decodeJSON(t, w, &view)
	if view.Total != money.Cents(3800) {
		t.Errorf("expected total 38.00, got %s", view.Total)
	}
	if len(view.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(view.Items))
	}
	if view.Items[0].ID == "" {
		t.Error("expected item IDs to be assigned")
	}
	if strings.Contains(w.Body.String(), "editor_key") {
		t.Error("receipt view must not expose the editor key")
	}
}

type stubExtractor struct {
	ex     reconcile.Extracted
	err    error
	gotURL string
}

func (s *stubExtractor) ExtractURL(ctx context.Context, imageURL string) (reconcile.Extracted, error) {
	s.gotURL = imageURL
	return s.ex, s.err
}

func TestIngestReceipt_FromImageURL(t *testing.T) {
	stub := &stubExtractor{ex: sampleExtraction()}
	router := setupRouterWith(t, stub)

	w := doJSON(t, router, http.MethodPost, "/receipts/",
		map[string]string{"image_url": "https://cdn.example.com/receipt.jpg"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	if stub.gotURL != "https://cdn.example.com/receipt.jpg" {
		t.Errorf("expected extraction of the posted URL, got %q", stub.gotURL)
	}
	var resp IngestResponse
	decodeJSON(t, w, &resp)
	if resp.Receipt.RestaurantName != "Luigi's" {
		t.Errorf("expected extracted restaurant name, got %q", resp.Receipt.RestaurantName)
	}
}

func TestIngestReceipt_ImageURLFailures(t *testing.T) {
	t.Run("extraction not configured", func(t *testing.T) {
		router := setupRouterWith(t, nil)
		w := doJSON(t, router, http.MethodPost, "/receipts/",
			map[string]string{"image_url": "https://cdn.example.com/receipt.jpg"}, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("extraction API down", func(t *testing.T) {
		stub := &stubExtractor{err: errors.New("connection refused")}
		router := setupRouterWith(t, stub)
		w := doJSON(t, router, http.MethodPost, "/receipts/",
			map[string]string{"image_url": "https://cdn.example.com/receipt.jpg"}, nil)
		if w.Code != http.StatusBadGateway {
			t.Fatalf("expected status 502, got %d: %s", w.Code, w.Body.String())
		}
	})
}

func TestIngestReceipt_RejectsMalformedBody(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/receipts/", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetReceipt_NotFound(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(t, router, http.MethodGet, "/receipts/no-such-receipt/", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpdateReceipt(t *testing.T) {
	router := setupRouter(t)
	id, key := ingestReceipt(t, router)

	// Add a dessert and restate the totals so the receipt still
	// balances: 37.00 + 3.70 + 6.50 = 47.20.
	update := UpdateRequest{
		RestaurantName: "Luigi's Trattoria",
		Items: []ItemPayload{
			{Name: "Margherita", Quantity: 1, UnitPrice: 1800, TotalPrice: 1800},
			{Name: "Garlic Bread", Quantity: 2, UnitPrice: 600, TotalPrice: 1200},
			{Name: "Tiramisu", Quantity: 1, UnitPrice: 700, TotalPrice: 700},
		},
		Tax:   370,
		Tip:   650,
		Total: 4720,
	}

	w := doJSON(t, router, http.MethodPost, "/update/"+id+"/", update, map[string]string{EditorKeyHeader: key})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp UpdateResponse
	decodeJSON(t, w, &resp)
	if !resp.IsBalanced {
		t.Error("expected updated receipt to be balanced")
	}

	var view ReceiptView
	w = doJSON(t, router, http.MethodGet, "/receipts/"+id+"/", nil, nil)
	decodeJSON(t, w, &view)
	if view.Subtotal != money.Cents(3700) {
		t.Errorf("expected derived subtotal 37.00, got %s", view.Subtotal)
	}
	if view.RestaurantName != "Luigi's Trattoria" {
		t.Errorf("expected renamed restaurant, got %q", view.RestaurantName)
	}
}

func TestUpdateReceipt_ReportsImbalance(t *testing.T) {
	router := setupRouter(t)
	id, key := ingestReceipt(t, router)

	update := UpdateRequest{
		RestaurantName: "Luigi's",
		Items: []ItemPayload{
			{Name: "Margherita", Quantity: 1, UnitPrice: 1800, TotalPrice: 1800},
		},
		Tax:   300,
		Tip:   500,
		Total: 9999,
	}

	// An out-of-balance total is stored and reported, not rejected.
	w := doJSON(t, router, http.MethodPost, "/update/"+id+"/", update, map[string]string{EditorKeyHeader: key})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp UpdateResponse
	decodeJSON(t, w, &resp)
	if resp.IsBalanced {
		t.Error("expected is_balanced false for an out-of-balance total")
	}
}

func TestUpdateReceipt_RejectsInvalidItems(t *testing.T) {
	router := setupRouter(t)
	id, key := ingestReceipt(t, router)

	update := UpdateRequest{
		Items: []ItemPayload{
			// Line total disagrees with quantity times unit price.
			{Name: "Margherita", Quantity: 2, UnitPrice: 600, TotalPrice: 5000},
		},
		Total: 5000,
	}

	w := doJSON(t, router, http.MethodPost, "/update/"+id+"/", update, map[string]string{EditorKeyHeader: key})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}
	var resp ErrorResponse
	decodeJSON(t, w, &resp)
	if len(resp.Fields) == 0 {
		t.Fatalf("expected field errors, got %+v", resp)
	}
	if !strings.Contains(resp.Fields[0].Field, "items[0]") {
		t.Errorf("expected error on items[0], got %q", resp.Fields[0].Field)
	}
}

func TestUpdateReceipt_WrongEditorKey(t *testing.T) {
	router := setupRouter(t)
	id, _ := ingestReceipt(t, router)

	update := UpdateRequest{
		Items: []ItemPayload{
			{Name: "Margherita", Quantity: 1, UnitPrice: 1800, TotalPrice: 1800},
		},
		Total: 1800,
	}

	w := doJSON(t, router, http.MethodPost, "/update/"+id+"/", update, map[string]string{EditorKeyHeader: "wrong-key"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, "/update/"+id+"/", update, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 with no key, got %d: %s", w.Code, w.Body.String())
	}
}

func TestFinalizeReceipt(t *testing.T) {
	router := setupRouter(t)
	id, key := ingestReceipt(t, router)

	shareURL := finalizeReceipt(t, router, id, key)
	want := "http://localhost:8080/claim/" + id + "/"
	if shareURL != want {
		t.Errorf("expected share URL %q, got %q", want, shareURL)
	}

	// Finalizing again returns the same URL.
	if again := finalizeReceipt(t, router, id, key); again != shareURL {
		t.Errorf("expected idempotent share URL, got %q then %q", shareURL, again)
	}

	// Edits are locked once claims open.
	update := UpdateRequest{
		Items: []ItemPayload{
			{Name: "Margherita", Quantity: 1, UnitPrice: 1800, TotalPrice: 1800},
		},
		Total: 1800,
	}
	w := doJSON(t, router, http.MethodPost, "/update/"+id+"/", update, map[string]string{EditorKeyHeader: key})
	if w.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected status 412 after finalize, got %d: %s", w.Code, w.Body.String())
	}
}

func TestFinalizeReceipt_RequiresBalance(t *testing.T) {
	router := setupRouter(t)
	id, key := ingestReceipt(t, router)

	update := UpdateRequest{
		Items: []ItemPayload{
			{Name: "Margherita", Quantity: 1, UnitPrice: 1800, TotalPrice: 1800},
		},
		Tax:   300,
		Tip:   500,
		Total: 9999,
	}
	w := doJSON(t, router, http.MethodPost, "/update/"+id+"/", update, map[string]string{EditorKeyHeader: key})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 storing imbalance, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, "/finalize/"+id+"/", nil, map[string]string{EditorKeyHeader: key})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 finalizing unbalanced receipt, got %d: %s", w.Code, w.Body.String())
	}
	var resp ErrorResponse
	decodeJSON(t, w, &resp)
	if len(resp.Fields) == 0 || resp.Fields[0].Field != "total" {
		t.Errorf("expected a field error on total, got %+v", resp)
	}
}

func TestJoinReceipt_SetsSessionCookie(t *testing.T) {
	router := setupRouter(t)
	id, key := ingestReceipt(t, router)
	finalizeReceipt(t, router, id, key)

	w := doJSON(t, router, http.MethodPost, "/claim/"+id+"/join/", JoinRequest{Name: "Alice"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	cookie := w.Header().Get("Set-Cookie")
	if !strings.Contains(cookie, "tabsplit_session=") {
		t.Errorf("expected session cookie, got %q", cookie)
	}
	var resp JoinResponse
	decodeJSON(t, w, &resp)
	if resp.Name != "Alice" || resp.Token == "" {
		t.Errorf("expected joined Alice with a token, got %+v", resp)
	}
}

func TestJoinReceipt_BeforeFinalize(t *testing.T) {
	router := setupRouter(t)
	id, _ := ingestReceipt(t, router)

	w := doJSON(t, router, http.MethodPost, "/claim/"+id+"/join/", JoinRequest{Name: "Alice"}, nil)
	if w.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected status 412, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmitClaims_FullFlow(t *testing.T) {
	router := setupRouter(t)
	id, key := ingestReceipt(t, router)
	finalizeReceipt(t, router, id, key)
	margherita := itemIDByName(t, router, id, "Margherita")

	token := joinReceipt(t, router, id, "Alice")
	body := ClaimRequest{Claims: []ClaimEntry{{LineItemID: margherita, Quantity: 1}}}
	w := doJSON(t, router, http.MethodPost, "/claim/"+id+"/", body, bearer(token))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp ClaimResponse
	decodeJSON(t, w, &resp)
	if !resp.Success || !resp.Finalized || resp.ClaimsCount != 1 {
		t.Errorf("expected finalized submission with 1 claim, got %+v", resp)
	}

	w = doJSON(t, router, http.MethodGet, "/claim/"+id+"/status/", nil, bearer(token))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var status StatusResponse
	decodeJSON(t, w, &status)
	if status.ViewerName != "Alice" || !status.IsFinalized {
		t.Errorf("expected finalized viewer Alice, got %+v", status)
	}
	// Margherita 18.00 plus its share of the 8.00 overhead, weighted
	// 18.00 against 12.00 unclaimed: 18.00 + 4.80 = 22.80.
	if status.MyTotal != money.Cents(2280) {
		t.Errorf("expected my_total 22.80, got %s", status.MyTotal)
	}
	if status.TotalClaimed != money.Cents(2280) {
		t.Errorf("expected total_claimed 22.80, got %s", status.TotalClaimed)
	}
	if status.TotalUnclaimed != money.Cents(1520) {
		t.Errorf("expected total_unclaimed 15.20, got %s", status.TotalUnclaimed)
	}
	if len(status.ParticipantTotals) != 1 || status.ParticipantTotals[0].Name != "Alice" {
		t.Fatalf("expected Alice in participant totals, got %+v", status.ParticipantTotals)
	}
	if status.ParticipantTotals[0].Amount != money.Cents(2280) {
		t.Errorf("expected Alice's total 22.80, got %s", status.ParticipantTotals[0].Amount)
	}
	// Only claimed items appear; the untouched garlic bread is implied
	// fully available.
	if len(status.ItemsWithClaims) != 1 {
		t.Fatalf("expected 1 item with claims, got %+v", status.ItemsWithClaims)
	}
	item := status.ItemsWithClaims[0]
	if item.ItemID != margherita || item.AvailableQuantity != 0 {
		t.Errorf("expected margherita fully claimed, got %+v", item)
	}
	if len(item.Claims) != 1 || item.Claims[0].ClaimerName != "Alice" || item.Claims[0].QuantityClaimed != 1 {
		t.Errorf("expected Alice's claim of 1, got %+v", item.Claims)
	}
}

func TestSubmitClaims_RequiresSession(t *testing.T) {
	router := setupRouter(t)
	id, key := ingestReceipt(t, router)
	finalizeReceipt(t, router, id, key)
	margherita := itemIDByName(t, router, id, "Margherita")

	body := ClaimRequest{Claims: []ClaimEntry{{LineItemID: margherita, Quantity: 1}}}
	w := doJSON(t, router, http.MethodPost, "/claim/"+id+"/", body, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without a session, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, "/claim/"+id+"/", body, bearer("not-a-token"))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 with a bad token, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmitClaims_SessionForDifferentReceipt(t *testing.T) {
	router := setupRouter(t)

	idA, keyA := ingestReceipt(t, router)
	finalizeReceipt(t, router, idA, keyA)
	idB, keyB := ingestReceipt(t, router)
	finalizeReceipt(t, router, idB, keyB)
	token := joinReceipt(t, router, idA, "Alice")
	margheritaB := itemIDByName(t, router, idB, "Margherita")

	body := ClaimRequest{Claims: []ClaimEntry{{LineItemID: margheritaB, Quantity: 1}}}
	w := doJSON(t, router, http.MethodPost, "/claim/"+idB+"/", body, bearer(token))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for a cross-receipt session, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmitClaims_DuplicateItemRejected(t *testing.T) {
	router := setupRouter(t)
	id, key := ingestReceipt(t, router)
	finalizeReceipt(t, router, id, key)
	margherita := itemIDByName(t, router, id, "Margherita")
	token := joinReceipt(t, router, id, "Alice")

	body := ClaimRequest{Claims: []ClaimEntry{
		{LineItemID: margherita, Quantity: 1},
		{LineItemID: margherita, Quantity: 1},
	}}
	w := doJSON(t, router, http.MethodPost, "/claim/"+id+"/", body, bearer(token))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for duplicate items, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmitClaims_LostRaceReportsAvailability(t *testing.T) {
	router := setupRouter(t)
	id, key := ingestReceipt(t, router)
	finalizeReceipt(t, router, id, key)
	bread := itemIDByName(t, router, id, "Garlic Bread")

	// Alice takes one of the two garlic breads and finalizes.
	alice := joinReceipt(t, router, id, "Alice")
	w := doJSON(t, router, http.MethodPost, "/claim/"+id+"/",
		ClaimRequest{Claims: []ClaimEntry{{LineItemID: bread, Quantity: 1}}}, bearer(alice))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 for Alice, got %d: %s", w.Code, w.Body.String())
	}

	// Bob asks for both and loses: the payload reports what is left so
	// the client can clamp and resubmit without losing his selections.
	bob := joinReceipt(t, router, id, "Bob")
	w = doJSON(t, router, http.MethodPost, "/claim/"+id+"/",
		ClaimRequest{Claims: []ClaimEntry{{LineItemID: bread, Quantity: 2}}}, bearer(bob))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", w.Code, w.Body.String())
	}
	var conflict ClaimConflictResponse
	decodeJSON(t, w, &conflict)
	if conflict.Error == "" || !conflict.PreserveInput {
		t.Errorf("expected preserve_input conflict payload, got %+v", conflict)
	}
	if len(conflict.Availability) != 1 {
		t.Fatalf("expected 1 availability entry, got %+v", conflict.Availability)
	}
	avail := conflict.Availability[0]
	if avail.ItemID != bread || avail.Name != "Garlic Bread" {
		t.Errorf("expected availability for the garlic bread, got %+v", avail)
	}
	if avail.Requested != 2 || avail.Available != 1 {
		t.Errorf("expected requested 2 available 1, got %+v", avail)
	}

	// Clamped to what is available, the resubmission goes through.
	w = doJSON(t, router, http.MethodPost, "/claim/"+id+"/",
		ClaimRequest{Claims: []ClaimEntry{{LineItemID: bread, Quantity: avail.Available}}}, bearer(bob))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 for clamped resubmit, got %d: %s", w.Code, w.Body.String())
	}
	var resp ClaimResponse
	decodeJSON(t, w, &resp)
	if !resp.Finalized || resp.ClaimsCount != 1 {
		t.Errorf("expected finalized claim of 1, got %+v", resp)
	}
}

func TestClaimStatus_AnonymousViewer(t *testing.T) {
	router := setupRouter(t)
	id, key := ingestReceipt(t, router)
	finalizeReceipt(t, router, id, key)

	w := doJSON(t, router, http.MethodGet, "/claim/"+id+"/status/", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var status StatusResponse
	decodeJSON(t, w, &status)
	if status.ViewerName != "" || status.IsFinalized {
		t.Errorf("expected anonymous unfinalized viewer, got %+v", status)
	}
	if status.MyTotal != 0 {
		t.Errorf("expected my_total 0.00 for anonymous viewer, got %s", status.MyTotal)
	}
	if status.TotalUnclaimed != money.Cents(3800) {
		t.Errorf("expected the whole receipt unclaimed, got %s", status.TotalUnclaimed)
	}
}

func TestClaimStatus_Idempotent(t *testing.T) {
	router := setupRouter(t)
	id, key := ingestReceipt(t, router)
	finalizeReceipt(t, router, id, key)
	margherita := itemIDByName(t, router, id, "Margherita")
	token := joinReceipt(t, router, id, "Alice")
	doJSON(t, router, http.MethodPost, "/claim/"+id+"/",
		ClaimRequest{Claims: []ClaimEntry{{LineItemID: margherita, Quantity: 1}}}, bearer(token))

	first := doJSON(t, router, http.MethodGet, "/claim/"+id+"/status/", nil, bearer(token))
	second := doJSON(t, router, http.MethodGet, "/claim/"+id+"/status/", nil, bearer(token))
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected both polls to succeed, got %d and %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("expected identical poll bodies, got %q then %q", first.Body.String(), second.Body.String())
	}
}

func TestClaimStatus_BeforeFinalize(t *testing.T) {
	router := setupRouter(t)
	id, _ := ingestReceipt(t, router)

	w := doJSON(t, router, http.MethodGet, "/claim/"+id+"/status/", nil, nil)
	if w.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected status 412, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(t, router, http.MethodGet, "/healthz", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 from /healthz, got %d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 from /metrics, got %d", w.Code)
	}
}
