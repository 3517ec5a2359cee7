package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "tabsplit-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testReceipt() *models.Receipt {
	return &models.Receipt{
		RestaurantName: "Thai Palace",
		State:          models.StateClaimsOpen,
		Subtotal:       5300,
		Tax:            424,
		Tip:            800,
		Total:          6524,
		Balanced:       true,
		EditorKeyHash:  "$2a$10$test",
		Items: []models.LineItem{
			{Name: "Pad Thai", Quantity: 2, UnitPrice: 1450, TotalPrice: 2900},
			{Name: "Beer", Quantity: 4, UnitPrice: 600, TotalPrice: 2400},
		},
	}
}

func TestSQLiteStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("CreateReceipt generates IDs and timestamps", func(t *testing.T) {
		receipt := testReceipt()
		if err := store.CreateReceipt(ctx, receipt); err != nil {
			t.Fatalf("CreateReceipt failed: %v", err)
		}
		if receipt.ID == "" {
			t.Error("Expected receipt ID to be generated")
		}
		if receipt.CreatedAt == 0 {
			t.Error("Expected CreatedAt to be set")
		}
		if receipt.Version != 1 {
			t.Errorf("Version = %d, want 1", receipt.Version)
		}
		for i, item := range receipt.Items {
			if item.ID == "" {
				t.Errorf("Item %d: expected ID to be generated", i)
			}
			if item.ReceiptID != receipt.ID {
				t.Errorf("Item %d: ReceiptID = %s, want %s", i, item.ReceiptID, receipt.ID)
			}
		}
	})

	t.Run("GetReceipt retrieves exact cents and item order", func(t *testing.T) {
		original := testReceipt()
		if err := store.CreateReceipt(ctx, original); err != nil {
			t.Fatalf("CreateReceipt failed: %v", err)
		}

		retrieved, err := store.GetReceipt(ctx, original.ID)
		if err != nil {
			t.Fatalf("GetReceipt failed: %v", err)
		}

		if retrieved.RestaurantName != original.RestaurantName {
			t.Errorf("RestaurantName = %s, want %s", retrieved.RestaurantName, original.RestaurantName)
		}
		if retrieved.State != models.StateClaimsOpen {
			t.Errorf("State = %s, want %s", retrieved.State, models.StateClaimsOpen)
		}
		if retrieved.Subtotal != 5300 || retrieved.Tax != 424 || retrieved.Tip != 800 || retrieved.Total != 6524 {
			t.Errorf("amounts = %s/%s/%s/%s, want 53.00/4.24/8.00/65.24",
				retrieved.Subtotal, retrieved.Tax, retrieved.Tip, retrieved.Total)
		}
		if !retrieved.Balanced {
			t.Error("Expected Balanced to round-trip")
		}
		if len(retrieved.Items) != 2 {
			t.Fatalf("Items count = %d, want 2", len(retrieved.Items))
		}
		if retrieved.Items[0].Name != "Pad Thai" || retrieved.Items[1].Name != "Beer" {
			t.Errorf("items out of position order: %s, %s", retrieved.Items[0].Name, retrieved.Items[1].Name)
		}
	})

	t.Run("GetReceipt returns ErrNotFound for nonexistent receipt", func(t *testing.T) {
		_, err := store.GetReceipt(ctx, "nonexistent-id")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("UpdateReceipt replaces items and bumps version", func(t *testing.T) {
		receipt := testReceipt()
		if err := store.CreateReceipt(ctx, receipt); err != nil {
			t.Fatalf("CreateReceipt failed: %v", err)
		}

		receipt.RestaurantName = "Thai Palace II"
		receipt.Items = []models.LineItem{
			{Name: "Green Curry", Quantity: 1, UnitPrice: 1600, TotalPrice: 1600},
		}
		receipt.Subtotal = 1600
		receipt.Total = 1600 + receipt.Tax + receipt.Tip
		if err := store.UpdateReceipt(ctx, receipt); err != nil {
			t.Fatalf("UpdateReceipt failed: %v", err)
		}
		if receipt.Version != 2 {
			t.Errorf("Version = %d, want 2", receipt.Version)
		}

		retrieved, err := store.GetReceipt(ctx, receipt.ID)
		if err != nil {
			t.Fatalf("GetReceipt failed: %v", err)
		}
		if len(retrieved.Items) != 1 || retrieved.Items[0].Name != "Green Curry" {
			t.Errorf("items not replaced: %+v", retrieved.Items)
		}
		if retrieved.Version != 2 {
			t.Errorf("stored Version = %d, want 2", retrieved.Version)
		}
	})

	t.Run("UpdateReceipt with stale version returns ErrStale", func(t *testing.T) {
		receipt := testReceipt()
		if err := store.CreateReceipt(ctx, receipt); err != nil {
			t.Fatalf("CreateReceipt failed: %v", err)
		}

		stale := *receipt
		stale.Items = append([]models.LineItem(nil), receipt.Items...)
		if err := store.UpdateReceipt(ctx, receipt); err != nil {
			t.Fatalf("first update failed: %v", err)
		}
		err := store.UpdateReceipt(ctx, &stale)
		if !errors.Is(err, storage.ErrStale) {
			t.Errorf("err = %v, want ErrStale", err)
		}
	})

	t.Run("UpdateReceipt drops claims on replaced items", func(t *testing.T) {
		receipt := testReceipt()
		if err := store.CreateReceipt(ctx, receipt); err != nil {
			t.Fatalf("CreateReceipt failed: %v", err)
		}
		padThai := receipt.Items[0].ID
		err := store.ClaimTx(ctx, receipt.ID, func(tx storage.ClaimTx) error {
			return tx.ReplaceClaims(ctx, "Alice", map[string]int{padThai: 1})
		})
		if err != nil {
			t.Fatalf("ClaimTx failed: %v", err)
		}

		receipt.Items = []models.LineItem{
			{Name: "Green Curry", Quantity: 1, UnitPrice: 1600, TotalPrice: 1600},
		}
		if err := store.UpdateReceipt(ctx, receipt); err != nil {
			t.Fatalf("UpdateReceipt failed: %v", err)
		}

		claims, err := store.ListClaims(ctx, receipt.ID)
		if err != nil {
			t.Fatalf("ListClaims failed: %v", err)
		}
		if len(claims) != 0 {
			t.Errorf("claims = %+v, want cascade to remove them", claims)
		}
	})

	t.Run("SetReceiptState transitions state", func(t *testing.T) {
		receipt := testReceipt()
		receipt.State = models.StateEditable
		if err := store.CreateReceipt(ctx, receipt); err != nil {
			t.Fatalf("CreateReceipt failed: %v", err)
		}
		if err := store.SetReceiptState(ctx, receipt.ID, models.StateClaimsOpen); err != nil {
			t.Fatalf("SetReceiptState failed: %v", err)
		}
		retrieved, err := store.GetReceipt(ctx, receipt.ID)
		if err != nil {
			t.Fatalf("GetReceipt failed: %v", err)
		}
		if retrieved.State != models.StateClaimsOpen {
			t.Errorf("State = %s, want %s", retrieved.State, models.StateClaimsOpen)
		}

		if err := store.SetReceiptState(ctx, "nonexistent-id", models.StateClaimsOpen); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("AddParticipant is idempotent", func(t *testing.T) {
		receipt := testReceipt()
		if err := store.CreateReceipt(ctx, receipt); err != nil {
			t.Fatalf("CreateReceipt failed: %v", err)
		}
		p := &models.Participant{ReceiptID: receipt.ID, Name: "Alice"}
		if err := store.AddParticipant(ctx, p); err != nil {
			t.Fatalf("AddParticipant failed: %v", err)
		}
		if err := store.AddParticipant(ctx, &models.Participant{ReceiptID: receipt.ID, Name: "Alice"}); err != nil {
			t.Fatalf("second AddParticipant failed: %v", err)
		}
		if err := store.AddParticipant(ctx, &models.Participant{ReceiptID: receipt.ID, Name: "Bob"}); err != nil {
			t.Fatalf("AddParticipant failed: %v", err)
		}

		participants, err := store.ListParticipants(ctx, receipt.ID)
		if err != nil {
			t.Fatalf("ListParticipants failed: %v", err)
		}
		if len(participants) != 2 {
			t.Errorf("got %d participants, want 2", len(participants))
		}
	})

	t.Run("ResetFinalization reopens all participants", func(t *testing.T) {
		receipt := testReceipt()
		if err := store.CreateReceipt(ctx, receipt); err != nil {
			t.Fatalf("CreateReceipt failed: %v", err)
		}
		for _, name := range []string{"Alice", "Bob"} {
			p := &models.Participant{ReceiptID: receipt.ID, Name: name, Finalized: true, FinalizedAt: 1700000000}
			if err := store.AddParticipant(ctx, p); err != nil {
				t.Fatalf("AddParticipant failed: %v", err)
			}
		}

		if err := store.ResetFinalization(ctx, receipt.ID); err != nil {
			t.Fatalf("ResetFinalization failed: %v", err)
		}

		participants, err := store.ListParticipants(ctx, receipt.ID)
		if err != nil {
			t.Fatalf("ListParticipants failed: %v", err)
		}
		if len(participants) != 2 {
			t.Fatalf("got %d participants, want 2", len(participants))
		}
		for _, p := range participants {
			if p.Finalized || p.FinalizedAt != 0 {
				t.Errorf("%s still finalized after reset: %+v", p.Name, p)
			}
		}
	})
}

func TestClaimTx(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	setup := func(t *testing.T) *models.Receipt {
		t.Helper()
		receipt := testReceipt()
		if err := store.CreateReceipt(ctx, receipt); err != nil {
			t.Fatalf("CreateReceipt failed: %v", err)
		}
		return receipt
	}

	submit := func(t *testing.T, receiptID, name string, desired map[string]int) error {
		t.Helper()
		return store.ClaimTx(ctx, receiptID, func(tx storage.ClaimTx) error {
			if err := tx.ReplaceClaims(ctx, name, desired); err != nil {
				return err
			}
			return tx.FinalizeParticipant(ctx, name, 1700000000)
		})
	}

	t.Run("commits claims and finalizes participant", func(t *testing.T) {
		receipt := setup(t)
		padThai := receipt.Items[0].ID

		if err := submit(t, receipt.ID, "Alice", map[string]int{padThai: 1}); err != nil {
			t.Fatalf("ClaimTx failed: %v", err)
		}

		claims, err := store.ListClaims(ctx, receipt.ID)
		if err != nil {
			t.Fatalf("ListClaims failed: %v", err)
		}
		if len(claims) != 1 || claims[0].Quantity != 1 || claims[0].ClaimerName != "Alice" {
			t.Fatalf("claims = %+v, want one claim of 1 by Alice", claims)
		}

		participants, err := store.ListParticipants(ctx, receipt.ID)
		if err != nil {
			t.Fatalf("ListParticipants failed: %v", err)
		}
		if len(participants) != 1 || !participants[0].Finalized {
			t.Fatalf("participants = %+v, want finalized Alice", participants)
		}
	})

	t.Run("ReplaceClaims is absolute, not additive", func(t *testing.T) {
		receipt := setup(t)
		padThai := receipt.Items[0].ID

		if err := submit(t, receipt.ID, "Alice", map[string]int{padThai: 1}); err != nil {
			t.Fatalf("first submit failed: %v", err)
		}
		// Desired quantity 2 replaces the 1; the result is 2, not 3.
		if err := submit(t, receipt.ID, "Alice", map[string]int{padThai: 2}); err != nil {
			t.Fatalf("second submit failed: %v", err)
		}

		claims, err := store.ListClaims(ctx, receipt.ID)
		if err != nil {
			t.Fatalf("ListClaims failed: %v", err)
		}
		if len(claims) != 1 || claims[0].Quantity != 2 {
			t.Fatalf("claims = %+v, want single claim of quantity 2", claims)
		}
	})

	t.Run("zero quantity deletes the claim row", func(t *testing.T) {
		receipt := setup(t)
		padThai := receipt.Items[0].ID
		beer := receipt.Items[1].ID

		if err := submit(t, receipt.ID, "Alice", map[string]int{padThai: 1, beer: 2}); err != nil {
			t.Fatalf("first submit failed: %v", err)
		}
		if err := submit(t, receipt.ID, "Alice", map[string]int{padThai: 0, beer: 2}); err != nil {
			t.Fatalf("second submit failed: %v", err)
		}

		claims, err := store.ListClaims(ctx, receipt.ID)
		if err != nil {
			t.Fatalf("ListClaims failed: %v", err)
		}
		if len(claims) != 1 || claims[0].LineItemID != beer {
			t.Fatalf("claims = %+v, want only the beer claim", claims)
		}
	})

	t.Run("ClaimedByOthers excludes the submitter", func(t *testing.T) {
		receipt := setup(t)
		beer := receipt.Items[1].ID

		if err := submit(t, receipt.ID, "Alice", map[string]int{beer: 2}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		if err := submit(t, receipt.ID, "Bob", map[string]int{beer: 1}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}

		err := store.ClaimTx(ctx, receipt.ID, func(tx storage.ClaimTx) error {
			others, err := tx.ClaimedByOthers(ctx, "Alice")
			if err != nil {
				return err
			}
			if others[beer] != 1 {
				return fmt.Errorf("others[beer] = %d, want 1", others[beer])
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("fn error rolls the transaction back", func(t *testing.T) {
		receipt := setup(t)
		padThai := receipt.Items[0].ID

		wantErr := errors.New("reject")
		err := store.ClaimTx(ctx, receipt.ID, func(tx storage.ClaimTx) error {
			if err := tx.ReplaceClaims(ctx, "Alice", map[string]int{padThai: 2}); err != nil {
				return err
			}
			return wantErr
		})
		if !errors.Is(err, wantErr) {
			t.Fatalf("err = %v, want the fn error", err)
		}

		claims, err := store.ListClaims(ctx, receipt.ID)
		if err != nil {
			t.Fatalf("ListClaims failed: %v", err)
		}
		if len(claims) != 0 {
			t.Fatalf("claims = %+v, want rollback to leave none", claims)
		}
	})

	t.Run("Receipt and Participant read inside the transaction", func(t *testing.T) {
		receipt := setup(t)

		err := store.ClaimTx(ctx, receipt.ID, func(tx storage.ClaimTx) error {
			r, err := tx.Receipt(ctx)
			if err != nil {
				return err
			}
			if r.ID != receipt.ID || len(r.Items) != 2 {
				return fmt.Errorf("unexpected receipt inside tx: %+v", r)
			}
			p, err := tx.Participant(ctx, "Nobody")
			if err != nil {
				return err
			}
			if p != nil {
				return fmt.Errorf("expected nil participant, got %+v", p)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("missing receipt surfaces ErrNotFound from Receipt", func(t *testing.T) {
		err := store.ClaimTx(ctx, "nonexistent-id", func(tx storage.ClaimTx) error {
			_, err := tx.Receipt(ctx)
			return err
		})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}
