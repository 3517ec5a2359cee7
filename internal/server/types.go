package server

import (
	"github.com/mmynk/tabsplit/internal/allocator"
	"github.com/mmynk/tabsplit/internal/calculator"
	"github.com/mmynk/tabsplit/internal/ledger"
	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/money"
	"github.com/mmynk/tabsplit/internal/reconcile"
	"github.com/mmynk/tabsplit/internal/service"
)

// IngestRequest starts a new receipt. Callers either inline the
// extraction payload or hand over an image URL for the server to run
// through the extraction API.
type IngestRequest struct {
	ImageURL string `json:"image_url"`
	reconcile.Extracted
}

// ItemPayload is one editable receipt line on the wire.
type ItemPayload struct {
	ID         string      `json:"id,omitempty"`
	Name       string      `json:"name"`
	Quantity   int         `json:"quantity"`
	UnitPrice  money.Cents `json:"unit_price"`
	TotalPrice money.Cents `json:"total_price"`
}

// UpdateRequest replaces a receipt's editable content. Subtotal is
// never accepted from the client; the server derives it from the items.
type UpdateRequest struct {
	RestaurantName string        `json:"restaurant_name"`
	Items          []ItemPayload `json:"items"`
	Tax            money.Cents   `json:"tax"`
	Tip            money.Cents   `json:"tip"`
	Total          money.Cents   `json:"total"`
}

// UpdateResponse reports whether the edited receipt balances. An
// unbalanced edit is stored anyway; the uploader keeps editing until
// is_balanced flips to true.
type UpdateResponse struct {
	Success    bool `json:"success"`
	IsBalanced bool `json:"is_balanced"`
}

// ReceiptView is the receipt as shown to the uploader. The editor key
// hash never appears on the wire.
type ReceiptView struct {
	ReceiptID      string        `json:"receipt_id"`
	RestaurantName string        `json:"restaurant_name"`
	State          string        `json:"state"`
	Items          []ItemPayload `json:"items"`
	Subtotal       money.Cents   `json:"subtotal"`
	Tax            money.Cents   `json:"tax"`
	Tip            money.Cents   `json:"tip"`
	Total          money.Cents   `json:"total"`
	IsBalanced     bool          `json:"is_balanced"`
}

// IngestResponse is returned once per receipt. The editor key is not
// stored in plaintext and cannot be recovered later.
type IngestResponse struct {
	Success          bool        `json:"success"`
	Slug             string      `json:"slug"`
	EditURL          string      `json:"edit_url"`
	EditorKey        string      `json:"editor_key"`
	IsBalanced       bool        `json:"is_balanced"`
	CorrectionMethod string      `json:"correction_method"`
	CorrectionNote   string      `json:"correction_note,omitempty"`
	Receipt          ReceiptView `json:"receipt"`
}

// FinalizeResponse carries the URL the uploader shares with the table.
type FinalizeResponse struct {
	Success  bool   `json:"success"`
	ShareURL string `json:"share_url"`
}

// JoinRequest names the participant joining a finalized receipt.
type JoinRequest struct {
	Name string `json:"name"`
}

// JoinResponse confirms the join. The session token also travels in a
// cookie; the body copy serves clients that manage the header
// themselves.
type JoinResponse struct {
	Success bool   `json:"success"`
	Name    string `json:"name"`
	Token   string `json:"token"`
}

// ClaimEntry is one line of a claim submission: the desired total
// quantity for that item, not an increment. Zero releases the item.
type ClaimEntry struct {
	LineItemID string `json:"line_item_id"`
	Quantity   int    `json:"quantity"`
}

// ClaimRequest is a participant's complete desired allocation. Items
// not listed are treated as desired zero.
type ClaimRequest struct {
	Claims []ClaimEntry `json:"claims"`
}

// ClaimResponse reports a committed submission. Finalized is always
// true on success; committing and finalizing are one atomic step.
type ClaimResponse struct {
	Success     bool `json:"success"`
	Finalized   bool `json:"finalized"`
	ClaimsCount int  `json:"claims_count"`
}

// ClaimConflictResponse reports a lost claim race. PreserveInput tells
// the client to keep the participant's selections on screen so they
// can trim to what is shown in Availability and resubmit.
type ClaimConflictResponse struct {
	Error         string                       `json:"error"`
	PreserveInput bool                         `json:"preserve_input"`
	Availability  []allocator.ItemAvailability `json:"availability"`
}

// ParticipantTotalView pairs a participant with their current share.
type ParticipantTotalView struct {
	Name   string      `json:"name"`
	Amount money.Cents `json:"amount"`
}

// ItemClaimView is one participant's claim on an item.
type ItemClaimView struct {
	ClaimerName     string `json:"claimer_name"`
	QuantityClaimed int    `json:"quantity_claimed"`
}

// ItemWithClaims is the claim state of one line item. Only items with
// at least one claim appear in the status payload; anything absent has
// its full quantity available.
type ItemWithClaims struct {
	ItemID            string          `json:"item_id"`
	AvailableQuantity int             `json:"available_quantity"`
	Claims            []ItemClaimView `json:"claims"`
}

// StatusResponse is the poll payload for the claim page. Amounts are
// server-authoritative; is_finalized refers to the viewer, not the
// receipt.
type StatusResponse struct {
	Success           bool                   `json:"success"`
	ViewerName        string                 `json:"viewer_name"`
	IsFinalized       bool                   `json:"is_finalized"`
	ParticipantTotals []ParticipantTotalView `json:"participant_totals"`
	TotalClaimed      money.Cents            `json:"total_claimed"`
	TotalUnclaimed    money.Cents            `json:"total_unclaimed"`
	MyTotal           money.Cents            `json:"my_total"`
	ItemsWithClaims   []ItemWithClaims       `json:"items_with_claims"`
}

// ErrorResponse is the generic failure body. Fields is present for
// receipt validation failures so the edit form can mark each bad line.
type ErrorResponse struct {
	Error  string              `json:"error"`
	Fields []ledger.FieldError `json:"fields,omitempty"`
}

func receiptView(r *models.Receipt) ReceiptView {
	items := make([]ItemPayload, len(r.Items))
	for i, it := range r.Items {
		items[i] = ItemPayload{
			ID:         it.ID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			TotalPrice: it.TotalPrice,
		}
	}
	return ReceiptView{
		ReceiptID:      r.ID,
		RestaurantName: r.RestaurantName,
		State:          string(r.State),
		Items:          items,
		Subtotal:       r.Subtotal,
		Tax:            r.Tax,
		Tip:            r.Tip,
		Total:          r.Total,
		IsBalanced:     r.Balanced,
	}
}

func statusView(st *service.Status) StatusResponse {
	resp := StatusResponse{
		Success:           true,
		ViewerName:        st.ViewerName,
		IsFinalized:       st.ViewerFinalized,
		ParticipantTotals: []ParticipantTotalView{},
		TotalClaimed:      st.Projection.TotalClaimed,
		TotalUnclaimed:    st.Projection.TotalUnclaimed,
		MyTotal:           st.MyTotal,
		ItemsWithClaims:   []ItemWithClaims{},
	}
	for _, pt := range st.Projection.Participants {
		resp.ParticipantTotals = append(resp.ParticipantTotals, ParticipantTotalView{
			Name:   pt.Name,
			Amount: pt.Amount,
		})
	}
	for _, item := range st.Projection.Items {
		if len(item.Claims) == 0 {
			continue
		}
		resp.ItemsWithClaims = append(resp.ItemsWithClaims, itemWithClaims(item))
	}
	return resp
}

func itemWithClaims(item calculator.ItemStatus) ItemWithClaims {
	view := ItemWithClaims{
		ItemID:            item.Item.ID,
		AvailableQuantity: item.Available,
	}
	for _, c := range item.Claims {
		view.Claims = append(view.Claims, ItemClaimView{
			ClaimerName:     c.ClaimerName,
			QuantityClaimed: c.Quantity,
		})
	}
	return view
}
