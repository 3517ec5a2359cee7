package syncclient

import (
	"fmt"

	"github.com/mmynk/tabsplit/internal/money"
)

// FieldState says who owns a quantity input's current value. The
// state machine exists because the server has no concept of
// "currently typing": a poll response may only overwrite a field the
// user is not editing.
type FieldState int

const (
	// ServerAuthoritative fields mirror the last poll and are free to
	// be overwritten by the next one.
	ServerAuthoritative FieldState = iota

	// LocallyDirty fields hold an unsaved user edit. Polls never
	// overwrite them.
	LocallyDirty

	// InFlight fields are part of a submission awaiting its response.
	// Polls never overwrite them either; the submission outcome
	// resolves them.
	InFlight
)

func (s FieldState) String() string {
	switch s {
	case ServerAuthoritative:
		return "server"
	case LocallyDirty:
		return "dirty"
	case InFlight:
		return "in-flight"
	default:
		return fmt.Sprintf("FieldState(%d)", int(s))
	}
}

// Item is one receipt line as the claim page renders it. The page
// learns the item list from the receipt itself; status polls only
// carry claim deltas.
type Item struct {
	ID         string
	Name       string
	Quantity   int
	TotalPrice money.Cents
}

// Field is a quantity input together with its ownership state.
type Field struct {
	Quantity int
	State    FieldState
}

// PageState is the local model behind a claim page: the receipt's
// items, one Field per item, and the aggregates from the last poll.
// It is not safe for concurrent use; drive it from one goroutine.
type PageState struct {
	viewer       string
	receiptTotal money.Cents
	items        []Item
	fields       map[string]*Field
	availability map[string]int
	claims       map[string][]ItemClaim

	finalized     bool
	serverMyTotal money.Cents
	totals        []ParticipantTotal
	totalClaimed  money.Cents
	unclaimed     money.Cents
}

// NewPageState builds the model for a viewer looking at a receipt.
// Every field starts server-authoritative at zero; the first Merge
// fills in reality.
func NewPageState(viewer string, receiptTotal money.Cents, items []Item) *PageState {
	s := &PageState{
		viewer:       viewer,
		receiptTotal: receiptTotal,
		items:        items,
		fields:       make(map[string]*Field, len(items)),
		availability: make(map[string]int, len(items)),
		claims:       make(map[string][]ItemClaim),
		unclaimed:    receiptTotal,
	}
	for _, it := range items {
		s.fields[it.ID] = &Field{}
		s.availability[it.ID] = it.Quantity
	}
	return s
}

// SetDesired records a local edit to an item's desired quantity and
// marks the field dirty so polls leave it alone.
func (s *PageState) SetDesired(itemID string, qty int) error {
	if s.finalized {
		return ErrFinalized
	}
	field, ok := s.fields[itemID]
	if !ok {
		return fmt.Errorf("unknown item %s", itemID)
	}
	if qty < 0 {
		return fmt.Errorf("desired quantity must not be negative")
	}
	for _, it := range s.items {
		if it.ID == itemID && qty > it.Quantity {
			return fmt.Errorf("desired %d exceeds item quantity %d", qty, it.Quantity)
		}
	}
	field.Quantity = qty
	field.State = LocallyDirty
	return nil
}

// Merge folds a poll response into the model. Aggregates, claim lists,
// and availability are always the server's. Quantity fields are only
// overwritten while server-authoritative; dirty and in-flight fields
// survive untouched. Once the viewer is finalized there is nothing
// left to protect and the server owns everything.
func (s *PageState) Merge(status *Status) {
	s.finalized = status.IsFinalized
	s.serverMyTotal = status.MyTotal
	s.totals = status.ParticipantTotals
	s.totalClaimed = status.TotalClaimed
	s.unclaimed = status.TotalUnclaimed

	// Items missing from the payload have no claims: full availability
	// and a zero quantity for the viewer.
	serverQty := make(map[string]int, len(s.fields))
	for _, it := range s.items {
		s.availability[it.ID] = it.Quantity
	}
	s.claims = make(map[string][]ItemClaim, len(status.ItemsWithClaims))
	for _, entry := range status.ItemsWithClaims {
		s.availability[entry.ItemID] = entry.AvailableQuantity
		s.claims[entry.ItemID] = entry.Claims
		for _, c := range entry.Claims {
			if c.ClaimerName == s.viewer {
				serverQty[entry.ItemID] = c.QuantityClaimed
			}
		}
	}

	for id, field := range s.fields {
		if field.State == ServerAuthoritative || s.finalized {
			field.Quantity = serverQty[id]
			field.State = ServerAuthoritative
		}
	}
}

// BeginSubmit snapshots the complete desired allocation for a
// submission and locks every field in-flight. The map covers all
// items, zeros included, because the server detects removals by
// comparing against the full list.
func (s *PageState) BeginSubmit() map[string]int {
	desired := make(map[string]int, len(s.fields))
	for id, field := range s.fields {
		desired[id] = field.Quantity
		field.State = InFlight
	}
	return desired
}

// CompleteSubmit resolves the in-flight fields after the submission
// returns. Success hands everything to the server and marks the
// viewer finalized; failure reverts to dirty so the user's selections
// stay on screen for adjustment. Fields edited mid-flight are already
// dirty and stay that way.
func (s *PageState) CompleteSubmit(err error) {
	ok := err == nil
	if ok {
		s.finalized = true
	}
	for _, field := range s.fields {
		if field.State != InFlight {
			continue
		}
		if ok {
			field.State = ServerAuthoritative
		} else {
			field.State = LocallyDirty
		}
	}
}

// Finalized reports whether the viewer's claims are frozen.
func (s *PageState) Finalized() bool {
	return s.finalized
}

// View derives what the page renders. It is a pure function of the
// current state; call it after every mutation instead of patching the
// UI piecemeal.
func (s *PageState) View() View {
	v := View{
		ViewerName:        s.viewer,
		Finalized:         s.finalized,
		MyTotal:           s.myTotal(),
		TotalClaimed:      s.totalClaimed,
		TotalUnclaimed:    s.unclaimed,
		ParticipantTotals: s.totals,
	}
	for _, it := range s.items {
		field := s.fields[it.ID]
		v.Items = append(v.Items, ItemView{
			Item:      it,
			Desired:   field.Quantity,
			State:     field.State,
			Available: s.availability[it.ID],
			Claims:    s.claims[it.ID],
		})
	}
	return v
}

// View is the derived render model for a claim page.
type View struct {
	ViewerName        string
	Finalized         bool
	MyTotal           money.Cents
	TotalClaimed      money.Cents
	TotalUnclaimed    money.Cents
	ParticipantTotals []ParticipantTotal
	Items             []ItemView
}

// ItemView is one rendered receipt line.
type ItemView struct {
	Item
	Desired   int
	State     FieldState
	Available int
	Claims    []ItemClaim
}

// myTotal picks between the server's figure and the local estimate.
// The server's my_total is trusted only when it is non-zero or the
// viewer is finalized; a zero for a viewer mid-edit just means the
// server has not seen their selections yet.
func (s *PageState) myTotal() money.Cents {
	if s.finalized {
		return s.serverMyTotal
	}
	if s.dirty() {
		return s.localTotal()
	}
	if s.serverMyTotal != 0 {
		return s.serverMyTotal
	}
	return s.localTotal()
}

func (s *PageState) dirty() bool {
	for _, field := range s.fields {
		if field.State != ServerAuthoritative {
			return true
		}
	}
	return false
}

// localTotal estimates the viewer's share from unsaved selections:
// their fraction of each item plus a proportional cut of the
// receipt's overhead (tax and tip). The server recomputes the exact
// figure on submission; this one only has to be close enough to type
// against.
func (s *PageState) localTotal() money.Cents {
	var itemsTotal, mine money.Cents
	for _, it := range s.items {
		itemsTotal += it.TotalPrice
		field := s.fields[it.ID]
		if field.Quantity <= 0 || it.Quantity <= 0 {
			continue
		}
		mine += money.DivRound(it.TotalPrice*money.Cents(field.Quantity), int64(it.Quantity))
	}
	if mine == 0 || itemsTotal <= 0 {
		return mine
	}
	overhead := s.receiptTotal - itemsTotal
	return mine + money.DivRound(overhead*mine, int64(itemsTotal))
}
