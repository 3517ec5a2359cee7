// Package reconcile forces extracted receipt numbers to balance.
// Extraction output is noisy: line totals drift from unit prices,
// the tip is often missing, and the stated total rarely equals the
// sum of its parts. The corrector normalizes each line, measures the
// discrepancy against the stated total, and absorbs it in the least
// surprising place so that subtotal + tax + tip == total holds
// exactly, in integer cents, before anyone is asked to pay.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/mmynk/tabsplit/internal/ledger"
	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/money"
)

// Item is one extracted line before correction.
type Item struct {
	Name       string      `json:"name"`
	Quantity   int         `json:"quantity"`
	UnitPrice  money.Cents `json:"unit_price"`
	TotalPrice money.Cents `json:"total_price"`
}

// Extracted is the raw output of the extraction collaborator, already
// converted to cents.
type Extracted struct {
	RestaurantName string      `json:"merchant_name"`
	Items          []Item      `json:"items"`
	Subtotal       money.Cents `json:"sub_total"`
	Tax            money.Cents `json:"tax"`
	Tip            money.Cents `json:"tip"`
	Total          money.Cents `json:"total"`
}

// Options tune how far the corrector may go.
type Options struct {
	// TipFloor is the most negative tip the corrector may produce
	// when absorbing a discrepancy. Below it, the discrepancy is
	// redistributed across items instead.
	TipFloor money.Cents

	// MaxPasses bounds the cent-nudge sweeps when placing a
	// redistribution remainder. The corrector fails rather than
	// oscillate.
	MaxPasses int
}

// DefaultOptions allow the tip to absorb up to a $20 discount and cap
// remainder sweeps at two passes.
func DefaultOptions() Options {
	return Options{TipFloor: -2000, MaxPasses: 2}
}

// Method records where the discrepancy went.
type Method string

const (
	// MethodNone means the extraction already balanced.
	MethodNone Method = "none"

	// MethodItems means a few cents were nudged into line totals.
	MethodItems Method = "items"

	// MethodTip means the tip absorbed the discrepancy.
	MethodTip Method = "tip"

	// MethodRedistribute means the discrepancy was spread across
	// item totals proportionally, unit prices adjusted to match.
	MethodRedistribute Method = "redistribute"

	// MethodFailed means no bounded correction reached balance; the
	// receipt needs manual edits.
	MethodFailed Method = "failed"
)

// Result is the corrected receipt content. When Balanced is false the
// items and totals are still normalized and usable as a draft.
type Result struct {
	RestaurantName string
	Items          []models.LineItem
	Subtotal       money.Cents
	Tax            money.Cents
	Tip            money.Cents
	Total          money.Cents
	Balanced       bool
	Method         Method

	// TipDelta is how much the tip moved from the extracted value.
	TipDelta money.Cents

	// Note explains what the corrector did, for logs and the
	// uploader-facing draft banner.
	Note string
}

// Correct normalizes the extracted lines and balances the receipt.
//
// The discrepancy d = total - (items + tax + tip) is resolved in
// order of preference:
//
//  1. |d| within one cent per item: nudge line totals, using the
//     one-cent slack each line carries.
//  2. Otherwise the tip absorbs d. A missing tip is the most common
//     extraction gap, and a negative result models a discount.
//  3. If the tip would sink below Options.TipFloor, d is spread
//     across item totals proportionally, with per-line deltas snapped
//     to multiples of the quantity so unit prices stay exact.
//
// Every path is deterministic: ties break toward the largest line
// total, then the earliest position.
func Correct(ex Extracted, opts Options) Result {
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = DefaultOptions().MaxPasses
	}

	items := normalize(ex.Items)
	res := Result{
		RestaurantName: ex.RestaurantName,
		Items:          items,
		Tax:            ex.Tax,
		Tip:            ex.Tip,
		Total:          ex.Total,
	}
	res.Subtotal = sumTotals(items)

	if len(items) == 0 {
		res.Method = MethodFailed
		res.Note = "no line items extracted"
		return res
	}

	// No stated total to reconcile against: derive one from the
	// parts and accept.
	if ex.Total == 0 {
		res.Total = res.Subtotal + res.Tax + res.Tip
		res.Balanced = true
		res.Method = MethodNone
		res.Note = "total derived from items, tax, and tip"
		return res
	}

	d := res.Total - (res.Subtotal + res.Tax + res.Tip)
	if d == 0 {
		res.Balanced = true
		res.Method = MethodNone
		return res
	}

	// Within one cent per line: rounding noise. Nudge totals.
	if money.Abs(d) <= money.Cents(len(items)) {
		left := nudgeItems(items, d)
		res.Subtotal = sumTotals(items)
		if left != 0 {
			// Lines out of slack; park the leftover cents in the tip.
			res.Tip += left
			res.TipDelta = left
		}
		if res.Tip < opts.TipFloor {
			res.Method = MethodFailed
			res.Note = fmt.Sprintf("tip %s fell below floor %s", res.Tip, opts.TipFloor)
			return res
		}
		res.Balanced = true
		res.Method = MethodItems
		res.Note = fmt.Sprintf("absorbed %s of rounding into line totals", d)
		return res
	}

	// The usual case: the extraction missed the tip (or a discount).
	if tip := res.Tip + d; tip >= opts.TipFloor {
		res.TipDelta = d
		res.Tip = tip
		res.Balanced = true
		res.Method = MethodTip
		res.Note = fmt.Sprintf("tip adjusted by %s to balance", d)
		return res
	}

	// Tip floor breached: spread d across item totals instead.
	if err := redistribute(items, d, opts.MaxPasses); err != nil {
		res.Method = MethodFailed
		res.Note = err.Error()
		return res
	}
	res.Subtotal = sumTotals(items)
	res.Balanced = true
	res.Method = MethodRedistribute
	res.Note = fmt.Sprintf("redistributed %s across item totals", d)
	return res
}

// normalize repairs each extracted line into a LineItem that satisfies
// the per-line invariant. Lines where no integer unit price fits the
// stated total get the total snapped to unit * quantity; the
// difference rejoins the global discrepancy and is re-absorbed there.
func normalize(in []Item) []models.LineItem {
	out := make([]models.LineItem, 0, len(in))
	for i, raw := range in {
		item := models.LineItem{
			Position:   i,
			Name:       raw.Name,
			Quantity:   raw.Quantity,
			UnitPrice:  raw.UnitPrice,
			TotalPrice: raw.TotalPrice,
		}
		if item.Name == "" {
			item.Name = fmt.Sprintf("Item %d", i+1)
		}
		if item.Quantity < 1 {
			item.Quantity = 1
		}
		qty := money.Cents(item.Quantity)
		if item.UnitPrice == 0 && item.TotalPrice != 0 {
			item.UnitPrice = money.DivRound(item.TotalPrice, int64(item.Quantity))
		}
		if item.TotalPrice == 0 && item.UnitPrice != 0 {
			item.TotalPrice = item.UnitPrice * qty
		}
		if money.Abs(item.UnitPrice*qty-item.TotalPrice) > ledger.PriceTolerance {
			item.UnitPrice = money.DivRound(item.TotalPrice, int64(item.Quantity))
			if money.Abs(item.UnitPrice*qty-item.TotalPrice) > ledger.PriceTolerance {
				item.TotalPrice = item.UnitPrice * qty
			}
		}
		out = append(out, item)
	}
	return out
}

func sumTotals(items []models.LineItem) money.Cents {
	var sum money.Cents
	for i := range items {
		sum += items[i].TotalPrice
	}
	return sum
}

// residue is unit*qty - total for a line; the per-line invariant keeps
// it within ledger.PriceTolerance.
func residue(item *models.LineItem) money.Cents {
	return item.UnitPrice*money.Cents(item.Quantity) - item.TotalPrice
}

// byTotalDesc returns item indexes ordered by total descending, then
// position ascending. All tie-breaks in this package use this order.
func byTotalDesc(items []models.LineItem) []int {
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := items[order[a]], items[order[b]]
		if ia.TotalPrice != ib.TotalPrice {
			return ia.TotalPrice > ib.TotalPrice
		}
		return ia.Position < ib.Position
	})
	return order
}

// nudgeItems moves d one cent at a time into line totals, largest
// line first, skipping lines whose slack is already spent. Returns
// the cents it could not place.
func nudgeItems(items []models.LineItem, d money.Cents) money.Cents {
	dir := money.Cents(1)
	if d < 0 {
		dir = -1
	}
	for _, idx := range byTotalDesc(items) {
		if d == 0 {
			break
		}
		item := &items[idx]
		if money.Abs(residue(item)-dir) > ledger.PriceTolerance {
			continue
		}
		item.TotalPrice += dir
		d -= dir
	}
	return d
}

// redistribute spreads d across item totals proportionally to their
// magnitude. Per-line deltas are snapped to multiples of the line
// quantity so the unit price moves by a whole number of cents and the
// per-line invariant holds exactly. The unsnappable remainder goes to
// the largest single-quantity line, or failing that into one-cent
// nudges bounded by maxPasses sweeps.
func redistribute(items []models.LineItem, d money.Cents, maxPasses int) error {
	weights := make([]int64, len(items))
	var weightSum int64
	for i := range items {
		weights[i] = int64(money.Abs(items[i].TotalPrice))
		weightSum += weights[i]
	}
	if weightSum == 0 {
		return fmt.Errorf("cannot redistribute %s: all line totals are zero", d)
	}

	deltas, err := money.Allocate(d, weights)
	if err != nil {
		return fmt.Errorf("cannot redistribute %s: %v", d, err)
	}

	var remainder money.Cents
	for i := range items {
		item := &items[i]
		qty := int64(item.Quantity)
		snapped := money.DivRound(deltas[i], qty) * money.Cents(qty)
		if item.TotalPrice > 0 && item.TotalPrice+snapped <= 0 {
			return fmt.Errorf("cannot redistribute %s: would wipe out %q", d, item.Name)
		}
		item.TotalPrice += snapped
		item.UnitPrice += snapped / money.Cents(qty)
		remainder += deltas[i] - snapped
	}
	if remainder == 0 {
		return nil
	}

	// A single-quantity line can take any remainder exactly: unit
	// and total move together.
	for _, idx := range byTotalDesc(items) {
		item := &items[idx]
		if item.Quantity != 1 {
			continue
		}
		if item.TotalPrice > 0 && item.TotalPrice+remainder <= 0 {
			continue
		}
		item.TotalPrice += remainder
		item.UnitPrice += remainder
		return nil
	}

	for pass := 0; pass < maxPasses && remainder != 0; pass++ {
		left := nudgeItems(items, remainder)
		if left == remainder {
			break
		}
		remainder = left
	}
	if remainder != 0 {
		return fmt.Errorf("cannot place %s after %d passes", remainder, maxPasses)
	}
	return nil
}
