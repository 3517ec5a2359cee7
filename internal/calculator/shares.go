package calculator

import (
	"fmt"
	"sort"

	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/money"
)

// PersonShare represents the calculated share for one participant.
type PersonShare struct {
	// ItemsSubtotal is the value of the units this person claimed.
	ItemsSubtotal money.Cents

	// TaxTip is this person's proportional share of tax plus tip,
	// weighted by ItemsSubtotal.
	TaxTip money.Cents

	// Total is the final amount this person owes.
	Total money.Cents
}

// CalculateShares computes how much each claimer owes on a receipt.
//
// Algorithm:
//   - Per item: the line total is allocated across claimed units plus
//     an unclaimed remainder slot using the largest-remainder method,
//     so item values always sum exactly to the line total.
//   - Tax and tip are allocated across participants in proportion to
//     their item subtotals, with the unclaimed portion of the receipt
//     holding its own slot. When every unit is claimed the slot's
//     weight is zero and participants carry the full overhead.
//
// All arithmetic is integer cents; the shares of a fully claimed
// balanced receipt sum exactly to the receipt total.
func CalculateShares(receipt *models.Receipt, claims []models.Claim) (map[string]*PersonShare, error) {
	if len(claims) == 0 {
		return map[string]*PersonShare{}, nil
	}
	if receipt.Subtotal <= 0 {
		return nil, fmt.Errorf("subtotal must be positive")
	}

	byItem := make(map[string][]models.Claim)
	for _, c := range claims {
		if c.Quantity <= 0 {
			return nil, fmt.Errorf("claim by %q on item %s has non-positive quantity %d",
				c.ClaimerName, c.LineItemID, c.Quantity)
		}
		byItem[c.LineItemID] = append(byItem[c.LineItemID], c)
	}

	shares := make(map[string]*PersonShare)
	ensure := func(name string) *PersonShare {
		if s, ok := shares[name]; ok {
			return s
		}
		s := &PersonShare{}
		shares[name] = s
		return s
	}

	for i := range receipt.Items {
		item := &receipt.Items[i]
		itemClaims := byItem[item.ID]
		delete(byItem, item.ID)
		if len(itemClaims) == 0 {
			continue
		}

		// Deterministic allocation order: claimers by name, then the
		// unclaimed remainder slot last.
		sort.Slice(itemClaims, func(a, b int) bool {
			return itemClaims[a].ClaimerName < itemClaims[b].ClaimerName
		})
		claimed := 0
		weights := make([]int64, 0, len(itemClaims)+1)
		for _, c := range itemClaims {
			claimed += c.Quantity
			weights = append(weights, int64(c.Quantity))
		}
		if claimed > item.Quantity {
			return nil, fmt.Errorf("item %s is overclaimed: %d of %d units", item.ID, claimed, item.Quantity)
		}
		weights = append(weights, int64(item.Quantity-claimed))

		values, err := money.Allocate(item.TotalPrice, weights)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate item %s: %w", item.ID, err)
		}
		for j, c := range itemClaims {
			ensure(c.ClaimerName).ItemsSubtotal += values[j]
		}
	}
	if len(byItem) > 0 {
		for id := range byItem {
			return nil, fmt.Errorf("claim references unknown item %s", id)
		}
	}

	overhead := receipt.Tax + receipt.Tip
	names := make([]string, 0, len(shares))
	for name := range shares {
		names = append(names, name)
	}
	sort.Strings(names)

	var claimedValue money.Cents
	weights := make([]int64, 0, len(names)+1)
	for _, name := range names {
		sub := shares[name].ItemsSubtotal
		claimedValue += sub
		if sub < 0 {
			// A claimer holding only discount lines carries no
			// overhead share.
			sub = 0
		}
		weights = append(weights, int64(sub))
	}
	unclaimedValue := receipt.Subtotal - claimedValue
	if unclaimedValue < 0 {
		unclaimedValue = 0
	}
	weights = append(weights, int64(unclaimedValue))

	if overhead != 0 && len(names) > 0 {
		portions, err := money.Allocate(overhead, weights)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate tax and tip: %w", err)
		}
		for j, name := range names {
			shares[name].TaxTip = portions[j]
		}
	}

	for _, s := range shares {
		s.Total = s.ItemsSubtotal + s.TaxTip
	}
	return shares, nil
}
