package calculator

import (
	"fmt"
	"sort"

	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/money"
)

// ItemClaim is one participant's claim on an item as shown to viewers.
type ItemClaim struct {
	ClaimerName string
	Quantity    int
}

// ItemStatus is the claim state of one line item.
type ItemStatus struct {
	Item      models.LineItem
	Available int
	Claims    []ItemClaim // sorted by claimer name
}

// ParticipantTotal pairs a participant with their current share.
type ParticipantTotal struct {
	Name      string
	Amount    money.Cents
	Finalized bool
}

// Projection is the server-authoritative claim snapshot served to
// pollers. Building one never mutates anything, so concurrent reads
// are safe and repeated polls are idempotent.
type Projection struct {
	Participants   []ParticipantTotal // sorted by name
	Items          []ItemStatus       // receipt order
	TotalClaimed   money.Cents
	TotalUnclaimed money.Cents
}

// Project assembles the claim snapshot for a receipt.
//
// TotalClaimed is the sum of participant shares and TotalUnclaimed is
// receipt total minus TotalClaimed, so the two always account for the
// whole receipt. A fully claimed receipt projects TotalUnclaimed of
// exactly zero.
func Project(receipt *models.Receipt, claims []models.Claim, participants []models.Participant) (*Projection, error) {
	shares, err := CalculateShares(receipt, claims)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate shares: %w", err)
	}

	proj := &Projection{}

	// Everyone who joined appears in the totals, including people who
	// have not claimed anything yet.
	finalized := make(map[string]bool, len(participants))
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		finalized[p.Name] = p.Finalized
		seen[p.Name] = true
	}
	for name := range shares {
		if !seen[name] {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		total := money.Cents(0)
		if s, ok := shares[name]; ok {
			total = s.Total
		}
		proj.Participants = append(proj.Participants, ParticipantTotal{
			Name:      name,
			Amount:    total,
			Finalized: finalized[name],
		})
		proj.TotalClaimed += total
	}
	proj.TotalUnclaimed = receipt.Total - proj.TotalClaimed

	byItem := make(map[string][]models.Claim)
	for _, c := range claims {
		byItem[c.LineItemID] = append(byItem[c.LineItemID], c)
	}
	for i := range receipt.Items {
		item := receipt.Items[i]
		status := ItemStatus{Item: item, Available: item.Quantity}
		itemClaims := byItem[item.ID]
		sort.Slice(itemClaims, func(a, b int) bool {
			return itemClaims[a].ClaimerName < itemClaims[b].ClaimerName
		})
		for _, c := range itemClaims {
			status.Available -= c.Quantity
			status.Claims = append(status.Claims, ItemClaim{
				ClaimerName: c.ClaimerName,
				Quantity:    c.Quantity,
			})
		}
		if status.Available < 0 {
			status.Available = 0
		}
		proj.Items = append(proj.Items, status)
	}

	return proj, nil
}

// ShareFor returns the named participant's current total, zero when
// they have not claimed anything.
func (p *Projection) ShareFor(name string) money.Cents {
	for _, pt := range p.Participants {
		if pt.Name == name {
			return pt.Amount
		}
	}
	return 0
}
