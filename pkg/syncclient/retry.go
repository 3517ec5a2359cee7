package syncclient

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMaxRetries bounds automatic clamp-and-resubmit attempts
// before the adjustment is handed to the human.
const DefaultMaxRetries = 2

// AdjustmentRequiredError is returned when auto-clamping ran out of
// retries. Proposed carries the clamped quantities that would have
// been tried next; the caller shows them to the user for manual
// confirmation instead of silently submitting a fourth time.
type AdjustmentRequiredError struct {
	Proposed  map[string]int
	Conflicts []Availability
}

func (e *AdjustmentRequiredError) Error() string {
	return fmt.Sprintf("claims need manual adjustment: %d items still contended after retries", len(e.Conflicts))
}

// Clamp lowers each desired quantity to the availability the server
// reported. Items reduced to zero availability are clamped to zero,
// not dropped; the protocol wants the full desired map either way.
func Clamp(desired map[string]int, conflicts []Availability) map[string]int {
	clamped := make(map[string]int, len(desired))
	for id, qty := range desired {
		clamped[id] = qty
	}
	for _, c := range conflicts {
		if qty, ok := clamped[c.ItemID]; ok && qty > c.Available {
			clamped[c.ItemID] = c.Available
		}
	}
	return clamped
}

// SubmitWithRetry submits the desired allocation, auto-clamping to
// reported availability and retrying after each lost race. After
// maxRetries clamped attempts it returns *AdjustmentRequiredError so
// the user can confirm the reduced quantities themselves. Errors
// other than availability conflicts pass through unchanged.
func (c *Client) SubmitWithRetry(ctx context.Context, receiptID string, desired map[string]int, maxRetries int) (*SubmitResult, error) {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	for attempt := 0; ; attempt++ {
		res, err := c.SubmitClaims(ctx, receiptID, desired)
		if err == nil {
			return res, nil
		}
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			return nil, err
		}
		if attempt >= maxRetries {
			return nil, &AdjustmentRequiredError{
				Proposed:  Clamp(desired, conflict.Availability),
				Conflicts: conflict.Availability,
			}
		}
		desired = Clamp(desired, conflict.Availability)
	}
}
