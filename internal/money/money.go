// Package money implements fixed-point currency arithmetic in integer
// minor units (cents). All receipt math in this codebase goes through
// this package; floating point never touches a monetary value.
package money

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Cents is a monetary amount in minor units. $12.34 is Cents(1234).
// Negative amounts are legal and represent discounts or credits.
type Cents int64

// String formats the amount as a plain decimal string, e.g. "12.34"
// or "-0.05". The output is always exact.
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON encodes the amount as a bare JSON number with two
// decimal places. Encoding goes through String, not float64, so the
// wire value is exact.
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal
// string. Values with more than two decimal places are rejected
// rather than rounded; the caller is expected to send minor-unit
// precision.
func (c *Cents) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Parse converts a decimal string like "12.34", "-3", or "0.5" into
// Cents without going through floating point. It returns an error for
// empty input, malformed numbers, exponent notation, and more than
// two decimal places.
func Parse(s string) (Cents, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" {
		return 0, fmt.Errorf("malformed amount")
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	switch len(frac) {
	case 0:
		frac = "00"
	case 1:
		frac += "0"
	case 2:
	default:
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed amount %q", s)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed amount %q", s)
	}
	v := units*100 + cents
	if neg {
		v = -v
	}
	return Cents(v), nil
}

// MustParse is Parse for test fixtures and constants; it panics on
// malformed input.
func MustParse(s string) Cents {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Allocate splits total across weights proportionally using the
// largest-remainder method. The returned shares always sum exactly to
// total; no cent is ever created or destroyed. Zero weights receive
// zero. Remainder cents go to the entries with the largest fractional
// parts, ties broken by lowest index, so the result is deterministic.
//
// The weight sum must be positive; Allocate returns an error
// otherwise. Negative totals are allocated symmetrically.
func Allocate(total Cents, weights []int64) ([]Cents, error) {
	var sum int64
	for i, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("negative weight at index %d", i)
		}
		sum += w
	}
	if sum <= 0 {
		return nil, fmt.Errorf("weights sum to zero")
	}

	neg := total < 0
	t := int64(total)
	if neg {
		t = -t
	}

	shares := make([]Cents, len(weights))
	type rem struct {
		idx  int
		frac int64
	}
	rems := make([]rem, 0, len(weights))
	var allocated int64
	for i, w := range weights {
		q := t * w / sum
		shares[i] = Cents(q)
		allocated += q
		rems = append(rems, rem{idx: i, frac: t * w % sum})
	}

	leftover := t - allocated
	sort.SliceStable(rems, func(a, b int) bool {
		if rems[a].frac != rems[b].frac {
			return rems[a].frac > rems[b].frac
		}
		return rems[a].idx < rems[b].idx
	})
	for i := int64(0); i < leftover; i++ {
		shares[rems[i%int64(len(rems))].idx]++
	}

	if neg {
		for i := range shares {
			shares[i] = -shares[i]
		}
	}
	return shares, nil
}

// DivRound divides a by b with round-half-away-from-zero semantics.
// Used when deriving a unit price from an extracted line total.
func DivRound(a Cents, b int64) Cents {
	if b == 0 {
		return 0
	}
	v := int64(a)
	half := b / 2
	if v >= 0 {
		return Cents((v + half) / b)
	}
	return Cents((v - half) / b)
}

// Abs returns the magnitude of the amount.
func Abs(c Cents) Cents {
	if c < 0 {
		return -c
	}
	return c
}
