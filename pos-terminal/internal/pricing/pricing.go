// Package pricing computes cart totals. Everything here is pure: amounts
// stay unrounded float64 until Round is applied at a display or commit
// boundary.
package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_pos/pos-terminal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidDiscount = errors.New("invalid discount")
	ErrInvalidAmount   = errors.New("invalid amount")
)

func Subtotal(lines []domain.CartLine) float64 {
	var sum float64
	for _, l := range lines {
		sum += l.LineTotal()
	}
	return sum
}

// DiscountAmount resolves spec against subtotal. The result is always
// within [0, subtotal], whatever the input.
func DiscountAmount(spec domain.DiscountSpec, subtotal float64) float64 {
	if subtotal <= 0 {
		return 0
	}
	var amount float64
	switch spec.Kind {
	case domain.DiscountPercent:
		amount = subtotal * clamp(spec.Value, 0, 100) / 100
	case domain.DiscountFixed:
		amount = spec.Value
	}
	return clamp(amount, 0, subtotal)
}

// Calculate applies the discount before tax.
func Calculate(lines []domain.CartLine, spec domain.DiscountSpec, taxRate float64) domain.Totals {
	subtotal := Subtotal(lines)
	discount := DiscountAmount(spec, subtotal)
	taxable := subtotal - discount
	tax := taxable * max(taxRate, 0)
	return domain.Totals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		Taxable:        taxable,
		Tax:            tax,
		Total:          taxable + tax,
	}
}

// ValidateDiscount is the input-layer check; Calculate still clamps.
func ValidateDiscount(spec domain.DiscountSpec) error {
	switch spec.Kind {
	case domain.DiscountNone:
		return nil
	case domain.DiscountPercent:
		if spec.Value < 0 || spec.Value > 100 {
			return fmt.Errorf("%w: percentage must be between 0 and 100", ErrInvalidDiscount)
		}
	case domain.DiscountFixed:
		if spec.Value < 0 {
			return fmt.Errorf("%w: amount must not be negative", ErrInvalidDiscount)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDiscount, spec.Kind)
	}
	return nil
}

// Round rounds to cents, half away from zero.
func Round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func RoundTotals(t domain.Totals) domain.Totals {
	return domain.Totals{
		Subtotal:       Round(t.Subtotal),
		DiscountAmount: Round(t.DiscountAmount),
		Taxable:        Round(t.Taxable),
		Tax:            Round(t.Tax),
		Total:          Round(t.Total),
	}
}

// ParseAmount reads a user-entered currency amount such as "20", "20.5"
// or "$1,234.50". Negative amounts are rejected.
func ParseAmount(s string) (float64, error) {
	clean := strings.TrimSpace(s)
	clean = strings.TrimPrefix(clean, "$")
	clean = strings.ReplaceAll(clean, ",", "")
	if clean == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	return d.Round(2).InexactFloat64(), nil
}

// Tender compares cash offered against the rounded total. Exactly one of
// change and shortfall is non-zero unless the tender is exact.
func Tender(total, tendered float64) (change, shortfall float64) {
	diff := decimal.NewFromFloat(tendered).Sub(decimal.NewFromFloat(total).Round(2)).Round(2)
	if diff.IsNegative() {
		return 0, diff.Neg().InexactFloat64()
	}
	return diff.InexactFloat64(), 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
