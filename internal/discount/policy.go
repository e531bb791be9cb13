// Package discount decides which order-level discount applies to a cart.
package discount

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/kasir-pos/internal/pricing"
)

var (
	// ErrMinimumPurchaseUnmet indicates the cart subtotal is below the discount threshold.
	ErrMinimumPurchaseUnmet = errors.New("discount minimum purchase not met")
	// ErrInactive is returned when selecting a disabled discount.
	ErrInactive = errors.New("discount not active")
)

var hundred = decimal.NewFromInt(100)

// Kind distinguishes fixed-amount from percentage discounts.
type Kind string

const (
	KindNominal Kind = "NOMINAL"
	KindPercent Kind = "PERCENT"
)

// Definition is a discount configured in the back office.
type Definition struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Kind        Kind            `json:"type"`
	Value       decimal.Decimal `json:"value"`
	MinPurchase decimal.Decimal `json:"min_purchase"`
	IsActive    bool            `json:"is_active"`
	IsAutomatic bool            `json:"is_automatic"`
}

// Benefit returns the absolute amount this discount takes off the subtotal.
func (d Definition) Benefit(subtotal decimal.Decimal) decimal.Decimal {
	if d.Kind == KindPercent {
		return subtotal.Mul(d.Value).Div(hundred)
	}
	return d.Value
}

// Qualifies reports whether the discount is active and its threshold is met.
func (d Definition) Qualifies(subtotal decimal.Decimal) bool {
	return d.IsActive && subtotal.GreaterThanOrEqual(d.MinPurchase)
}

// OrderDiscount converts the definition into the cart's discount slot.
func (d Definition) OrderDiscount(subtotal decimal.Decimal, manual bool) pricing.OrderDiscount {
	id := d.ID
	od := pricing.OrderDiscount{
		ID:      &id,
		Name:    d.Name,
		Nominal: d.Benefit(subtotal),
		Manual:  manual,
	}
	if d.Kind == KindPercent {
		od.Percent = decimal.NewNullDecimal(d.Value)
	}
	return od
}

// SelectAutomatic picks the automatic discount with the largest absolute
// benefit. The first candidate wins ties.
func SelectAutomatic(defs []Definition, subtotal decimal.Decimal) (Definition, bool) {
	var (
		best    Definition
		benefit decimal.Decimal
		found   bool
	)
	for _, def := range defs {
		if !def.IsAutomatic || !def.Qualifies(subtotal) {
			continue
		}
		b := def.Benefit(subtotal)
		if !found || b.GreaterThan(benefit) {
			best, benefit, found = def, b, true
		}
	}
	return best, found
}

// ApplyAutomatic re-runs the automatic policy against the cart. A manual
// selection, including a manual "no discount", is left untouched, and an
// empty cart never carries an automatic discount. It reports whether the
// cart's discount changed.
func ApplyAutomatic(c *pricing.Cart, defs []Definition) bool {
	current := c.Discount()
	if current.Manual {
		return false
	}
	subtotal := c.Subtotal()
	winner, ok := SelectAutomatic(defs, subtotal)
	if !ok || c.IsEmpty() {
		if !current.Active() {
			return false
		}
		c.SetDiscount(pricing.OrderDiscount{})
		return true
	}
	next := winner.OrderDiscount(subtotal, false)
	c.SetDiscount(next)
	return !current.Active() || *current.ID != winner.ID
}

// ApplyManual applies a cashier-chosen discount. It stays until cleared
// manually or the cart is cleared.
func ApplyManual(c *pricing.Cart, def Definition) error {
	if !def.IsActive {
		return ErrInactive
	}
	subtotal := c.Subtotal()
	if subtotal.LessThan(def.MinPurchase) {
		return ErrMinimumPurchaseUnmet
	}
	c.SetDiscount(def.OrderDiscount(subtotal, true))
	return nil
}

// ClearManual records an explicit "no discount" choice, which also keeps
// automatic discounts away until the cart is cleared.
func ClearManual(c *pricing.Cart) {
	c.SetDiscount(pricing.OrderDiscount{Manual: true})
}

// Find returns the definition with the given id.
func Find(defs []Definition, id int64) (Definition, bool) {
	for _, def := range defs {
		if def.ID == id {
			return def, true
		}
	}
	return Definition{}, false
}
