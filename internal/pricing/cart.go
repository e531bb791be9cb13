// Package pricing holds the in-memory order being built at the register and
// derives its subtotal, discount, tax and total on every read.
package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Line is one product's presence in the order.
type Line struct {
	ProductID    int64
	ProductName  string
	UnitPrice    decimal.Decimal
	Quantity     int
	ItemDiscount decimal.Decimal
}

// Gross returns unit price times quantity before the line discount.
func (l Line) Gross() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Subtotal returns the line amount after its own discount.
func (l Line) Subtotal() decimal.Decimal {
	return l.Gross().Sub(l.ItemDiscount)
}

// OrderDiscount is the single order-level discount. A nil ID means no discount.
type OrderDiscount struct {
	ID      *int64
	Name    string
	Nominal decimal.Decimal
	// Percent, when valid, takes precedence over Nominal. Nominal then only
	// carries the last-known absolute value for display.
	Percent decimal.NullDecimal
	Manual  bool
}

// Active reports whether a discount definition is attached.
func (d OrderDiscount) Active() bool {
	return d.ID != nil
}

// Amount resolves the discount against a subtotal.
func (d OrderDiscount) Amount(subtotal decimal.Decimal) decimal.Decimal {
	if d.Percent.Valid {
		return subtotal.Mul(d.Percent.Decimal).Div(hundred)
	}
	return d.Nominal
}

// TaxConfig is session-level tax configuration loaded from settings.
type TaxConfig struct {
	Rate     decimal.Decimal
	Included bool
	Label    string
	Enabled  bool
}

func (t TaxConfig) applies() bool {
	return t.Enabled && t.Rate.IsPositive()
}

// Summary aggregates the derived amounts of a cart.
type Summary struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxableAmount  decimal.Decimal
	TaxAmount      decimal.Decimal
	Total          decimal.Decimal
}

// Cart is the order under construction. The zero value is an empty cart with
// tax disabled. A Cart has a single owner; callers sharing one across
// goroutines must serialise access.
type Cart struct {
	lines    []Line
	discount OrderDiscount
	tax      TaxConfig
}

// NewCart returns an empty cart using the given tax configuration.
func NewCart(tax TaxConfig) *Cart {
	return &Cart{tax: tax}
}

// Lines returns a copy of the current lines in insertion order.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// Line looks up the line for a product.
func (c *Cart) Line(productID int64) (Line, bool) {
	if i := c.indexOf(productID); i >= 0 {
		return c.lines[i], true
	}
	return Line{}, false
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// ItemCount sums quantities across all lines.
func (c *Cart) ItemCount() int {
	n := 0
	for _, l := range c.lines {
		n += l.Quantity
	}
	return n
}

// Discount returns the current order-level discount.
func (c *Cart) Discount() OrderDiscount {
	return c.discount
}

// Tax returns the tax configuration.
func (c *Cart) Tax() TaxConfig {
	return c.tax
}

// SetTax replaces the tax configuration.
func (c *Cart) SetTax(tax TaxConfig) {
	c.tax = tax
}

// AddItem merges the line into the cart. Re-adding a product increments its
// quantity; a non-positive incoming quantity counts as one. New lines start
// without an item discount. Stock is not checked here.
func (c *Cart) AddItem(line Line) {
	qty := line.Quantity
	if qty <= 0 {
		qty = 1
	}
	if i := c.indexOf(line.ProductID); i >= 0 {
		c.lines[i].Quantity += qty
		return
	}
	line.Quantity = qty
	line.ItemDiscount = decimal.Zero
	c.lines = append(c.lines, line)
}

// UpdateQuantity adjusts a line by delta, flooring the result at one.
func (c *Cart) UpdateQuantity(productID int64, delta int) bool {
	i := c.indexOf(productID)
	if i < 0 {
		return false
	}
	c.lines[i].Quantity = floorQuantity(c.lines[i].Quantity + delta)
	return true
}

// SetQuantity sets a line's quantity, flooring at one.
func (c *Cart) SetQuantity(productID int64, quantity int) bool {
	i := c.indexOf(productID)
	if i < 0 {
		return false
	}
	c.lines[i].Quantity = floorQuantity(quantity)
	return true
}

// SetItemDiscount sets a line discount, clamped at zero.
func (c *Cart) SetItemDiscount(productID int64, amount decimal.Decimal) bool {
	i := c.indexOf(productID)
	if i < 0 {
		return false
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	c.lines[i].ItemDiscount = amount
	return true
}

// RemoveItem deletes a line outright.
func (c *Cart) RemoveItem(productID int64) bool {
	i := c.indexOf(productID)
	if i < 0 {
		return false
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	return true
}

// SetDiscount replaces the order-level discount.
func (c *Cart) SetDiscount(d OrderDiscount) {
	c.discount = d
}

// Clear drops all lines and the discount, including any manual selection.
// Tax configuration is kept.
func (c *Cart) Clear() {
	c.lines = nil
	c.discount = OrderDiscount{}
}

// Subtotal is the sum of line subtotals.
func (c *Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.lines {
		sum = sum.Add(l.Subtotal())
	}
	return sum
}

// DiscountAmount resolves the order discount against the subtotal.
func (c *Cart) DiscountAmount() decimal.Decimal {
	return c.discount.Amount(c.Subtotal())
}

// TaxableAmount is subtotal minus discount, floored at zero.
func (c *Cart) TaxableAmount() decimal.Decimal {
	return taxable(c.Subtotal(), c.DiscountAmount())
}

// TaxAmount is the tax embedded in (included) or added to (excluded) the
// taxable amount.
func (c *Cart) TaxAmount() decimal.Decimal {
	return taxOn(c.TaxableAmount(), c.tax)
}

// Total is the customer-facing amount due.
func (c *Cart) Total() decimal.Decimal {
	return c.Summary().Total
}

// Summary computes every derived amount in one pass.
func (c *Cart) Summary() Summary {
	subtotal := c.Subtotal()
	discount := c.discount.Amount(subtotal)
	base := taxable(subtotal, discount)
	tax := taxOn(base, c.tax)
	total := base
	if c.tax.applies() && !c.tax.Included {
		total = base.Add(tax)
	}
	return Summary{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxableAmount:  base,
		TaxAmount:      tax,
		Total:          total,
	}
}

func taxable(subtotal, discount decimal.Decimal) decimal.Decimal {
	v := subtotal.Sub(discount)
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

func taxOn(base decimal.Decimal, tax TaxConfig) decimal.Decimal {
	if !tax.applies() {
		return decimal.Zero
	}
	if tax.Included {
		divisor := decimal.NewFromInt(1).Add(tax.Rate.Div(hundred))
		return base.Sub(base.Div(divisor))
	}
	return base.Mul(tax.Rate).Div(hundred)
}

func floorQuantity(q int) int {
	if q < 1 {
		return 1
	}
	return q
}

func (c *Cart) indexOf(productID int64) int {
	for i, l := range c.lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}
