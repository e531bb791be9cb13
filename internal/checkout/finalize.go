// Package checkout turns a priced cart into a transaction submission and
// hands it to the backend.
package checkout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/kasir-pos/internal/money"
	"github.com/noah-isme/kasir-pos/internal/pricing"
)

var (
	// ErrEmptyCart is returned when paying for a cart with no lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInsufficientPayment indicates a cash tender below the amount due.
	ErrInsufficientPayment = errors.New("amount paid is less than total")
	// ErrUnknownMethod is returned for payment methods the register does not accept.
	ErrUnknownMethod = errors.New("unknown payment method")
	// ErrSubmissionFailed wraps backend rejections; the cart is left intact.
	ErrSubmissionFailed = errors.New("transaction submission failed")
)

// Method is how the customer settles.
type Method string

const (
	MethodCash  Method = "CASH"
	MethodDebit Method = "DEBIT"
	MethodQRIS  Method = "QRIS"
)

// ParseMethod accepts any casing of a known method.
func ParseMethod(raw string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(raw)))
	switch m {
	case MethodCash, MethodDebit, MethodQRIS:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, raw)
}

// Request is the cashier's payment input. AmountPaid is only read for cash.
type Request struct {
	Method     Method
	AmountPaid decimal.Decimal
	Notes      string
}

// PayloadItem is one submitted line, priced at the snapshot taken when it
// was added to the cart.
type PayloadItem struct {
	ProductID      int64 `json:"product_id" validate:"gt=0"`
	Quantity       int   `json:"quantity" validate:"gte=1"`
	PriceAtTime    int64 `json:"price_at_time" validate:"gte=0"`
	DiscountAmount int64 `json:"discount_amount" validate:"gte=0"`
}

// Payload is the create_transaction submission.
type Payload struct {
	Items          []PayloadItem `json:"items" validate:"required,min=1,dive"`
	DiscountID     *int64        `json:"discount_id"`
	DiscountAmount int64         `json:"discount_amount" validate:"gte=0"`
	TaxAmount      int64         `json:"tax_amount" validate:"gte=0"`
	TotalAmount    int64         `json:"total_amount" validate:"gte=0"`
	PaymentMethod  Method        `json:"payment_method" validate:"oneof=CASH DEBIT QRIS"`
	AmountPaid     int64         `json:"amount_paid" validate:"gte=0"`
	Notes          string        `json:"notes"`
}

// Quote is the settled amounts shown to the cashier.
type Quote struct {
	Total      decimal.Decimal `json:"total"`
	AmountPaid decimal.Decimal `json:"amountPaid"`
	Change     decimal.Decimal `json:"change"`
}

// Finalize validates the payment against the cart total and assembles the
// submission. Total and tender are rounded to whole rupiah before they are
// compared. The cart is not modified.
func Finalize(c *pricing.Cart, req Request) (Payload, Quote, error) {
	if c == nil || c.IsEmpty() {
		return Payload{}, Quote{}, ErrEmptyCart
	}
	summary := c.Summary()
	total := money.Round(summary.Total)

	var paid, change decimal.Decimal
	switch req.Method {
	case MethodCash:
		paid = money.Round(req.AmountPaid)
		if paid.LessThan(total) {
			return Payload{}, Quote{}, fmt.Errorf("%w: paid %s, due %s", ErrInsufficientPayment, money.Format(paid), money.Format(total))
		}
		change = paid.Sub(total)
	case MethodDebit, MethodQRIS:
		paid = total
		change = decimal.Zero
	default:
		return Payload{}, Quote{}, fmt.Errorf("%w: %q", ErrUnknownMethod, req.Method)
	}

	lines := c.Lines()
	items := make([]PayloadItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, PayloadItem{
			ProductID:      l.ProductID,
			Quantity:       l.Quantity,
			PriceAtTime:    money.Round(l.UnitPrice).IntPart(),
			DiscountAmount: money.Round(l.ItemDiscount).IntPart(),
		})
	}

	var discountID *int64
	if d := c.Discount(); d.Active() {
		id := *d.ID
		discountID = &id
	}
	payload := Payload{
		Items:          items,
		DiscountID:     discountID,
		DiscountAmount: money.Round(summary.DiscountAmount).IntPart(),
		TaxAmount:      money.Round(summary.TaxAmount).IntPart(),
		TotalAmount:    total.IntPart(),
		PaymentMethod:  req.Method,
		AmountPaid:     paid.IntPart(),
		Notes:          strings.TrimSpace(req.Notes),
	}
	return payload, Quote{Total: total, AmountPaid: paid, Change: change}, nil
}
