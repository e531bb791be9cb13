package pos

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/kasir-pos/internal/money"
	"github.com/noah-isme/kasir-pos/internal/pricing"
)

// LineView is a cart line ready for display.
type LineView struct {
	ProductID    int64           `json:"productId"`
	ProductName  string          `json:"productName"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	Quantity     int             `json:"quantity"`
	ItemDiscount decimal.Decimal `json:"itemDiscount"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	SubtotalText string          `json:"subtotalText"`
}

// DiscountView describes the order discount in effect.
type DiscountView struct {
	ID     *int64          `json:"id"`
	Name   string          `json:"name,omitempty"`
	Manual bool            `json:"manual"`
	Amount decimal.Decimal `json:"amount"`
}

// TaxView mirrors the session tax configuration.
type TaxView struct {
	Enabled  bool            `json:"enabled"`
	Rate     decimal.Decimal `json:"rate"`
	Included bool            `json:"included"`
	Label    string          `json:"label,omitempty"`
}

// SummaryView carries the derived amounts with their display strings.
type SummaryView struct {
	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountAmount     decimal.Decimal `json:"discountAmount"`
	TaxableAmount      decimal.Decimal `json:"taxableAmount"`
	TaxAmount          decimal.Decimal `json:"taxAmount"`
	Total              decimal.Decimal `json:"total"`
	SubtotalText       string          `json:"subtotalText"`
	DiscountAmountText string          `json:"discountAmountText"`
	TaxAmountText      string          `json:"taxAmountText"`
	TotalText          string          `json:"totalText"`
}

// CartView is a consistent snapshot of the cart taken under the terminal lock.
type CartView struct {
	Lines     []LineView   `json:"lines"`
	ItemCount int          `json:"itemCount"`
	Summary   SummaryView  `json:"summary"`
	Discount  DiscountView `json:"discount"`
	Tax       TaxView      `json:"tax"`
}

func cartView(c *pricing.Cart) CartView {
	lines := c.Lines()
	views := make([]LineView, 0, len(lines))
	for _, l := range lines {
		sub := l.Subtotal()
		views = append(views, LineView{
			ProductID:    l.ProductID,
			ProductName:  l.ProductName,
			UnitPrice:    l.UnitPrice,
			Quantity:     l.Quantity,
			ItemDiscount: l.ItemDiscount,
			Subtotal:     sub,
			SubtotalText: money.Format(sub),
		})
	}
	s := c.Summary()
	d := c.Discount()
	tax := c.Tax()
	return CartView{
		Lines:     views,
		ItemCount: c.ItemCount(),
		Summary: SummaryView{
			Subtotal:           s.Subtotal,
			DiscountAmount:     s.DiscountAmount,
			TaxableAmount:      s.TaxableAmount,
			TaxAmount:          s.TaxAmount,
			Total:              s.Total,
			SubtotalText:       money.Format(s.Subtotal),
			DiscountAmountText: money.Format(s.DiscountAmount),
			TaxAmountText:      money.Format(s.TaxAmount),
			TotalText:          money.Format(s.Total),
		},
		Discount: DiscountView{ID: d.ID, Name: d.Name, Manual: d.Manual, Amount: s.DiscountAmount},
		Tax:      TaxView{Enabled: tax.Enabled, Rate: tax.Rate, Included: tax.Included, Label: tax.Label},
	}
}
