package catalog

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no active product carries the barcode.
	ErrNotFound = errors.New("catalog: product not found")
	// ErrOutOfStock is returned when the product exists but has no stock left.
	ErrOutOfStock = errors.New("catalog: product out of stock")
	// ErrEmptyBarcode is returned for blank lookups.
	ErrEmptyBarcode = errors.New("catalog: barcode is empty")
)

// Product is the backend's product record as returned by a barcode lookup.
type Product struct {
	ID         int64           `json:"id"`
	CategoryID *int64          `json:"category_id,omitempty"`
	SKU        string          `json:"sku"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	CostPrice  decimal.Decimal `json:"cost_price"`
	Stock      int             `json:"stock"`
	Barcode    *string         `json:"barcode,omitempty"`
	IsActive   bool            `json:"is_active"`
}

// InStock reports whether at least one unit can be sold.
func (p Product) InStock() bool {
	return p.Stock > 0
}

// LowStock reports whether stock is at or under threshold. A non-positive
// threshold disables the check.
func (p Product) LowStock(threshold int) bool {
	return threshold > 0 && p.Stock <= threshold
}
