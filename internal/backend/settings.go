package backend

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/kasir-pos/internal/pricing"
)

// TaxSettings is the tax block of the store settings.
type TaxSettings struct {
	IsEnabled  bool            `json:"is_enabled"`
	Rate       decimal.Decimal `json:"rate"`
	Label      string          `json:"label"`
	IsIncluded bool            `json:"is_included"`
}

// CompanySettings identifies the store.
type CompanySettings struct {
	StoreName string `json:"store_name"`
	Address   string `json:"address"`
	Phone     string `json:"phone"`
}

// Settings is the subset of store settings the terminal uses.
type Settings struct {
	Company           CompanySettings `json:"company"`
	Tax               TaxSettings     `json:"tax"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	Timezone          string          `json:"timezone"`
}

// TaxConfig converts the tax block for the cart.
func (s Settings) TaxConfig() pricing.TaxConfig {
	return pricing.TaxConfig{
		Enabled:  s.Tax.IsEnabled,
		Rate:     s.Tax.Rate,
		Included: s.Tax.IsIncluded,
		Label:    s.Tax.Label,
	}
}
