package httpapi

import "github.com/shopspring/decimal"

type addItemRequest struct {
	ProductID   int64           `json:"productId" validate:"gt=0"`
	ProductName string          `json:"productName" validate:"required,max=200"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	// Quantity defaults to one; values below one are treated as one.
	Quantity *int `json:"quantity"`
}

// updateItemRequest carries exactly one of its fields. Quantities are
// floored at one rather than rejected.
type updateItemRequest struct {
	Delta        *int             `json:"delta"`
	Quantity     *int             `json:"quantity"`
	ItemDiscount *decimal.Decimal `json:"itemDiscount"`
}

type selectDiscountRequest struct {
	DiscountID int64 `json:"discountId" validate:"gt=0"`
}

type scanKeyRequest struct {
	Key      string `json:"key" validate:"required"`
	Editable bool   `json:"editable"`
}

type scanBarcodeRequest struct {
	Barcode string `json:"barcode" validate:"required,max=64"`
}

type checkoutRequest struct {
	Method     string           `json:"method" validate:"required"`
	AmountPaid *decimal.Decimal `json:"amountPaid"`
	Notes      string           `json:"notes" validate:"max=500"`
}
