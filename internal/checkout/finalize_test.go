package checkout

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kasir-pos/internal/pricing"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func cartTotalling(total int64) *pricing.Cart {
	c := pricing.NewCart(pricing.TaxConfig{})
	c.AddItem(pricing.Line{ProductID: 10, ProductName: "Beras 5kg", UnitPrice: d(total), Quantity: 1})
	return c
}

func TestFinalizeCashRejectsUnderpayment(t *testing.T) {
	c := cartTotalling(50000)

	_, _, err := Finalize(c, Request{Method: MethodCash, AmountPaid: d(49999)})
	require.ErrorIs(t, err, ErrInsufficientPayment)

	payload, quote, err := Finalize(c, Request{Method: MethodCash, AmountPaid: d(50000)})
	require.NoError(t, err)
	require.True(t, quote.Change.IsZero())
	require.Equal(t, int64(50000), payload.AmountPaid)
}

func TestFinalizeCashComputesChange(t *testing.T) {
	payload, quote, err := Finalize(cartTotalling(42500), Request{Method: MethodCash, AmountPaid: d(50000), Notes: "  meja 4 "})
	require.NoError(t, err)
	require.True(t, quote.Change.Equal(d(7500)))
	require.Equal(t, "meja 4", payload.Notes)
}

func TestFinalizeRoundsBeforeComparing(t *testing.T) {
	c := pricing.NewCart(pricing.TaxConfig{Enabled: true, Included: true, Rate: d(11)})
	c.AddItem(pricing.Line{ProductID: 1, UnitPrice: d(10000), Quantity: 1})
	c.SetDiscount(pricing.OrderDiscount{ID: ptr(2), Percent: decimal.NewNullDecimal(decimal.RequireFromString("33.333"))})

	payload, quote, err := Finalize(c, Request{Method: MethodCash, AmountPaid: d(6667)})
	require.NoError(t, err)
	require.True(t, quote.Total.Equal(d(6667)), quote.Total.String())
	require.Equal(t, int64(3333), payload.DiscountAmount)
	require.Equal(t, int64(661), payload.TaxAmount)
}

func TestFinalizeNonCashForcesExactAmount(t *testing.T) {
	for _, m := range []Method{MethodDebit, MethodQRIS} {
		payload, quote, err := Finalize(cartTotalling(40500), Request{Method: m, AmountPaid: d(1)})
		require.NoError(t, err)
		require.Equal(t, int64(40500), payload.AmountPaid)
		require.True(t, quote.Change.IsZero())
		require.Equal(t, m, payload.PaymentMethod)
	}
}

func TestFinalizeAssemblesPayload(t *testing.T) {
	c := pricing.NewCart(pricing.TaxConfig{})
	c.AddItem(pricing.Line{ProductID: 1, ProductName: "Roti", UnitPrice: d(15000), Quantity: 3})
	c.AddItem(pricing.Line{ProductID: 2, ProductName: "Susu", UnitPrice: d(8000), Quantity: 1})
	c.SetItemDiscount(2, d(500))
	c.SetDiscount(pricing.OrderDiscount{ID: ptr(9), Name: "10%", Percent: decimal.NewNullDecimal(d(10))})

	payload, _, err := Finalize(c, Request{Method: MethodDebit})
	require.NoError(t, err)
	require.Equal(t, []PayloadItem{
		{ProductID: 1, Quantity: 3, PriceAtTime: 15000, DiscountAmount: 0},
		{ProductID: 2, Quantity: 1, PriceAtTime: 8000, DiscountAmount: 500},
	}, payload.Items)
	require.NotNil(t, payload.DiscountID)
	require.Equal(t, int64(9), *payload.DiscountID)
	require.Equal(t, int64(5250), payload.DiscountAmount)
	require.Equal(t, int64(47250), payload.TotalAmount)
	require.False(t, c.IsEmpty())
}

func TestFinalizeRejectsEmptyCartAndUnknownMethod(t *testing.T) {
	_, _, err := Finalize(pricing.NewCart(pricing.TaxConfig{}), Request{Method: MethodCash})
	require.ErrorIs(t, err, ErrEmptyCart)

	_, _, err = Finalize(cartTotalling(1000), Request{Method: "VOUCHER"})
	require.ErrorIs(t, err, ErrUnknownMethod)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod(" qris ")
	require.NoError(t, err)
	require.Equal(t, MethodQRIS, m)

	_, err = ParseMethod("cheque")
	require.ErrorIs(t, err, ErrUnknownMethod)
}

func ptr(v int64) *int64 { return &v }
