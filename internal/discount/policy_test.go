package discount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kasir-pos/internal/pricing"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func cartWith(subtotal int64) *pricing.Cart {
	c := pricing.NewCart(pricing.TaxConfig{})
	c.AddItem(pricing.Line{ProductID: 1, ProductName: "Item", UnitPrice: d(subtotal), Quantity: 1})
	return c
}

func TestSelectAutomaticPrefersLargestBenefit(t *testing.T) {
	defs := []Definition{
		{ID: 1, Name: "Hemat 5rb", Kind: KindNominal, Value: d(5000), IsActive: true, IsAutomatic: true},
		{ID: 2, Name: "Diskon 10%", Kind: KindPercent, Value: d(10), IsActive: true, IsAutomatic: true},
	}
	winner, ok := SelectAutomatic(defs, d(60000))
	require.True(t, ok)
	require.Equal(t, int64(2), winner.ID)
}

func TestSelectAutomaticTieKeepsFirst(t *testing.T) {
	defs := []Definition{
		{ID: 1, Kind: KindNominal, Value: d(5000), IsActive: true, IsAutomatic: true},
		{ID: 2, Kind: KindPercent, Value: d(10), IsActive: true, IsAutomatic: true},
	}
	winner, ok := SelectAutomatic(defs, d(50000))
	require.True(t, ok)
	require.Equal(t, int64(1), winner.ID)
}

func TestSelectAutomaticFilters(t *testing.T) {
	defs := []Definition{
		{ID: 1, Kind: KindNominal, Value: d(9000), IsActive: false, IsAutomatic: true},
		{ID: 2, Kind: KindNominal, Value: d(8000), IsActive: true, IsAutomatic: false},
		{ID: 3, Kind: KindNominal, Value: d(7000), IsActive: true, IsAutomatic: true, MinPurchase: d(100000)},
	}
	_, ok := SelectAutomatic(defs, d(60000))
	require.False(t, ok)
}

func TestApplyAutomaticSetsAndClears(t *testing.T) {
	defs := []Definition{{ID: 4, Name: "Belanja 50rb", Kind: KindNominal, Value: d(5000), MinPurchase: d(50000), IsActive: true, IsAutomatic: true}}
	c := cartWith(60000)

	require.True(t, ApplyAutomatic(c, defs))
	got := c.Discount()
	require.NotNil(t, got.ID)
	require.Equal(t, int64(4), *got.ID)
	require.False(t, got.Manual)

	require.False(t, ApplyAutomatic(c, defs))

	c.SetQuantity(1, 1)
	c.SetItemDiscount(1, d(20000))
	require.True(t, ApplyAutomatic(c, defs))
	require.False(t, c.Discount().Active())
}

func TestApplyAutomaticSkipsEmptyCart(t *testing.T) {
	defs := []Definition{{ID: 5, Name: "flat", Kind: KindNominal, Value: d(5000), IsActive: true, IsAutomatic: true}}
	c := pricing.NewCart(pricing.TaxConfig{})

	require.False(t, ApplyAutomatic(c, defs))
	require.False(t, c.Discount().Active())

	c.AddItem(pricing.Line{ProductID: 1, UnitPrice: d(8000), Quantity: 1})
	require.True(t, ApplyAutomatic(c, defs))
	require.True(t, c.Discount().Active())

	c.RemoveItem(1)
	require.True(t, ApplyAutomatic(c, defs))
	require.False(t, c.Discount().Active())
}

func TestApplyAutomaticPercentEndToEnd(t *testing.T) {
	defs := []Definition{{ID: 9, Name: "10%", Kind: KindPercent, Value: d(10), IsActive: true, IsAutomatic: true}}
	c := pricing.NewCart(pricing.TaxConfig{})
	c.AddItem(pricing.Line{ProductID: 1, UnitPrice: d(15000), Quantity: 3})
	ApplyAutomatic(c, defs)

	s := c.Summary()
	require.True(t, s.Subtotal.Equal(d(45000)))
	require.True(t, s.DiscountAmount.Equal(d(4500)))
	require.True(t, s.TaxableAmount.Equal(d(40500)))
	require.True(t, s.TaxAmount.IsZero())
	require.True(t, s.Total.Equal(d(40500)))
}

func TestManualDiscountSurvivesCartChanges(t *testing.T) {
	auto := Definition{ID: 1, Kind: KindPercent, Value: d(20), IsActive: true, IsAutomatic: true}
	manual := Definition{ID: 2, Name: "Member", Kind: KindNominal, Value: d(1000), IsActive: true}
	defs := []Definition{auto, manual}
	c := cartWith(60000)

	require.NoError(t, ApplyManual(c, manual))
	c.AddItem(pricing.Line{ProductID: 2, UnitPrice: d(40000), Quantity: 1})
	require.False(t, ApplyAutomatic(c, defs))
	require.Equal(t, int64(2), *c.Discount().ID)
	require.True(t, c.Discount().Manual)

	c.Clear()
	c.AddItem(pricing.Line{ProductID: 3, UnitPrice: d(10000), Quantity: 1})
	require.True(t, ApplyAutomatic(c, defs))
	require.Equal(t, int64(1), *c.Discount().ID)
}

func TestManualNoDiscountSuppressesAutomatic(t *testing.T) {
	defs := []Definition{{ID: 1, Kind: KindNominal, Value: d(5000), IsActive: true, IsAutomatic: true}}
	c := cartWith(60000)
	ApplyAutomatic(c, defs)
	require.True(t, c.Discount().Active())

	ClearManual(c)
	require.False(t, ApplyAutomatic(c, defs))
	require.False(t, c.Discount().Active())
	require.True(t, c.DiscountAmount().IsZero())
}

func TestManualDiscountNotRevalidatedWhenCartShrinks(t *testing.T) {
	manual := Definition{ID: 5, Kind: KindNominal, Value: d(30000), MinPurchase: d(100000), IsActive: true}
	c := cartWith(120000)
	require.NoError(t, ApplyManual(c, manual))

	c.SetItemDiscount(1, d(100000))
	ApplyAutomatic(c, []Definition{manual})
	require.Equal(t, int64(5), *c.Discount().ID)
	require.True(t, c.TaxableAmount().IsZero())
}

func TestApplyManualRejections(t *testing.T) {
	c := cartWith(10000)
	err := ApplyManual(c, Definition{ID: 1, Kind: KindNominal, Value: d(1000), MinPurchase: d(50000), IsActive: true})
	require.ErrorIs(t, err, ErrMinimumPurchaseUnmet)

	err = ApplyManual(c, Definition{ID: 2, Kind: KindNominal, Value: d(1000)})
	require.ErrorIs(t, err, ErrInactive)
	require.False(t, c.Discount().Active())
}
