// Package money formats and rounds rupiah amounts for display and submission.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Symbol is the display prefix for rupiah amounts.
const Symbol = "Rp"

// ErrInvalidAmount is returned when an entered amount cannot be parsed.
var ErrInvalidAmount = errors.New("money: invalid amount")

// Round rounds to the nearest whole rupiah, half away from zero.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(0)
}

// FormatNumber renders the rounded amount with id-ID digit grouping, e.g. 1.234.567.
func FormatNumber(amount decimal.Decimal) string {
	p := message.NewPrinter(language.Indonesian)
	return p.Sprintf("%d", Round(amount).IntPart())
}

// Format renders an amount the way receipts and the cart panel show it: "Rp 45.000".
func Format(amount decimal.Decimal) string {
	rounded := Round(amount)
	if rounded.IsNegative() {
		return "-" + Symbol + " " + FormatNumber(rounded.Abs())
	}
	return Symbol + " " + FormatNumber(rounded)
}

// Parse reads a cashier-entered amount. It accepts an optional "Rp" prefix,
// "." thousands separators and "," as the decimal mark.
func Parse(input string) (decimal.Decimal, error) {
	s := strings.TrimSpace(input)
	if len(s) >= len(Symbol) && strings.EqualFold(s[:len(Symbol)], Symbol) {
		s = s[len(Symbol):]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '.':
			return -1
		case ',':
			return '.'
		}
		return r
	}, s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}
