package util

import (
	"strings"

	"github.com/shopspring/decimal"
)

var numberNoise = strings.NewReplacer(",", "", " ", "", "\u00a0", "", "₩", "", "원", "")

// ParseDecimal parses a spreadsheet number, tolerating thousands separators
// and currency marks. ok is false for blank or unparseable input.
func ParseDecimal(input string) (decimal.Decimal, bool) {
	s := numberNoise.Replace(strings.TrimSpace(input))
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// DecimalOrZero is ParseDecimal with failures folded to zero.
func DecimalOrZero(input string) decimal.Decimal {
	d, _ := ParseDecimal(input)
	return d
}

// FormatKRW renders an amount as whole won with thousands separators.
func FormatKRW(amount decimal.Decimal) string {
	s := amount.Round(0).String()
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := "₩" + b.String()
	if neg {
		out = "-" + out
	}
	return out
}
