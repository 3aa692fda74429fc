package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits every persisted amount is rounded to.
const MoneyScale int32 = 6

// RoundMoney rounds half away from zero to MoneyScale fractional digits.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// ApplyRate returns round(amount * rate).
func ApplyRate(amount, rate decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Mul(rate))
}

// ParseMoney parses a decimal string and rounds it to MoneyScale. Empty input is zero.
func ParseMoney(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return RoundMoney(d), nil
}

// MustMoney is ParseMoney for constants and tests.
func MustMoney(s string) decimal.Decimal {
	d, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsMoneyPrecise reports whether d carries no digits beyond MoneyScale.
func IsMoneyPrecise(d decimal.Decimal) bool {
	return d.Equal(RoundMoney(d))
}
