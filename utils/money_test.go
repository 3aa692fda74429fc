package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundMoney(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.0000005", "1.000001"},
		{"1.0000004", "1"},
		{"-1.0000005", "-1.000001"},
		{"100", "100"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := RoundMoney(decimal.RequireFromString(tt.in))
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestApplyRate(t *testing.T) {
	amount := MustMoney("1000")
	assert.True(t, ApplyRate(amount, decimal.RequireFromString("0.10")).Equal(MustMoney("100")))
	assert.True(t, ApplyRate(amount, decimal.RequireFromString("0.08")).Equal(MustMoney("80")))
	assert.True(t, ApplyRate(MustMoney("0.333333"), decimal.RequireFromString("0.02")).Equal(MustMoney("0.006667")))
}

func TestParseMoney(t *testing.T) {
	d, err := ParseMoney(" 12.3456789 ")
	require.NoError(t, err)
	assert.Equal(t, "12.345679", d.String())

	d, err = ParseMoney("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = ParseMoney("12,5")
	assert.Error(t, err)
}

func TestIsMoneyPrecise(t *testing.T) {
	assert.True(t, IsMoneyPrecise(MustMoney("1.123456")))
	assert.False(t, IsMoneyPrecise(decimal.RequireFromString("1.1234567")))
}
