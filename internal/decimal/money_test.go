package decimal_test

import (
	"testing"

	dec "github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/invoice-compliance/internal/decimal"
)

func TestFromString(t *testing.T) {
	d, err := decimal.FromString("123456.78")
	require.NoError(t, err)
	assert.True(t, d.Equal(dec.RequireFromString("123456.78")))

	_, err = decimal.FromString("not-a-number")
	require.Error(t, err)
}

func TestMustFromString(t *testing.T) {
	d := decimal.MustFromString("999.99")
	assert.True(t, d.Equal(dec.RequireFromString("999.99")))

	assert.Panics(t, func() {
		decimal.MustFromString("invalid")
	})
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"1000", "1000.00"},
		{"1000.5", "1000.50"},
		{"0", "0.00"},
		{"12.345", "12.35"},
		{"-3.1", "-3.10"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, decimal.FormatAmount(dec.RequireFromString(tt.in)))
		})
	}
}

func TestRound2(t *testing.T) {
	assert.True(t, decimal.Round2(dec.RequireFromString("1.005")).Equal(dec.RequireFromString("1.01")))
	assert.True(t, decimal.Round2(dec.RequireFromString("1.004")).Equal(dec.RequireFromString("1")))
}

func TestSum(t *testing.T) {
	values := []dec.Decimal{
		dec.RequireFromString("826.45"),
		dec.RequireFromString("173.55"),
	}
	assert.Equal(t, "1000.00", decimal.FormatAmount(decimal.Sum(values)))
	assert.True(t, decimal.Sum(nil).IsZero())
}

func TestEqualWithinCent(t *testing.T) {
	a := dec.RequireFromString("100.00")
	assert.True(t, decimal.EqualWithinCent(a, dec.RequireFromString("100.01")))
	assert.True(t, decimal.EqualWithinCent(a, dec.RequireFromString("99.99")))
	assert.False(t, decimal.EqualWithinCent(a, dec.RequireFromString("100.02")))
}

func TestIsNonNegative(t *testing.T) {
	assert.True(t, decimal.IsNonNegative(decimal.Zero))
	assert.False(t, decimal.IsNonNegative(dec.NewFromInt(-1)))
}
