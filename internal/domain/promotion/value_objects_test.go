//go:build unit

package promotion_test

import (
	"testing"

	"promotion-service/internal/domain/promotion"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		errIs error
	}{
		{name: "valid code kept as is", input: "WELCOME10", want: "WELCOME10"},
		{name: "lowercase is normalized", input: "welcome10", want: "WELCOME10"},
		{name: "surrounding whitespace is trimmed", input: "  FLAT50  ", want: "FLAT50"},
		{name: "minimum length", input: "AB1", want: "AB1"},
		{name: "maximum length", input: "ABCDEFGHIJ1234567890", want: "ABCDEFGHIJ1234567890"},
		{name: "too short", input: "AB", errIs: promotion.ErrInvalidCode},
		{name: "too long", input: "ABCDEFGHIJ12345678901", errIs: promotion.ErrInvalidCode},
		{name: "special characters rejected", input: "SUMMER-10", errIs: promotion.ErrInvalidCode},
		{name: "inner whitespace rejected", input: "WELCOME 10", errIs: promotion.ErrInvalidCode},
		{name: "empty", input: "", errIs: promotion.ErrInvalidCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := promotion.NewCode(tt.input)
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, code.String())
		})
	}
}

func TestNewDiscount(t *testing.T) {
	negative := decimal.NewFromInt(-1)

	tests := []struct {
		name        string
		kind        promotion.DiscountType
		value       decimal.Decimal
		maxDiscount *decimal.Decimal
		errIs       error
	}{
		{name: "valid percentage", kind: promotion.DiscountPercentage, value: decimal.NewFromInt(10)},
		{name: "percentage of 100", kind: promotion.DiscountPercentage, value: decimal.NewFromInt(100)},
		{name: "percentage above 100", kind: promotion.DiscountPercentage, value: decimal.NewFromInt(101), errIs: promotion.ErrInvalidDiscountPercent},
		{name: "negative percentage", kind: promotion.DiscountPercentage, value: decimal.NewFromInt(-5), errIs: promotion.ErrInvalidDiscountPercent},
		{name: "valid fixed amount", kind: promotion.DiscountFixedAmount, value: decimal.NewFromInt(50)},
		{name: "negative fixed amount", kind: promotion.DiscountFixedAmount, value: decimal.NewFromInt(-50), errIs: promotion.ErrInvalidDiscountValue},
		{name: "buy one get one ignores value", kind: promotion.DiscountBuyOneGetOne, value: decimal.Zero},
		{name: "unknown type", kind: promotion.DiscountType("half_off"), value: decimal.NewFromInt(10), errIs: promotion.ErrInvalidDiscountType},
		{name: "negative max discount", kind: promotion.DiscountPercentage, value: decimal.NewFromInt(10), maxDiscount: &negative, errIs: promotion.ErrInvalidDiscountValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := promotion.NewDiscount(tt.kind, tt.value, tt.maxDiscount)
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestDiscountAmount(t *testing.T) {
	maxFifty := decimal.NewFromInt(50)

	tests := []struct {
		name        string
		kind        promotion.DiscountType
		value       decimal.Decimal
		maxDiscount *decimal.Decimal
		purchase    decimal.Decimal
		want        string
	}{
		{
			name: "ten percent below cap",
			kind: promotion.DiscountPercentage, value: decimal.NewFromInt(10), maxDiscount: &maxFifty,
			purchase: decimal.NewFromInt(200), want: "20",
		},
		{
			name: "ten percent exactly at cap",
			kind: promotion.DiscountPercentage, value: decimal.NewFromInt(10), maxDiscount: &maxFifty,
			purchase: decimal.NewFromInt(500), want: "50",
		},
		{
			name: "ten percent clamped to cap",
			kind: promotion.DiscountPercentage, value: decimal.NewFromInt(10), maxDiscount: &maxFifty,
			purchase: decimal.NewFromInt(900), want: "50",
		},
		{
			name: "percentage rounds to minor unit",
			kind: promotion.DiscountPercentage, value: decimal.NewFromInt(10),
			purchase: decimal.RequireFromString("99.99"), want: "10",
		},
		{
			name: "fixed amount",
			kind: promotion.DiscountFixedAmount, value: decimal.NewFromInt(50),
			purchase: decimal.NewFromInt(120), want: "50",
		},
		{
			name: "fixed amount never exceeds purchase",
			kind: promotion.DiscountFixedAmount, value: decimal.NewFromInt(50),
			purchase: decimal.NewFromInt(30), want: "30",
		},
		{
			name: "buy one get one is half price",
			kind: promotion.DiscountBuyOneGetOne, value: decimal.Zero,
			purchase: decimal.NewFromInt(100), want: "50",
		},
		{
			name: "zero purchase gives zero discount",
			kind: promotion.DiscountPercentage, value: decimal.NewFromInt(10),
			purchase: decimal.Zero, want: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			discount, err := promotion.NewDiscount(tt.kind, tt.value, tt.maxDiscount)
			require.NoError(t, err)

			got := discount.Amount(tt.purchase)
			want := decimal.RequireFromString(tt.want)
			assert.True(t, got.Equal(want), "got %s, want %s", got.String(), want.String())
			assert.False(t, got.IsNegative())
			assert.True(t, got.LessThanOrEqual(tt.purchase))
		})
	}
}
