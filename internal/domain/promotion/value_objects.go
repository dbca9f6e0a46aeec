package promotion

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidCode            = errors.New("invalid promotion code format")
	ErrInvalidDiscountType    = errors.New("unknown discount type")
	ErrInvalidDiscountValue   = errors.New("discount value cannot be negative")
	ErrInvalidDiscountPercent = errors.New("percentage discount must be between 0 and 100")
)

// Codes are human-entered and case-insensitive; they are normalized to
// upper case before any comparison or storage lookup.
var codeRegex = regexp.MustCompile(`^[A-Z0-9]{3,20}$`)

type Code string

func NewCode(code string) (Code, error) {
	code = strings.TrimSpace(strings.ToUpper(code))
	if !codeRegex.MatchString(code) {
		return Code(""), ErrInvalidCode
	}
	return Code(code), nil
}

func (c Code) String() string {
	return string(c)
}

type DiscountType string

const (
	DiscountPercentage   DiscountType = "percentage"
	DiscountFixedAmount  DiscountType = "fixed_amount"
	DiscountBuyOneGetOne DiscountType = "buy_one_get_one"
)

type Discount struct {
	kind        DiscountType
	value       decimal.Decimal
	maxDiscount *decimal.Decimal
}

func NewDiscount(kind DiscountType, value decimal.Decimal, maxDiscount *decimal.Decimal) (Discount, error) {
	switch kind {
	case DiscountPercentage:
		if value.IsNegative() || value.GreaterThan(decimal.NewFromInt(100)) {
			return Discount{}, ErrInvalidDiscountPercent
		}
	case DiscountFixedAmount:
		if value.IsNegative() {
			return Discount{}, ErrInvalidDiscountValue
		}
	case DiscountBuyOneGetOne:
		// value is ignored; half the purchase amount is discounted
	default:
		return Discount{}, ErrInvalidDiscountType
	}
	if maxDiscount != nil && maxDiscount.IsNegative() {
		return Discount{}, ErrInvalidDiscountValue
	}
	return Discount{kind: kind, value: value, maxDiscount: maxDiscount}, nil
}

func (d Discount) Type() DiscountType { return d.kind }

func (d Discount) Value() decimal.Decimal { return d.value }

func (d Discount) MaxDiscount() *decimal.Decimal { return d.maxDiscount }

// Amount computes the discount for a purchase, clamped to
// [0, min(purchaseAmount, maxDiscount)] and rounded to the currency's
// minor unit.
func (d Discount) Amount(purchaseAmount decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch d.kind {
	case DiscountPercentage:
		amount = purchaseAmount.Mul(d.value).Div(decimal.NewFromInt(100))
	case DiscountFixedAmount:
		amount = d.value
	case DiscountBuyOneGetOne:
		amount = purchaseAmount.Div(decimal.NewFromInt(2))
	}

	cap := purchaseAmount
	if d.maxDiscount != nil && d.maxDiscount.LessThan(cap) {
		cap = *d.maxDiscount
	}
	if amount.GreaterThan(cap) {
		amount = cap
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Round(2)
}
