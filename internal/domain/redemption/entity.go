package redemption

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrRedeemerRequired        = errors.New("exactly one of customer ID or guest ID must identify the redeemer")
	ErrNegativeAmount          = errors.New("amounts cannot be negative")
	ErrDiscountExceedsPurchase = errors.New("discount cannot exceed the purchase amount")
	ErrAlreadyReversed         = errors.New("usage is already reversed")
)

// Usage is one record of a successful redemption. It is append-only:
// reversal is a state transition, never a delete, so the ledger history
// stays intact for the total-usage invariant and for audit.
type Usage struct {
	ID          uuid.UUID
	PromotionID uuid.UUID

	// BookingID is the natural idempotency key: at most one non-reversed
	// usage exists per booking.
	BookingID uuid.UUID

	CustomerID *uuid.UUID
	GuestID    *string

	PurchaseAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	UsedAt         time.Time
	UsedBy         string

	IPAddress *string
	UserAgent *string

	IsReversed     bool
	ReversedAt     *time.Time
	ReversedBy     *string
	ReversalReason *string
}

func NewUsage(
	promotionID, bookingID uuid.UUID,
	customerID *uuid.UUID,
	guestID *string,
	purchaseAmount, discountAmount decimal.Decimal,
	usedBy string,
	usedAt time.Time,
) (*Usage, error) {
	if (customerID == nil) == (guestID == nil) {
		return nil, ErrRedeemerRequired
	}
	if purchaseAmount.IsNegative() || discountAmount.IsNegative() {
		return nil, ErrNegativeAmount
	}
	if discountAmount.GreaterThan(purchaseAmount) {
		return nil, ErrDiscountExceedsPurchase
	}

	return &Usage{
		ID:             uuid.New(),
		PromotionID:    promotionID,
		BookingID:      bookingID,
		CustomerID:     customerID,
		GuestID:        guestID,
		PurchaseAmount: purchaseAmount,
		DiscountAmount: discountAmount,
		UsedBy:         usedBy,
		UsedAt:         usedAt,
	}, nil
}

// RedeemerKey returns the identity the per-customer ceiling counts against.
func (u *Usage) RedeemerKey() string {
	if u.CustomerID != nil {
		return u.CustomerID.String()
	}
	if u.GuestID != nil {
		return *u.GuestID
	}
	return ""
}

// Reverse transitions the usage into its reversed state. It fails when the
// usage was already reversed, keeping reversal idempotent at the domain level.
func (u *Usage) Reverse(reversedBy string, reason *string, at time.Time) error {
	if u.IsReversed {
		return ErrAlreadyReversed
	}
	u.IsReversed = true
	u.ReversedAt = &at
	u.ReversedBy = &reversedBy
	u.ReversalReason = reason
	return nil
}
