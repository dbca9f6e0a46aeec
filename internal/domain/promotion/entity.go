package promotion

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Promotion is the configuration+counter aggregate. The configuration part
// is immutable inside this core (administrative tooling owns edits); the
// only mutable piece is the materialized usage counter, which is updated
// exclusively through the ledger's conditional writes.
type Promotion struct {
	ID      uuid.UUID
	Code    Code
	Version int64

	Discount Discount

	ValidFrom time.Time
	ValidTo   time.Time

	// Eligibility filters. Empty applicable sets mean "no restriction".
	ApplicableRoutes      []string
	ExcludedRoutes        []string
	ApplicableFareClasses []string
	ExcludedFareClasses   []string
	ApplicableDays        []time.Weekday
	MinPurchaseAmount     *decimal.Decimal
	MinAdvanceDays        *int
	FirstTimeCustomerOnly bool

	// Usage ceilings; nil means unlimited.
	MaxTotalUsage       *int64
	MaxUsagePerCustomer *int64
	MaxUsagePerDay      *int64

	IsActive bool

	CurrentTotalUsage int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsValidAt reports whether t falls inside the validity window. Both ends
// are inclusive for this domain.
func (p *Promotion) IsValidAt(t time.Time) bool {
	if t.Before(p.ValidFrom) {
		return false
	}
	if t.After(p.ValidTo) {
		return false
	}
	return true
}

func (p *Promotion) IsTotalLimitReached() bool {
	if p.MaxTotalUsage == nil {
		return false
	}
	return p.CurrentTotalUsage >= *p.MaxTotalUsage
}

// RemainingUsage returns the number of redemptions left under the global
// ceiling, or nil when the promotion is unlimited.
func (p *Promotion) RemainingUsage() *int64 {
	if p.MaxTotalUsage == nil {
		return nil
	}
	remaining := *p.MaxTotalUsage - p.CurrentTotalUsage
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// CalculateDiscount computes the discount this promotion grants for a
// purchase amount, already clamped and rounded by the Discount value object.
func (p *Promotion) CalculateDiscount(purchaseAmount decimal.Decimal) decimal.Decimal {
	return p.Discount.Amount(purchaseAmount)
}
