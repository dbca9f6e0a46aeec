package promotion

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReasonCode identifies which eligibility check failed. Each check of the
// evaluation sequence maps to exactly one code so callers (and tests) can
// tell rejections apart.
type ReasonCode string

const (
	ReasonInactive             ReasonCode = "PROMO_INACTIVE"
	ReasonOutsideValidity      ReasonCode = "PROMO_OUTSIDE_VALIDITY"
	ReasonRouteNotEligible     ReasonCode = "PROMO_ROUTE_NOT_ELIGIBLE"
	ReasonFareClassNotEligible ReasonCode = "PROMO_FARE_CLASS_NOT_ELIGIBLE"
	ReasonDayNotEligible       ReasonCode = "PROMO_DAY_NOT_ELIGIBLE"
	ReasonMinPurchaseNotMet    ReasonCode = "PROMO_MIN_PURCHASE_NOT_MET"
	ReasonMinAdvanceNotMet     ReasonCode = "PROMO_MIN_ADVANCE_NOT_MET"
	ReasonFirstTimeOnly        ReasonCode = "PROMO_FIRST_TIME_ONLY"
	ReasonTotalLimitReached    ReasonCode = "PROMO_TOTAL_LIMIT_REACHED"
	ReasonCustomerLimitReached ReasonCode = "PROMO_CUSTOMER_LIMIT_REACHED"
	ReasonDailyLimitReached    ReasonCode = "PROMO_DAILY_LIMIT_REACHED"
)

type ValidationError struct {
	Code    ReasonCode
	Message string
}

func (e ValidationError) Error() string {
	return string(e.Code) + ": " + e.Message
}

type ValidationResult struct {
	IsValid  bool
	Errors   []ValidationError
	Warnings []string
}

func (r *ValidationResult) fail(code ReasonCode, msg string) {
	r.IsValid = false
	r.Errors = append(r.Errors, ValidationError{Code: code, Message: msg})
}

// EvaluateInput carries everything about the redemption attempt that the
// pure eligibility checks need.
type EvaluateInput struct {
	CustomerID          *uuid.UUID
	GuestID             *string
	PurchaseAmount      decimal.Decimal
	Route               string
	FareClass           string
	DepartureDate       time.Time
	BookingDate         time.Time
	IsFirstTimeCustomer bool
}

// RedeemerKey is the identity the per-customer ceiling counts against:
// the customer ID when known, the guest ID otherwise.
func (in EvaluateInput) RedeemerKey() string {
	if in.CustomerID != nil {
		return in.CustomerID.String()
	}
	if in.GuestID != nil {
		return *in.GuestID
	}
	return ""
}

// Counters is a snapshot of the promotion's usage figures as observed at
// evaluation time. It is advisory here; the ledger re-checks all ceilings
// at write time.
type Counters struct {
	Total       int64
	PerRedeemer int64
	PerDay      int64
}

const lowRemainingWarnThreshold = 5

// Evaluate runs the eligibility checks in order and collects one error per
// failed check. Business-rule failures are data, never Go errors.
func Evaluate(p *Promotion, in EvaluateInput, counters Counters) ValidationResult {
	result := ValidationResult{IsValid: true}

	if !p.IsActive {
		result.fail(ReasonInactive, "promotion is not currently active")
	}

	if !p.IsValidAt(in.BookingDate) {
		result.fail(ReasonOutsideValidity, fmt.Sprintf(
			"promotion is valid from %s to %s",
			p.ValidFrom.Format("2006-01-02"), p.ValidTo.Format("2006-01-02")))
	}

	if !memberAllowed(in.Route, p.ApplicableRoutes, p.ExcludedRoutes) {
		result.fail(ReasonRouteNotEligible, "promotion does not apply to route "+in.Route)
	}

	if !memberAllowed(in.FareClass, p.ApplicableFareClasses, p.ExcludedFareClasses) {
		result.fail(ReasonFareClassNotEligible, "promotion does not apply to fare class "+in.FareClass)
	}

	if !dayAllowed(in.DepartureDate.Weekday(), p.ApplicableDays) {
		result.fail(ReasonDayNotEligible, "promotion does not apply to departures on "+in.DepartureDate.Weekday().String())
	}

	if p.MinPurchaseAmount != nil && in.PurchaseAmount.LessThan(*p.MinPurchaseAmount) {
		result.fail(ReasonMinPurchaseNotMet, fmt.Sprintf(
			"minimum purchase amount is %s", p.MinPurchaseAmount.StringFixed(2)))
	}

	if p.MinAdvanceDays != nil {
		advance := int(in.DepartureDate.Sub(in.BookingDate).Hours() / 24)
		if advance < *p.MinAdvanceDays {
			result.fail(ReasonMinAdvanceNotMet, fmt.Sprintf(
				"booking must be made at least %d days before departure", *p.MinAdvanceDays))
		}
	}

	if p.FirstTimeCustomerOnly && !in.IsFirstTimeCustomer {
		result.fail(ReasonFirstTimeOnly, "promotion is for first-time customers only")
	}

	if p.MaxTotalUsage != nil && counters.Total >= *p.MaxTotalUsage {
		result.fail(ReasonTotalLimitReached, "promotion has reached its total usage limit")
	}

	if p.MaxUsagePerCustomer != nil && counters.PerRedeemer >= *p.MaxUsagePerCustomer {
		result.fail(ReasonCustomerLimitReached, fmt.Sprintf(
			"promotion can be used at most %d times per customer", *p.MaxUsagePerCustomer))
	}

	if p.MaxUsagePerDay != nil && counters.PerDay >= *p.MaxUsagePerDay {
		result.fail(ReasonDailyLimitReached, "promotion has reached its daily usage limit")
	}

	if result.IsValid && p.MaxTotalUsage != nil {
		if remaining := *p.MaxTotalUsage - counters.Total; remaining <= lowRemainingWarnThreshold {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"only %d redemptions remaining", remaining))
		}
	}

	return result
}

// memberAllowed applies exclusion first, then the applicable set when it is
// non-empty.
func memberAllowed(value string, applicable, excluded []string) bool {
	for _, v := range excluded {
		if v == value {
			return false
		}
	}
	if len(applicable) == 0 {
		return true
	}
	for _, v := range applicable {
		if v == value {
			return true
		}
	}
	return false
}

func dayAllowed(day time.Weekday, applicable []time.Weekday) bool {
	if len(applicable) == 0 {
		return true
	}
	for _, d := range applicable {
		if d == day {
			return true
		}
	}
	return false
}
