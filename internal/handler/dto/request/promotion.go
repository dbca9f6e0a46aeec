package request

import (
	"strings"
	"time"

	"promotion-service/internal/usecase/commands"
	"promotion-service/internal/usecase/queries"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ValidatePromotionRequest struct {
	Code                string          `json:"code" binding:"required"`
	CustomerID          *uuid.UUID      `json:"customer_id,omitempty"`
	GuestID             *string         `json:"guest_id,omitempty"`
	PurchaseAmount      decimal.Decimal `json:"purchase_amount"`
	Route               string          `json:"route"`
	FareClass           string          `json:"fare_class"`
	DepartureDate       time.Time       `json:"departure_date" binding:"required"`
	BookingDate         *time.Time      `json:"booking_date,omitempty"`
	IsFirstTimeCustomer bool            `json:"is_first_time_customer"`
}

// GetGuestID drops empty or whitespace-only guest identifiers so the
// redeemer rules see a clean customer-or-guest choice.
func (r ValidatePromotionRequest) GetGuestID() *string {
	if r.GuestID == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*r.GuestID)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (r ValidatePromotionRequest) ToParams(now time.Time) commands.ValidateParams {
	bookingDate := now
	if r.BookingDate != nil {
		bookingDate = *r.BookingDate
	}
	return commands.ValidateParams{
		Code:                r.Code,
		CustomerID:          r.CustomerID,
		GuestID:             r.GetGuestID(),
		PurchaseAmount:      r.PurchaseAmount,
		Route:               r.Route,
		FareClass:           r.FareClass,
		DepartureDate:       r.DepartureDate,
		BookingDate:         bookingDate,
		IsFirstTimeCustomer: r.IsFirstTimeCustomer,
	}
}

type RedeemPromotionRequest struct {
	ValidatePromotionRequest
	BookingID uuid.UUID `json:"booking_id" binding:"required"`
	UsedBy    string    `json:"used_by"`
}

func (r RedeemPromotionRequest) ToParams(now time.Time, ipAddress, userAgent *string) commands.ApplyParams {
	return commands.ApplyParams{
		ValidateParams: r.ValidatePromotionRequest.ToParams(now),
		BookingID:      r.BookingID,
		UsedBy:         r.actor(),
		IPAddress:      ipAddress,
		UserAgent:      userAgent,
	}
}

func (r RedeemPromotionRequest) actor() string {
	if r.UsedBy != "" {
		return r.UsedBy
	}
	if r.CustomerID != nil {
		return r.CustomerID.String()
	}
	if g := r.GetGuestID(); g != nil {
		return *g
	}
	return "anonymous"
}

// RecordUsageRequest books a usage whose discount was already settled by an
// earlier validation; the service still re-checks every ceiling.
type RecordUsageRequest struct {
	Code           string          `json:"code" binding:"required"`
	BookingID      uuid.UUID       `json:"booking_id" binding:"required"`
	CustomerID     *uuid.UUID      `json:"customer_id,omitempty"`
	GuestID        *string         `json:"guest_id,omitempty"`
	PurchaseAmount decimal.Decimal `json:"purchase_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	UsedBy         string          `json:"used_by"`
}

func (r RecordUsageRequest) GetGuestID() *string {
	if r.GuestID == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*r.GuestID)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (r RecordUsageRequest) ToParams(ipAddress, userAgent *string) commands.RecordUsageParams {
	usedBy := r.UsedBy
	if usedBy == "" {
		if r.CustomerID != nil {
			usedBy = r.CustomerID.String()
		} else if g := r.GetGuestID(); g != nil {
			usedBy = *g
		} else {
			usedBy = "anonymous"
		}
	}
	return commands.RecordUsageParams{
		Code:           r.Code,
		BookingID:      r.BookingID,
		CustomerID:     r.CustomerID,
		GuestID:        r.GetGuestID(),
		PurchaseAmount: r.PurchaseAmount,
		DiscountAmount: r.DiscountAmount,
		UsedBy:         usedBy,
		IPAddress:      ipAddress,
		UserAgent:      userAgent,
	}
}

type ReverseUsageRequest struct {
	ReversedBy string  `json:"reversed_by"`
	Reason     *string `json:"reason,omitempty"`
}

type AvailablePromotionsQuery struct {
	CustomerID          string    `form:"customer_id"`
	GuestID             string    `form:"guest_id"`
	Route               string    `form:"route"`
	FareClass           string    `form:"fare_class"`
	DepartureDate       time.Time `form:"departure_date" time_format:"2006-01-02"`
	EstimatedAmount     string    `form:"estimated_amount"`
	IsFirstTimeCustomer bool      `form:"is_first_time_customer"`
}

func (r AvailablePromotionsQuery) ToParams() (queries.AvailablePromotionsParams, error) {
	params := queries.AvailablePromotionsParams{
		Route:               r.Route,
		FareClass:           r.FareClass,
		DepartureDate:       r.DepartureDate,
		IsFirstTimeCustomer: r.IsFirstTimeCustomer,
	}

	if r.CustomerID != "" {
		id, err := uuid.Parse(r.CustomerID)
		if err != nil {
			return params, err
		}
		params.CustomerID = &id
	}
	if guestID := strings.TrimSpace(r.GuestID); guestID != "" {
		params.GuestID = &guestID
	}
	if r.EstimatedAmount != "" {
		amount, err := decimal.NewFromString(r.EstimatedAmount)
		if err != nil {
			return params, err
		}
		params.EstimatedAmount = &amount
	}
	return params, nil
}
