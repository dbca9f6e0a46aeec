package response

import (
	"time"

	"promotion-service/internal/domain/promotion"
	"promotion-service/internal/usecase/commands"
	"promotion-service/internal/usecase/queries"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/shopspring/decimal"
)

type ValidationErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationResponse struct {
	Valid             bool                      `json:"valid"`
	Errors            []ValidationErrorResponse `json:"errors,omitempty"`
	Warnings          []string                  `json:"warnings,omitempty"`
	EstimatedDiscount decimal.Decimal           `json:"estimated_discount"`
	RemainingUsage    *int64                    `json:"remaining_usage,omitempty"`
}

type RedemptionResponse struct {
	Success        bool                      `json:"success"`
	UsageID        *uuid.UUID                `json:"usage_id,omitempty"`
	DiscountAmount decimal.Decimal           `json:"discount_amount"`
	RemainingUsage *int64                    `json:"remaining_usage,omitempty"`
	UsedAt         *time.Time                `json:"used_at,omitempty"`
	Replayed       bool                      `json:"replayed,omitempty"`
	FailureCode    string                    `json:"failure_code,omitempty"`
	FailureReasons []ValidationErrorResponse `json:"failure_reasons,omitempty"`
}

type ApplyResponse struct {
	Success         bool                      `json:"success"`
	UsageID         *uuid.UUID                `json:"usage_id,omitempty"`
	DiscountApplied decimal.Decimal           `json:"discount_applied"`
	FinalAmount     decimal.Decimal           `json:"final_amount"`
	RemainingUsage  *int64                    `json:"remaining_usage,omitempty"`
	UsedAt          *time.Time                `json:"used_at,omitempty"`
	Replayed        bool                      `json:"replayed,omitempty"`
	FailureCode     string                    `json:"failure_code,omitempty"`
	FailureReasons  []ValidationErrorResponse `json:"failure_reasons,omitempty"`
}

type ReversalResponse struct {
	Reversed bool `json:"reversed"`
}

type AvailablePromotionResponse struct {
	Code              string          `json:"code"`
	EstimatedDiscount decimal.Decimal `json:"estimated_discount"`
	RemainingUsage    *int64          `json:"remaining_usage,omitempty"`
	Terms             string          `json:"terms"`
}

func FromValidateResult(result *commands.ValidateResult) *ValidationResponse {
	return &ValidationResponse{
		Valid:             result.Validation.IsValid,
		Errors:            fromValidationErrors(result.Validation.Errors),
		Warnings:          result.Validation.Warnings,
		EstimatedDiscount: result.EstimatedDiscount,
		RemainingUsage:    result.RemainingUsage,
	}
}

func FromRedemptionResult(result *commands.RedemptionResult) *RedemptionResponse {
	resp := &RedemptionResponse{
		Success:        result.Success,
		DiscountAmount: result.DiscountAmount,
		RemainingUsage: result.RemainingUsage,
		Replayed:       result.Replayed,
		FailureCode:    string(result.FailureCode),
		FailureReasons: fromValidationErrors(result.FailureReasons),
	}
	if result.Success {
		usageID := result.UsageID
		usedAt := result.UsedAt
		resp.UsageID = &usageID
		resp.UsedAt = &usedAt
	}
	return resp
}

func FromApplyResult(result *commands.ApplyResult) *ApplyResponse {
	resp := &ApplyResponse{
		Success:         result.Success,
		DiscountApplied: result.DiscountApplied,
		FinalAmount:     result.FinalAmount,
		RemainingUsage:  result.RemainingUsage,
		Replayed:        result.Replayed,
		FailureCode:     string(result.FailureCode),
		FailureReasons:  fromValidationErrors(result.FailureReasons),
	}
	if result.Success {
		usageID := result.UsageID
		usedAt := result.UsedAt
		resp.UsageID = &usageID
		resp.UsedAt = &usedAt
	}
	return resp
}

func FromAvailablePromotions(views []queries.AvailablePromotionView) []AvailablePromotionResponse {
	out := make([]AvailablePromotionResponse, 0, len(views))
	_ = copier.Copy(&out, &views)
	return out
}

func fromValidationErrors(errors []promotion.ValidationError) []ValidationErrorResponse {
	if len(errors) == 0 {
		return nil
	}
	out := make([]ValidationErrorResponse, 0, len(errors))
	_ = copier.Copy(&out, &errors)
	return out
}
