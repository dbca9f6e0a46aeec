package api

import (
	"errors"
	"net/http"

	reqdto "promotion-service/internal/handler/dto/request"
	resdto "promotion-service/internal/handler/dto/response"
	"promotion-service/internal/handler/httperr"
	"promotion-service/internal/pkg/clock"
	"promotion-service/internal/pkg/errs"
	"promotion-service/internal/usecase/commands"
	"promotion-service/internal/usecase/queries"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type PromotionHandler struct {
	cmds  commands.RedemptionCommands
	q     queries.PromotionQueries
	clock clock.Clock
}

func NewPromotionHandler(cmds commands.RedemptionCommands, q queries.PromotionQueries, clk clock.Clock) *PromotionHandler {
	return &PromotionHandler{cmds: cmds, q: q, clock: clk}
}

// @Summary Validate promotion
// @Description Check whether a promotion code can be redeemed for a booking, without recording anything
// @Tags promotions
// @Accept json
// @Produce json
// @Param request body reqdto.ValidatePromotionRequest true "Validation request"
// @Success 200 {object} resdto.ValidationResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /promotions/validate [post]
func (h *PromotionHandler) Validate(c *gin.Context) {
	var req reqdto.ValidatePromotionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.AbortWithError(c, http.StatusBadRequest, err, "Invalid request", nil)
		return
	}

	result, err := h.cmds.Validate(c.Request.Context(), req.ToParams(h.clock.Now()))
	if err != nil {
		h.abortWithDomainError(c, err, "Validation failed")
		return
	}
	c.JSON(http.StatusOK, resdto.FromValidateResult(result))
}

// @Summary Redeem promotion
// @Description Validate a promotion and record its usage in one atomic step
// @Tags promotions
// @Accept json
// @Produce json
// @Param request body reqdto.RedeemPromotionRequest true "Redemption request"
// @Success 200 {object} resdto.ApplyResponse
// @Failure 400 {object} resdto.ApplyResponse
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 422 {object} resdto.ApplyResponse
// @Router /promotions/redeem [post]
func (h *PromotionHandler) Redeem(c *gin.Context) {
	var req reqdto.RedeemPromotionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.AbortWithError(c, http.StatusBadRequest, err, "Invalid request", nil)
		return
	}

	result, err := h.cmds.ValidateAndApply(c.Request.Context(), req.ToParams(h.clock.Now(), clientIP(c), userAgent(c)))
	if err != nil {
		h.abortWithDomainError(c, err, "Redemption failed")
		return
	}
	c.JSON(statusForFailure(result.Success, result.FailureCode), resdto.FromApplyResult(result))
}

// @Summary Record promotion usage
// @Description Record a usage whose discount was settled by an earlier validation
// @Tags promotions
// @Accept json
// @Produce json
// @Param request body reqdto.RecordUsageRequest true "Usage record request"
// @Success 201 {object} resdto.RedemptionResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 422 {object} resdto.RedemptionResponse
// @Router /promotions/usages [post]
func (h *PromotionHandler) RecordUsage(c *gin.Context) {
	var req reqdto.RecordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.AbortWithError(c, http.StatusBadRequest, err, "Invalid request", nil)
		return
	}

	result, err := h.cmds.RecordUsage(c.Request.Context(), req.ToParams(clientIP(c), userAgent(c)))
	if err != nil {
		h.abortWithDomainError(c, err, "Usage recording failed")
		return
	}
	if !result.Success {
		c.JSON(statusForFailure(false, result.FailureCode), resdto.FromRedemptionResult(result))
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, resdto.FromRedemptionResult(result))
}

// @Summary Reverse promotion usage
// @Description Reverse the recorded usage for a booking, releasing its usage slot
// @Tags promotions
// @Accept json
// @Produce json
// @Param bookingID path string true "Booking ID"
// @Param request body reqdto.ReverseUsageRequest false "Reversal details"
// @Success 200 {object} resdto.ReversalResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /promotions/usages/{bookingID} [delete]
func (h *PromotionHandler) ReverseUsage(c *gin.Context) {
	bookingID, err := uuid.Parse(c.Param("bookingID"))
	if err != nil {
		httperr.AbortWithError(c, http.StatusBadRequest, err, "Invalid booking id", nil)
		return
	}

	var req reqdto.ReverseUsageRequest
	if c.Request.ContentLength > 0 {
		if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
			httperr.AbortWithError(c, http.StatusBadRequest, bindErr, "Invalid request", nil)
			return
		}
	}
	reversedBy := req.ReversedBy
	if reversedBy == "" {
		reversedBy = "system"
	}

	reversed, err := h.cmds.ReverseUsage(c.Request.Context(), bookingID, reversedBy, req.Reason)
	if err != nil {
		h.abortWithDomainError(c, err, "Reversal failed")
		return
	}
	c.JSON(http.StatusOK, resdto.ReversalResponse{Reversed: reversed})
}

// @Summary List available promotions
// @Description List the promotions a booking could redeem right now, best discount first
// @Tags promotions
// @Produce json
// @Param customer_id query string false "Customer ID"
// @Param guest_id query string false "Guest ID"
// @Param route query string false "Route"
// @Param fare_class query string false "Fare class"
// @Param departure_date query string false "Departure date (YYYY-MM-DD)"
// @Param estimated_amount query string false "Estimated purchase amount"
// @Param is_first_time_customer query bool false "First-time customer"
// @Success 200 {array} resdto.AvailablePromotionResponse
// @Failure 400 {object} map[string]string
// @Router /promotions/available [get]
func (h *PromotionHandler) ListAvailable(c *gin.Context) {
	var query reqdto.AvailablePromotionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		httperr.AbortWithError(c, http.StatusBadRequest, err, "Invalid query", nil)
		return
	}
	params, err := query.ToParams()
	if err != nil {
		httperr.AbortWithError(c, http.StatusBadRequest, err, "Invalid query", nil)
		return
	}
	if params.DepartureDate.IsZero() {
		params.DepartureDate = h.clock.Now()
	}

	views, err := h.q.GetAvailablePromotions(c.Request.Context(), params)
	if err != nil {
		httperr.AbortWithError(c, http.StatusInternalServerError, err, "Failed to list promotions", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"promotions": resdto.FromAvailablePromotions(views)})
}

// abortWithDomainError maps the command error taxonomy onto HTTP statuses:
// unknown code or booking is 404, lock contention is 409, everything else
// surfaces as an internal failure.
func (h *PromotionHandler) abortWithDomainError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, errs.ErrPromotionNotFound):
		httperr.AbortWithError(c, http.StatusNotFound, err, "Promotion not found", nil)
	case errors.Is(err, errs.ErrReversalNotFound):
		httperr.AbortWithError(c, http.StatusNotFound, err, "No usage recorded for booking", nil)
	case errors.Is(err, errs.ErrConcurrencyConflict):
		httperr.AbortWithError(c, http.StatusConflict, err, "Concurrent redemption in progress, retry shortly", nil)
	case errors.Is(err, errs.ErrValidationFailed):
		httperr.AbortWithError(c, http.StatusBadRequest, err, msg, nil)
	default:
		httperr.AbortWithError(c, http.StatusInternalServerError, err, "Internal error", nil)
	}
}

func statusForFailure(success bool, code commands.FailureCode) int {
	if success {
		return http.StatusOK
	}
	if code == commands.FailureLimitExceeded {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}

func clientIP(c *gin.Context) *string {
	if ip := c.ClientIP(); ip != "" {
		return &ip
	}
	return nil
}

func userAgent(c *gin.Context) *string {
	if ua := c.Request.UserAgent(); ua != "" {
		return &ua
	}
	return nil
}
