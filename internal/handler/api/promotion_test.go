//go:build unit

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"promotion-service/internal/domain/promotion"
	"promotion-service/internal/handler/api"
	"promotion-service/internal/pkg/clock"
	"promotion-service/internal/pkg/errs"
	"promotion-service/internal/usecase/commands"
	"promotion-service/internal/usecase/queries"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCommands struct {
	validateFn func(ctx context.Context, params commands.ValidateParams) (*commands.ValidateResult, error)
	recordFn   func(ctx context.Context, params commands.RecordUsageParams) (*commands.RedemptionResult, error)
	applyFn    func(ctx context.Context, params commands.ApplyParams) (*commands.ApplyResult, error)
	reverseFn  func(ctx context.Context, bookingID uuid.UUID, reversedBy string, reason *string) (bool, error)
}

func (s *stubCommands) Validate(ctx context.Context, params commands.ValidateParams) (*commands.ValidateResult, error) {
	return s.validateFn(ctx, params)
}

func (s *stubCommands) RecordUsage(ctx context.Context, params commands.RecordUsageParams) (*commands.RedemptionResult, error) {
	return s.recordFn(ctx, params)
}

func (s *stubCommands) ValidateAndApply(ctx context.Context, params commands.ApplyParams) (*commands.ApplyResult, error) {
	return s.applyFn(ctx, params)
}

func (s *stubCommands) ReverseUsage(ctx context.Context, bookingID uuid.UUID, reversedBy string, reason *string) (bool, error) {
	return s.reverseFn(ctx, bookingID, reversedBy, reason)
}

type stubQueries struct {
	listFn func(ctx context.Context, params queries.AvailablePromotionsParams) ([]queries.AvailablePromotionView, error)
}

func (s *stubQueries) GetAvailablePromotions(ctx context.Context, params queries.AvailablePromotionsParams) ([]queries.AvailablePromotionView, error) {
	return s.listFn(ctx, params)
}

var handlerTestNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRouter(cmds commands.RedemptionCommands, q queries.PromotionQueries) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := api.NewPromotionHandler(cmds, q, clock.NewMockClock(handlerTestNow))
	router.POST("/promotions/validate", handler.Validate)
	router.POST("/promotions/redeem", handler.Redeem)
	router.POST("/promotions/usages", handler.RecordUsage)
	router.DELETE("/promotions/usages/:bookingID", handler.ReverseUsage)
	router.GET("/promotions/available", handler.ListAvailable)
	return router
}

func performJSON(t *testing.T, router *gin.Engine, method, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func validateBody() map[string]any {
	return map[string]any{
		"code":                   "WELCOME10",
		"customer_id":            uuid.New().String(),
		"purchase_amount":        500,
		"route":                  "NYC-BOS",
		"fare_class":             "economy",
		"departure_date":         "2026-07-01T09:00:00Z",
		"is_first_time_customer": true,
	}
}

func TestValidateEndpoint(t *testing.T) {
	t.Run("valid promotion returns 200 with estimate", func(t *testing.T) {
		cmds := &stubCommands{
			validateFn: func(_ context.Context, params commands.ValidateParams) (*commands.ValidateResult, error) {
				assert.Equal(t, "WELCOME10", params.Code)
				assert.Equal(t, handlerTestNow, params.BookingDate)
				return &commands.ValidateResult{
					Validation:        promotion.ValidationResult{IsValid: true},
					EstimatedDiscount: decimal.NewFromInt(50),
				}, nil
			},
		}
		router := newTestRouter(cmds, &stubQueries{})

		rec := performJSON(t, router, http.MethodPost, "/promotions/validate", validateBody())
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["valid"])
	})

	t.Run("ineligible promotion still returns 200 with reasons", func(t *testing.T) {
		cmds := &stubCommands{
			validateFn: func(_ context.Context, _ commands.ValidateParams) (*commands.ValidateResult, error) {
				return &commands.ValidateResult{
					Validation: promotion.ValidationResult{
						IsValid: false,
						Errors: []promotion.ValidationError{
							{Code: promotion.ReasonMinPurchaseNotMet, Message: "minimum purchase amount is 100.00"},
						},
					},
				}, nil
			},
		}
		router := newTestRouter(cmds, &stubQueries{})

		rec := performJSON(t, router, http.MethodPost, "/promotions/validate", validateBody())
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, false, resp["valid"])
		assert.Contains(t, rec.Body.String(), "PROMO_MIN_PURCHASE_NOT_MET")
	})

	t.Run("unknown code returns 404", func(t *testing.T) {
		cmds := &stubCommands{
			validateFn: func(_ context.Context, _ commands.ValidateParams) (*commands.ValidateResult, error) {
				return nil, errs.ErrPromotionNotFound
			},
		}
		router := newTestRouter(cmds, &stubQueries{})

		rec := performJSON(t, router, http.MethodPost, "/promotions/validate", validateBody())
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing required fields return 400", func(t *testing.T) {
		router := newTestRouter(&stubCommands{}, &stubQueries{})
		rec := performJSON(t, router, http.MethodPost, "/promotions/validate", map[string]any{"code": "WELCOME10"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRedeemEndpoint(t *testing.T) {
	redeemBody := func() map[string]any {
		body := validateBody()
		body["booking_id"] = uuid.New().String()
		return body
	}

	t.Run("successful redemption returns 200", func(t *testing.T) {
		usageID := uuid.New()
		cmds := &stubCommands{
			applyFn: func(_ context.Context, params commands.ApplyParams) (*commands.ApplyResult, error) {
				require.NotNil(t, params.CustomerID)
				return &commands.ApplyResult{
					Success:         true,
					UsageID:         usageID,
					DiscountApplied: decimal.NewFromInt(50),
					FinalAmount:     decimal.NewFromInt(450),
					UsedAt:          handlerTestNow,
				}, nil
			},
		}
		router := newTestRouter(cmds, &stubQueries{})

		rec := performJSON(t, router, http.MethodPost, "/promotions/redeem", redeemBody())
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), usageID.String())
	})

	t.Run("exhausted promotion returns 422", func(t *testing.T) {
		cmds := &stubCommands{
			applyFn: func(_ context.Context, _ commands.ApplyParams) (*commands.ApplyResult, error) {
				return &commands.ApplyResult{
					Success:     false,
					FinalAmount: decimal.NewFromInt(500),
					FailureCode: commands.FailureLimitExceeded,
				}, nil
			},
		}
		router := newTestRouter(cmds, &stubQueries{})

		rec := performJSON(t, router, http.MethodPost, "/promotions/redeem", redeemBody())
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("lock contention returns 409", func(t *testing.T) {
		cmds := &stubCommands{
			applyFn: func(_ context.Context, _ commands.ApplyParams) (*commands.ApplyResult, error) {
				return nil, errs.ErrConcurrencyConflict
			},
		}
		router := newTestRouter(cmds, &stubQueries{})

		rec := performJSON(t, router, http.MethodPost, "/promotions/redeem", redeemBody())
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestRecordUsageEndpoint(t *testing.T) {
	body := map[string]any{
		"code":            "WELCOME10",
		"booking_id":      uuid.New().String(),
		"customer_id":     uuid.New().String(),
		"purchase_amount": 500,
		"discount_amount": 50,
	}

	t.Run("fresh usage returns 201", func(t *testing.T) {
		cmds := &stubCommands{
			recordFn: func(_ context.Context, _ commands.RecordUsageParams) (*commands.RedemptionResult, error) {
				return &commands.RedemptionResult{
					Success:        true,
					UsageID:        uuid.New(),
					DiscountAmount: decimal.NewFromInt(50),
					UsedAt:         handlerTestNow,
				}, nil
			},
		}
		router := newTestRouter(cmds, &stubQueries{})

		rec := performJSON(t, router, http.MethodPost, "/promotions/usages", body)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("replayed usage returns 200", func(t *testing.T) {
		cmds := &stubCommands{
			recordFn: func(_ context.Context, _ commands.RecordUsageParams) (*commands.RedemptionResult, error) {
				return &commands.RedemptionResult{
					Success:        true,
					UsageID:        uuid.New(),
					DiscountAmount: decimal.NewFromInt(50),
					UsedAt:         handlerTestNow,
					Replayed:       true,
				}, nil
			},
		}
		router := newTestRouter(cmds, &stubQueries{})

		rec := performJSON(t, router, http.MethodPost, "/promotions/usages", body)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"replayed":true`)
	})
}

func TestReverseUsageEndpoint(t *testing.T) {
	t.Run("reversal returns 200", func(t *testing.T) {
		bookingID := uuid.New()
		cmds := &stubCommands{
			reverseFn: func(_ context.Context, id uuid.UUID, reversedBy string, _ *string) (bool, error) {
				assert.Equal(t, bookingID, id)
				assert.Equal(t, "support-1", reversedBy)
				return true, nil
			},
		}
		router := newTestRouter(cmds, &stubQueries{})

		rec := performJSON(t, router, http.MethodDelete, "/promotions/usages/"+bookingID.String(),
			map[string]any{"reversed_by": "support-1"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"reversed":true`)
	})

	t.Run("unknown booking returns 404", func(t *testing.T) {
		cmds := &stubCommands{
			reverseFn: func(_ context.Context, _ uuid.UUID, _ string, _ *string) (bool, error) {
				return false, errs.ErrReversalNotFound
			},
		}
		router := newTestRouter(cmds, &stubQueries{})

		rec := performJSON(t, router, http.MethodDelete, "/promotions/usages/"+uuid.New().String(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed booking id returns 400", func(t *testing.T) {
		router := newTestRouter(&stubCommands{}, &stubQueries{})
		rec := performJSON(t, router, http.MethodDelete, "/promotions/usages/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListAvailableEndpoint(t *testing.T) {
	t.Run("lists promotions best discount first", func(t *testing.T) {
		q := &stubQueries{
			listFn: func(_ context.Context, params queries.AvailablePromotionsParams) ([]queries.AvailablePromotionView, error) {
				assert.Equal(t, "NYC-BOS", params.Route)
				require.NotNil(t, params.EstimatedAmount)
				return []queries.AvailablePromotionView{
					{Code: "FLAT75", EstimatedDiscount: decimal.NewFromInt(75), Terms: "75.00 off"},
					{Code: "WELCOME10", EstimatedDiscount: decimal.NewFromInt(50), Terms: "10% off, up to 50.00"},
				}, nil
			},
		}
		router := newTestRouter(&stubCommands{}, q)

		rec := performJSON(t, router, http.MethodGet,
			"/promotions/available?route=NYC-BOS&fare_class=economy&departure_date=2026-07-01&estimated_amount=500", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Promotions []struct {
				Code string `json:"code"`
			} `json:"promotions"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Promotions, 2)
		assert.Equal(t, "FLAT75", resp.Promotions[0].Code)
	})

	t.Run("bad estimated amount returns 400", func(t *testing.T) {
		router := newTestRouter(&stubCommands{}, &stubQueries{})
		rec := performJSON(t, router, http.MethodGet, "/promotions/available?estimated_amount=abc", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
