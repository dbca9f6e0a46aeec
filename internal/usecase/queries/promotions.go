package queries

import (
	"context"
	"fmt"
	"sort"
	"time"

	"promotion-service/internal/domain/promotion"
	"promotion-service/internal/pkg/clock"
	"promotion-service/internal/pkg/errs"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PromotionReadStore is the read-only slice of the ledger the browsing
// feature needs. Cached counter staleness is acceptable here.
type PromotionReadStore interface {
	ListActive(ctx context.Context) ([]*promotion.Promotion, error)
	Counters(ctx context.Context, promotionID uuid.UUID, redeemerKey string, day time.Time) (promotion.Counters, error)
}

type AvailablePromotionsParams struct {
	CustomerID          *uuid.UUID
	GuestID             *string
	Route               string
	FareClass           string
	DepartureDate       time.Time
	EstimatedAmount     *decimal.Decimal
	IsFirstTimeCustomer bool
}

type AvailablePromotionView struct {
	Code              string
	EstimatedDiscount decimal.Decimal
	RemainingUsage    *int64
	Terms             string
}

type PromotionQueries interface {
	GetAvailablePromotions(ctx context.Context, params AvailablePromotionsParams) ([]AvailablePromotionView, error)
}

type promotionQueriesImpl struct {
	store PromotionReadStore
	clock clock.Clock
}

func NewPromotionQueries(store PromotionReadStore, clk clock.Clock) PromotionQueries {
	return &promotionQueriesImpl{store: store, clock: clk}
}

// GetAvailablePromotions lists the promotions a booking could redeem right
// now, ranked by estimated discount descending. Best-effort: no lock is
// taken and counters may be slightly stale; the redemption path re-checks
// everything.
func (q *promotionQueriesImpl) GetAvailablePromotions(ctx context.Context, params AvailablePromotionsParams) ([]AvailablePromotionView, error) {
	promos, err := q.store.ListActive(ctx)
	if err != nil {
		return nil, errs.Mark(err, errs.ErrDatabaseOperationFailed)
	}

	now := q.clock.Now()
	input := promotion.EvaluateInput{
		CustomerID:          params.CustomerID,
		GuestID:             params.GuestID,
		Route:               params.Route,
		FareClass:           params.FareClass,
		DepartureDate:       params.DepartureDate,
		BookingDate:         now,
		IsFirstTimeCustomer: params.IsFirstTimeCustomer,
	}

	views := make([]AvailablePromotionView, 0, len(promos))
	for _, promo := range promos {
		input.PurchaseAmount = estimateAmountFor(promo, params.EstimatedAmount)

		counters, err := q.store.Counters(ctx, promo.ID, input.RedeemerKey(), now)
		if err != nil {
			return nil, errs.Mark(err, errs.ErrDatabaseOperationFailed)
		}

		if result := promotion.Evaluate(promo, input, counters); !result.IsValid {
			continue
		}

		views = append(views, AvailablePromotionView{
			Code:              promo.Code.String(),
			EstimatedDiscount: promo.CalculateDiscount(input.PurchaseAmount),
			RemainingUsage:    promo.RemainingUsage(),
			Terms:             termsFor(promo),
		})
	}

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].EstimatedDiscount.GreaterThan(views[j].EstimatedDiscount)
	})
	return views, nil
}

// estimateAmountFor substitutes the promotion's own minimum purchase when
// the caller gave no estimate, so minimum-amount promotions still rank.
func estimateAmountFor(promo *promotion.Promotion, estimated *decimal.Decimal) decimal.Decimal {
	if estimated != nil {
		return *estimated
	}
	if promo.MinPurchaseAmount != nil {
		return *promo.MinPurchaseAmount
	}
	return decimal.Zero
}

func termsFor(promo *promotion.Promotion) string {
	var terms string
	switch promo.Discount.Type() {
	case promotion.DiscountPercentage:
		terms = fmt.Sprintf("%s%% off", promo.Discount.Value().String())
	case promotion.DiscountFixedAmount:
		terms = fmt.Sprintf("%s off", promo.Discount.Value().StringFixed(2))
	case promotion.DiscountBuyOneGetOne:
		terms = "half price"
	}
	if maxDiscount := promo.Discount.MaxDiscount(); maxDiscount != nil {
		terms += fmt.Sprintf(", up to %s", maxDiscount.StringFixed(2))
	}
	if promo.MinPurchaseAmount != nil {
		terms += fmt.Sprintf(", min purchase %s", promo.MinPurchaseAmount.StringFixed(2))
	}
	if promo.FirstTimeCustomerOnly {
		terms += ", first-time customers only"
	}
	terms += fmt.Sprintf(", valid through %s", promo.ValidTo.Format("2006-01-02"))
	return terms
}
