package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"promotion-service/internal/domain/promotion"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func snapshotKey(code promotion.Code) string {
	return "promo:code:" + code.String()
}

func usageKey(code promotion.Code) string {
	return "promo:usage:" + code.String()
}

// promotionPayload is the wire form of a cached promotion snapshot. The
// discount value object is flattened because its fields are not exported.
type promotionPayload struct {
	ID      uuid.UUID `json:"id"`
	Code    string    `json:"code"`
	Version int64     `json:"version"`

	DiscountType  string           `json:"discount_type"`
	DiscountValue decimal.Decimal  `json:"discount_value"`
	MaxDiscount   *decimal.Decimal `json:"max_discount,omitempty"`

	ValidFrom time.Time `json:"valid_from"`
	ValidTo   time.Time `json:"valid_to"`

	ApplicableRoutes      []string         `json:"applicable_routes,omitempty"`
	ExcludedRoutes        []string         `json:"excluded_routes,omitempty"`
	ApplicableFareClasses []string         `json:"applicable_fare_classes,omitempty"`
	ExcludedFareClasses   []string         `json:"excluded_fare_classes,omitempty"`
	ApplicableDays        []time.Weekday   `json:"applicable_days,omitempty"`
	MinPurchaseAmount     *decimal.Decimal `json:"min_purchase_amount,omitempty"`
	MinAdvanceDays        *int             `json:"min_advance_days,omitempty"`
	FirstTimeCustomerOnly bool             `json:"first_time_customer_only"`

	MaxTotalUsage       *int64 `json:"max_total_usage,omitempty"`
	MaxUsagePerCustomer *int64 `json:"max_usage_per_customer,omitempty"`
	MaxUsagePerDay      *int64 `json:"max_usage_per_day,omitempty"`

	IsActive          bool  `json:"is_active"`
	CurrentTotalUsage int64 `json:"current_total_usage"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func payloadFrom(p *promotion.Promotion) promotionPayload {
	return promotionPayload{
		ID:                    p.ID,
		Code:                  p.Code.String(),
		Version:               p.Version,
		DiscountType:          string(p.Discount.Type()),
		DiscountValue:         p.Discount.Value(),
		MaxDiscount:           p.Discount.MaxDiscount(),
		ValidFrom:             p.ValidFrom,
		ValidTo:               p.ValidTo,
		ApplicableRoutes:      p.ApplicableRoutes,
		ExcludedRoutes:        p.ExcludedRoutes,
		ApplicableFareClasses: p.ApplicableFareClasses,
		ExcludedFareClasses:   p.ExcludedFareClasses,
		ApplicableDays:        p.ApplicableDays,
		MinPurchaseAmount:     p.MinPurchaseAmount,
		MinAdvanceDays:        p.MinAdvanceDays,
		FirstTimeCustomerOnly: p.FirstTimeCustomerOnly,
		MaxTotalUsage:         p.MaxTotalUsage,
		MaxUsagePerCustomer:   p.MaxUsagePerCustomer,
		MaxUsagePerDay:        p.MaxUsagePerDay,
		IsActive:              p.IsActive,
		CurrentTotalUsage:     p.CurrentTotalUsage,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

func (pl promotionPayload) toDomain() (*promotion.Promotion, error) {
	discount, err := promotion.NewDiscount(promotion.DiscountType(pl.DiscountType), pl.DiscountValue, pl.MaxDiscount)
	if err != nil {
		return nil, err
	}
	return &promotion.Promotion{
		ID:                    pl.ID,
		Code:                  promotion.Code(pl.Code),
		Version:               pl.Version,
		Discount:              discount,
		ValidFrom:             pl.ValidFrom,
		ValidTo:               pl.ValidTo,
		ApplicableRoutes:      pl.ApplicableRoutes,
		ExcludedRoutes:        pl.ExcludedRoutes,
		ApplicableFareClasses: pl.ApplicableFareClasses,
		ExcludedFareClasses:   pl.ExcludedFareClasses,
		ApplicableDays:        pl.ApplicableDays,
		MinPurchaseAmount:     pl.MinPurchaseAmount,
		MinAdvanceDays:        pl.MinAdvanceDays,
		FirstTimeCustomerOnly: pl.FirstTimeCustomerOnly,
		MaxTotalUsage:         pl.MaxTotalUsage,
		MaxUsagePerCustomer:   pl.MaxUsagePerCustomer,
		MaxUsagePerDay:        pl.MaxUsagePerDay,
		IsActive:              pl.IsActive,
		CurrentTotalUsage:     pl.CurrentTotalUsage,
		CreatedAt:             pl.CreatedAt,
		UpdatedAt:             pl.UpdatedAt,
	}, nil
}

// PromotionCache mirrors promotion snapshots in Redis for validation-only
// reads. A separate counter key tracks usage bumps between snapshot
// refreshes so cached validations see a fresher total than the snapshot
// itself. Every Redis failure degrades to a miss or a no-op: the ledger is
// always able to serve the truth.
type PromotionCache struct {
	client *redis.Client
}

func NewPromotionCache(client *redis.Client) *PromotionCache {
	return &PromotionCache{client: client}
}

func (c *PromotionCache) Get(ctx context.Context, code promotion.Code) (*promotion.Promotion, bool) {
	raw, err := c.client.Get(ctx, snapshotKey(code)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("promotion cache read failed", "code", code.String(), "error", err.Error())
		}
		return nil, false
	}

	var payload promotionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		slog.Warn("promotion cache entry corrupt, dropping", "code", code.String(), "error", err.Error())
		_ = c.Invalidate(ctx, code)
		return nil, false
	}

	promo, err := payload.toDomain()
	if err != nil {
		slog.Warn("promotion cache entry invalid, dropping", "code", code.String(), "error", err.Error())
		_ = c.Invalidate(ctx, code)
		return nil, false
	}

	if mirrored, err := c.client.Get(ctx, usageKey(code)).Int64(); err == nil && mirrored > promo.CurrentTotalUsage {
		promo.CurrentTotalUsage = mirrored
	}
	return promo, true
}

func (c *PromotionCache) Set(ctx context.Context, code promotion.Code, promo *promotion.Promotion, ttl time.Duration) {
	raw, err := json.Marshal(payloadFrom(promo))
	if err != nil {
		slog.Warn("promotion cache marshal failed", "code", code.String(), "error", err.Error())
		return
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, snapshotKey(code), raw, ttl)
	pipe.Set(ctx, usageKey(code), promo.CurrentTotalUsage, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("promotion cache write failed", "code", code.String(), "error", err.Error())
	}
}

func (c *PromotionCache) Invalidate(ctx context.Context, code promotion.Code) error {
	if err := c.client.Del(ctx, snapshotKey(code), usageKey(code)).Err(); err != nil {
		slog.Warn("promotion cache invalidation failed", "code", code.String(), "error", err.Error())
		return err
	}
	return nil
}

// IncrementUsage bumps the counter mirror after a recorded redemption. Only
// an existing mirror is bumped; a missing key stays missing so the next Set
// seeds it from ledger truth.
func (c *PromotionCache) IncrementUsage(ctx context.Context, code promotion.Code) error {
	return c.adjustUsage(ctx, code, 1)
}

func (c *PromotionCache) DecrementUsage(ctx context.Context, code promotion.Code) error {
	return c.adjustUsage(ctx, code, -1)
}

var adjustUsageScript = redis.NewScript(`
if redis.call("exists", KEYS[1]) == 1 then
	return redis.call("incrby", KEYS[1], ARGV[1])
else
	return false
end`)

func (c *PromotionCache) adjustUsage(ctx context.Context, code promotion.Code, delta int64) error {
	if err := adjustUsageScript.Run(ctx, c.client, []string{usageKey(code)}, delta).Err(); err != nil && !errors.Is(err, redis.Nil) {
		slog.Warn("promotion cache counter adjust failed", "code", code.String(), "error", err.Error())
		return err
	}
	return nil
}
