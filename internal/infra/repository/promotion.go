package repository

import (
	"context"
	"errors"
	"time"

	"promotion-service/internal/domain/promotion"
	"promotion-service/internal/domain/redemption"
	"promotion-service/internal/infra"
	"promotion-service/internal/usecase/commands"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const pgErrCodeUniqueViolation = "23505"

const promotionColumns = `
	id, code, version,
	discount_type, discount_value, max_discount,
	valid_from, valid_to,
	applicable_routes, excluded_routes,
	applicable_fare_classes, excluded_fare_classes,
	applicable_days,
	min_purchase_amount, min_advance_days, first_time_customer_only,
	max_total_usage, max_usage_per_customer, max_usage_per_day,
	is_active, current_total_usage,
	created_at, updated_at`

const usageColumns = `
	id, promotion_id, booking_id, customer_id, guest_id,
	purchase_amount, discount_amount, used_at, used_by,
	ip_address, user_agent,
	is_reversed, reversed_at, reversed_by, reversal_reason`

// PromotionRepository is the pgx-backed usage ledger. TryRecordUsage and
// ReverseUsage are its only writes; both run as single transactions so the
// usage ceilings hold against concurrent redeemers regardless of what the
// lock layer did.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

func (r *PromotionRepository) FindByCode(ctx context.Context, code promotion.Code) (*promotion.Promotion, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+promotionColumns+` FROM promotions WHERE code = $1`, code.String())

	promo, err := scanPromotion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, infra.WrapRepoErr("promotion not found", err, infra.KindNotFound)
		}
		return nil, infra.WrapRepoErr("failed to find promotion by code", err)
	}
	return promo, nil
}

func (r *PromotionRepository) ListActive(ctx context.Context) ([]*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+promotionColumns+` FROM promotions
		 WHERE is_active AND valid_to >= now()
		 ORDER BY created_at`)
	if err != nil {
		return nil, infra.WrapRepoErr("failed to list active promotions", err)
	}
	defer rows.Close()

	var promos []*promotion.Promotion
	for rows.Next() {
		promo, err := scanPromotion(rows)
		if err != nil {
			return nil, infra.WrapRepoErr("failed to scan promotion row", err)
		}
		promos = append(promos, promo)
	}
	if err := rows.Err(); err != nil {
		return nil, infra.WrapRepoErr("failed to iterate promotion rows", err)
	}
	return promos, nil
}

func (r *PromotionRepository) Counters(ctx context.Context, promotionID uuid.UUID, redeemerKey string, day time.Time) (promotion.Counters, error) {
	var counters promotion.Counters

	err := r.pool.QueryRow(ctx,
		`SELECT current_total_usage FROM promotions WHERE id = $1`, promotionID).
		Scan(&counters.Total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return counters, infra.WrapRepoErr("promotion not found", err, infra.KindNotFound)
		}
		return counters, infra.WrapRepoErr("failed to read total usage counter", err)
	}

	if counters.PerRedeemer, err = r.UsageCountFor(ctx, promotionID, redeemerKey); err != nil {
		return counters, err
	}
	if counters.PerDay, err = r.DailyUsageCount(ctx, promotionID, day); err != nil {
		return counters, err
	}
	return counters, nil
}

func (r *PromotionRepository) UsageCountFor(ctx context.Context, promotionID uuid.UUID, redeemerKey string) (int64, error) {
	if redeemerKey == "" {
		return 0, nil
	}
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM promotion_usages
		 WHERE promotion_id = $1 AND NOT is_reversed
		   AND (customer_id::text = $2 OR guest_id = $2)`,
		promotionID, redeemerKey).Scan(&count)
	if err != nil {
		return 0, infra.WrapRepoErr("failed to count redeemer usage", err)
	}
	return count, nil
}

func (r *PromotionRepository) DailyUsageCount(ctx context.Context, promotionID uuid.UUID, day time.Time) (int64, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM promotion_usages
		 WHERE promotion_id = $1 AND NOT is_reversed
		   AND used_at >= $2 AND used_at < $3`,
		promotionID, dayStart, dayStart.Add(24*time.Hour)).Scan(&count)
	if err != nil {
		return 0, infra.WrapRepoErr("failed to count daily usage", err)
	}
	return count, nil
}

// TryRecordUsage persists one redemption as a single transaction. The
// promotion row is locked first, so the idempotency probe and the three
// ceiling checks all read committed, current truth; the counter bump
// commits atomically with the usage row.
func (r *PromotionRepository) TryRecordUsage(ctx context.Context, usage *redemption.Usage) (*commands.RecordResult, error) {
	result, err := runInTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) (*commands.RecordResult, error) {
		var (
			maxTotal       *int64
			maxPerCustomer *int64
			maxPerDay      *int64
			currentTotal   int64
		)
		err := tx.QueryRow(ctx,
			`SELECT max_total_usage, max_usage_per_customer, max_usage_per_day, current_total_usage
			 FROM promotions WHERE id = $1 FOR UPDATE`, usage.PromotionID).
			Scan(&maxTotal, &maxPerCustomer, &maxPerDay, &currentTotal)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, infra.WrapRepoErr("promotion not found", err, infra.KindNotFound)
			}
			return nil, infra.WrapRepoErr("failed to lock promotion row", err)
		}

		existing, err := findActiveUsageByBooking(ctx, tx, usage.BookingID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &commands.RecordResult{
				Outcome:        commands.OutcomeDuplicate,
				Usage:          existing,
				RemainingUsage: remainingUnder(maxTotal, currentTotal),
			}, nil
		}

		if maxTotal != nil && currentTotal >= *maxTotal {
			return limitExceededResult(maxTotal, currentTotal), nil
		}
		if maxPerCustomer != nil {
			count, err := countRedeemerUsageTx(ctx, tx, usage.PromotionID, usage.RedeemerKey())
			if err != nil {
				return nil, err
			}
			if count >= *maxPerCustomer {
				return limitExceededResult(maxTotal, currentTotal), nil
			}
		}
		if maxPerDay != nil {
			count, err := countDailyUsageTx(ctx, tx, usage.PromotionID, usage.UsedAt)
			if err != nil {
				return nil, err
			}
			if count >= *maxPerDay {
				return limitExceededResult(maxTotal, currentTotal), nil
			}
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO promotion_usages (
				id, promotion_id, booking_id, customer_id, guest_id,
				purchase_amount, discount_amount, used_at, used_by,
				ip_address, user_agent
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			usage.ID, usage.PromotionID, usage.BookingID, usage.CustomerID, usage.GuestID,
			usage.PurchaseAmount, usage.DiscountAmount, usage.UsedAt, usage.UsedBy,
			usage.IPAddress, usage.UserAgent)
		if err != nil {
			return nil, infra.WrapRepoErr("failed to insert usage", err, classifyWriteErr(err))
		}

		_, err = tx.Exec(ctx,
			`UPDATE promotions
			 SET current_total_usage = current_total_usage + 1,
			     version = version + 1,
			     updated_at = now()
			 WHERE id = $1`, usage.PromotionID)
		if err != nil {
			return nil, infra.WrapRepoErr("failed to bump usage counter", err)
		}

		return &commands.RecordResult{
			Outcome:        commands.OutcomeRecorded,
			Usage:          usage,
			RemainingUsage: remainingUnder(maxTotal, currentTotal+1),
		}, nil
	})
	if err != nil {
		// A concurrent writer on another promotion can slip the same booking
		// past the idempotency probe; the partial unique index catches it.
		if infra.IsKind(err, infra.KindDuplicateKey) {
			existing, findErr := r.findActiveUsageByBookingPool(ctx, usage.BookingID)
			if findErr == nil && existing != nil {
				return &commands.RecordResult{Outcome: commands.OutcomeDuplicate, Usage: existing}, nil
			}
		}
		return nil, err
	}
	return result, nil
}

// ReverseUsage flips the booking's active usage to reversed and releases its
// slot under the total ceiling. Returns false when no active usage exists,
// which makes repeated reversals no-ops.
func (r *PromotionRepository) ReverseUsage(ctx context.Context, bookingID uuid.UUID, reversedBy string, reason *string) (bool, error) {
	return runInTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) (bool, error) {
		var promotionID uuid.UUID
		err := tx.QueryRow(ctx,
			`UPDATE promotion_usages
			 SET is_reversed = TRUE, reversed_at = now(), reversed_by = $2, reversal_reason = $3
			 WHERE booking_id = $1 AND NOT is_reversed
			 RETURNING promotion_id`,
			bookingID, reversedBy, reason).Scan(&promotionID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return false, nil
			}
			return false, infra.WrapRepoErr("failed to reverse usage", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE promotions
			 SET current_total_usage = GREATEST(current_total_usage - 1, 0),
			     version = version + 1,
			     updated_at = now()
			 WHERE id = $1`, promotionID)
		if err != nil {
			return false, infra.WrapRepoErr("failed to release usage slot", err)
		}
		return true, nil
	})
}

func (r *PromotionRepository) CodeForBooking(ctx context.Context, bookingID uuid.UUID) (promotion.Code, error) {
	var code promotion.Code
	err := r.pool.QueryRow(ctx,
		`SELECT p.code FROM promotion_usages u
		 JOIN promotions p ON p.id = u.promotion_id
		 WHERE u.booking_id = $1
		 ORDER BY u.used_at DESC LIMIT 1`, bookingID).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", infra.WrapRepoErr("no usage for booking", err, infra.KindNotFound)
		}
		return "", infra.WrapRepoErr("failed to resolve booking code", err)
	}
	return code, nil
}

func (r *PromotionRepository) findActiveUsageByBookingPool(ctx context.Context, bookingID uuid.UUID) (*redemption.Usage, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+usageColumns+` FROM promotion_usages
		 WHERE booking_id = $1 AND NOT is_reversed`, bookingID)
	usage, err := scanUsage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, infra.WrapRepoErr("failed to find usage by booking", err)
	}
	return usage, nil
}

func findActiveUsageByBooking(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*redemption.Usage, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+usageColumns+` FROM promotion_usages
		 WHERE booking_id = $1 AND NOT is_reversed`, bookingID)
	usage, err := scanUsage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, infra.WrapRepoErr("failed to find usage by booking", err)
	}
	return usage, nil
}

func countRedeemerUsageTx(ctx context.Context, tx pgx.Tx, promotionID uuid.UUID, redeemerKey string) (int64, error) {
	if redeemerKey == "" {
		return 0, nil
	}
	var count int64
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM promotion_usages
		 WHERE promotion_id = $1 AND NOT is_reversed
		   AND (customer_id::text = $2 OR guest_id = $2)`,
		promotionID, redeemerKey).Scan(&count)
	if err != nil {
		return 0, infra.WrapRepoErr("failed to count redeemer usage", err)
	}
	return count, nil
}

func countDailyUsageTx(ctx context.Context, tx pgx.Tx, promotionID uuid.UUID, day time.Time) (int64, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	var count int64
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM promotion_usages
		 WHERE promotion_id = $1 AND NOT is_reversed
		   AND used_at >= $2 AND used_at < $3`,
		promotionID, dayStart, dayStart.Add(24*time.Hour)).Scan(&count)
	if err != nil {
		return 0, infra.WrapRepoErr("failed to count daily usage", err)
	}
	return count, nil
}

func limitExceededResult(maxTotal *int64, currentTotal int64) *commands.RecordResult {
	return &commands.RecordResult{
		Outcome:        commands.OutcomeLimitExceeded,
		RemainingUsage: remainingUnder(maxTotal, currentTotal),
	}
}

func remainingUnder(maxTotal *int64, currentTotal int64) *int64 {
	if maxTotal == nil {
		return nil
	}
	remaining := *maxTotal - currentTotal
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

func classifyWriteErr(err error) infra.RepositoryErrorKind {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgErrCodeUniqueViolation {
		return infra.KindDuplicateKey
	}
	return infra.KindDBFailure
}

func scanPromotion(row pgx.Row) (*promotion.Promotion, error) {
	var (
		p             promotion.Promotion
		discountType  string
		discountValue decimal.Decimal
		maxDiscount   decimal.NullDecimal
		minPurchase   decimal.NullDecimal
		days          []int16
	)
	err := row.Scan(
		&p.ID, &p.Code, &p.Version,
		&discountType, &discountValue, &maxDiscount,
		&p.ValidFrom, &p.ValidTo,
		&p.ApplicableRoutes, &p.ExcludedRoutes,
		&p.ApplicableFareClasses, &p.ExcludedFareClasses,
		&days,
		&minPurchase, &p.MinAdvanceDays, &p.FirstTimeCustomerOnly,
		&p.MaxTotalUsage, &p.MaxUsagePerCustomer, &p.MaxUsagePerDay,
		&p.IsActive, &p.CurrentTotalUsage,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	var maxDiscountPtr *decimal.Decimal
	if maxDiscount.Valid {
		maxDiscountPtr = &maxDiscount.Decimal
	}
	discount, err := promotion.NewDiscount(promotion.DiscountType(discountType), discountValue, maxDiscountPtr)
	if err != nil {
		return nil, err
	}
	p.Discount = discount

	if minPurchase.Valid {
		p.MinPurchaseAmount = &minPurchase.Decimal
	}
	p.ApplicableDays = weekdaysFrom(days)
	return &p, nil
}

func scanUsage(row pgx.Row) (*redemption.Usage, error) {
	var u redemption.Usage
	err := row.Scan(
		&u.ID, &u.PromotionID, &u.BookingID, &u.CustomerID, &u.GuestID,
		&u.PurchaseAmount, &u.DiscountAmount, &u.UsedAt, &u.UsedBy,
		&u.IPAddress, &u.UserAgent,
		&u.IsReversed, &u.ReversedAt, &u.ReversedBy, &u.ReversalReason,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func weekdaysFrom(days []int16) []time.Weekday {
	if len(days) == 0 {
		return nil
	}
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		out = append(out, time.Weekday(d))
	}
	return out
}
