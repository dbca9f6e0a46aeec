package commands

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"promotion-service/internal/domain/promotion"
	"promotion-service/internal/domain/redemption"
	"promotion-service/internal/infra"
	"promotion-service/internal/pkg/clock"
	"promotion-service/internal/pkg/config"
	"promotion-service/internal/pkg/errs"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FailureCode distinguishes the expected unsuccessful outcomes of a
// redemption from infrastructure faults, which are returned as errors.
type FailureCode string

const (
	FailureValidationFailed FailureCode = "VALIDATION_FAILED"
	FailureLimitExceeded    FailureCode = "LIMIT_EXCEEDED"
)

type ValidateParams struct {
	Code                string
	CustomerID          *uuid.UUID
	GuestID             *string
	PurchaseAmount      decimal.Decimal
	Route               string
	FareClass           string
	DepartureDate       time.Time
	BookingDate         time.Time
	IsFirstTimeCustomer bool
}

type ValidateResult struct {
	Validation        promotion.ValidationResult
	EstimatedDiscount decimal.Decimal
	RemainingUsage    *int64
}

type RecordUsageParams struct {
	Code           string
	BookingID      uuid.UUID
	CustomerID     *uuid.UUID
	GuestID        *string
	PurchaseAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	UsedBy         string
	IPAddress      *string
	UserAgent      *string
}

type RedemptionResult struct {
	Success        bool
	UsageID        uuid.UUID
	DiscountAmount decimal.Decimal
	RemainingUsage *int64
	UsedAt         time.Time
	// Replayed marks an idempotent retry that returned the original record.
	Replayed       bool
	FailureCode    FailureCode
	FailureReasons []promotion.ValidationError
}

type ApplyParams struct {
	ValidateParams
	BookingID uuid.UUID
	UsedBy    string
	IPAddress *string
	UserAgent *string
}

type ApplyResult struct {
	Success         bool
	UsageID         uuid.UUID
	DiscountApplied decimal.Decimal
	FinalAmount     decimal.Decimal
	RemainingUsage  *int64
	UsedAt          time.Time
	Replayed        bool
	FailureCode     FailureCode
	FailureReasons  []promotion.ValidationError
}

type RedemptionCommands interface {
	Validate(ctx context.Context, params ValidateParams) (*ValidateResult, error)
	RecordUsage(ctx context.Context, params RecordUsageParams) (*RedemptionResult, error)
	ValidateAndApply(ctx context.Context, params ApplyParams) (*ApplyResult, error)
	ReverseUsage(ctx context.Context, bookingID uuid.UUID, reversedBy string, reason *string) (bool, error)
}

type redemptionCommandsImpl struct {
	ledger UsageLedger
	locks  LockProvider
	cache  PromotionCache
	clock  clock.Clock
	cfg    config.Config
}

func NewRedemptionCommands(
	ledger UsageLedger,
	locks LockProvider,
	cache PromotionCache,
	clk clock.Clock,
	cfg config.Config,
) RedemptionCommands {
	return &redemptionCommandsImpl{
		ledger: ledger,
		locks:  locks,
		cache:  cache,
		clock:  clk,
		cfg:    cfg,
	}
}

// Validate is the pre-flight read path: no lock, cache-first, business
// failures returned as data.
func (r *redemptionCommandsImpl) Validate(ctx context.Context, params ValidateParams) (*ValidateResult, error) {
	code, err := promotion.NewCode(params.Code)
	if err != nil {
		return nil, errs.Mark(err, errs.ErrPromotionNotFound)
	}

	promo, err := r.findPromotion(ctx, code)
	if err != nil {
		return nil, err
	}

	input := params.evaluateInput()
	counters, err := r.ledger.Counters(ctx, promo.ID, input.RedeemerKey(), r.clock.Now())
	if err != nil {
		return nil, errs.Mark(err, errs.ErrDatabaseOperationFailed)
	}

	result := promotion.Evaluate(promo, input, counters)

	out := &ValidateResult{
		Validation:     result,
		RemainingUsage: promo.RemainingUsage(),
	}
	if result.IsValid {
		out.EstimatedDiscount = promo.CalculateDiscount(params.PurchaseAmount)
	}
	return out, nil
}

// RecordUsage persists one redemption under the code-scoped lock. The
// counter read under lock goes to the ledger, not the cache: the lock is
// already the latency cost here and stale figures would misreport the
// rejection reasons.
func (r *redemptionCommandsImpl) RecordUsage(ctx context.Context, params RecordUsageParams) (*RedemptionResult, error) {
	code, err := promotion.NewCode(params.Code)
	if err != nil {
		return nil, errs.Mark(err, errs.ErrPromotionNotFound)
	}

	lock, err := r.locks.Acquire(ctx, lockKeyForCode(code), r.cfg.Lock.TTL)
	if err != nil {
		return nil, r.classifyLockErr(err)
	}
	defer r.releaseLock(ctx, lock)

	promo, err := r.findPromotionFresh(ctx, code)
	if err != nil {
		return nil, err
	}

	usage, err := redemption.NewUsage(
		promo.ID, params.BookingID,
		params.CustomerID, params.GuestID,
		params.PurchaseAmount, params.DiscountAmount,
		params.UsedBy, r.clock.Now(),
	)
	if err != nil {
		return nil, errs.Mark(err, errs.ErrValidationFailed)
	}
	usage.IPAddress = params.IPAddress
	usage.UserAgent = params.UserAgent

	counters, err := r.ledger.Counters(ctx, promo.ID, usage.RedeemerKey(), r.clock.Now())
	if err != nil {
		return nil, errs.Mark(err, errs.ErrDatabaseOperationFailed)
	}

	// A saturated ceiling is never rejected here: the saturation may be this
	// booking's own earlier success, and the ledger's write path replays
	// duplicates before re-checking any ceiling. The pre-read only sharpens
	// the failure reasons when the write is rejected.
	ceilingReasons := ceilingFailures(promo, counters)

	result, err := r.commitUsage(ctx, code, usage)
	if err != nil {
		return nil, err
	}
	if !result.Success && len(ceilingReasons) > 0 {
		result.FailureReasons = ceilingReasons
	}
	return result, nil
}

// ValidateAndApply runs eligibility and the write under a single lock
// acquisition so no other caller can interleave between check and commit.
func (r *redemptionCommandsImpl) ValidateAndApply(ctx context.Context, params ApplyParams) (*ApplyResult, error) {
	code, err := promotion.NewCode(params.Code)
	if err != nil {
		return nil, errs.Mark(err, errs.ErrPromotionNotFound)
	}

	lock, err := r.locks.Acquire(ctx, lockKeyForCode(code), r.cfg.Lock.TTL)
	if err != nil {
		return nil, r.classifyLockErr(err)
	}
	defer r.releaseLock(ctx, lock)

	promo, err := r.findPromotionFresh(ctx, code)
	if err != nil {
		return nil, err
	}

	input := params.evaluateInput()
	counters, err := r.ledger.Counters(ctx, promo.ID, input.RedeemerKey(), r.clock.Now())
	if err != nil {
		return nil, errs.Mark(err, errs.ErrDatabaseOperationFailed)
	}

	// Ceiling-only failures fall through to the ledger: the saturation may
	// be this booking's own earlier success, and the write path replays
	// duplicates before re-checking any ceiling. Any other failed check is
	// a genuine rejection; a replayed booking would pass it again.
	validation := promotion.Evaluate(promo, input, counters)
	if !validation.IsValid && !onlyCeilingFailures(validation.Errors) {
		return &ApplyResult{
			Success:        false,
			FinalAmount:    params.PurchaseAmount,
			FailureCode:    failureCodeFor(validation.Errors),
			FailureReasons: validation.Errors,
			RemainingUsage: promo.RemainingUsage(),
		}, nil
	}

	discount := promo.CalculateDiscount(params.PurchaseAmount)
	usage, err := redemption.NewUsage(
		promo.ID, params.BookingID,
		params.CustomerID, params.GuestID,
		params.PurchaseAmount, discount,
		params.UsedBy, r.clock.Now(),
	)
	if err != nil {
		return nil, errs.Mark(err, errs.ErrValidationFailed)
	}
	usage.IPAddress = params.IPAddress
	usage.UserAgent = params.UserAgent

	recorded, err := r.commitUsage(ctx, code, usage)
	if err != nil {
		return nil, err
	}

	out := &ApplyResult{
		Success:         recorded.Success,
		UsageID:         recorded.UsageID,
		DiscountApplied: recorded.DiscountAmount,
		FinalAmount:     params.PurchaseAmount.Sub(recorded.DiscountAmount),
		RemainingUsage:  recorded.RemainingUsage,
		UsedAt:          recorded.UsedAt,
		Replayed:        recorded.Replayed,
		FailureCode:     recorded.FailureCode,
		FailureReasons:  recorded.FailureReasons,
	}
	if !recorded.Success {
		out.FinalAmount = params.PurchaseAmount
		out.DiscountApplied = decimal.Zero
		if len(validation.Errors) > 0 {
			out.FailureReasons = validation.Errors
		}
	}
	return out, nil
}

// ReverseUsage flips a recorded usage back out of the counters. The
// ledger's conditional update carries correctness; the booking-scoped lock
// only prevents two cancellation paths from double-logging the reversal.
func (r *redemptionCommandsImpl) ReverseUsage(ctx context.Context, bookingID uuid.UUID, reversedBy string, reason *string) (bool, error) {
	lock, err := r.locks.Acquire(ctx, lockKeyForBooking(bookingID), r.cfg.Lock.TTL)
	if err != nil {
		return false, r.classifyLockErr(err)
	}
	defer r.releaseLock(ctx, lock)

	reversed, code, err := r.reverseInLedger(ctx, bookingID, reversedBy, reason)
	if err != nil {
		return false, err
	}
	if !reversed {
		// No active usage. A booking that was reversed before is a no-op;
		// a booking the ledger has never seen is an error.
		if _, codeErr := r.ledger.CodeForBooking(ctx, bookingID); codeErr != nil {
			if infra.IsKind(codeErr, infra.KindNotFound) {
				return false, errs.ErrReversalNotFound
			}
			return false, errs.Mark(codeErr, errs.ErrDatabaseOperationFailed)
		}
		return false, nil
	}
	if code != "" {
		if cacheErr := r.cache.DecrementUsage(ctx, code); cacheErr != nil {
			slog.Warn("failed to decrement cached usage counter", "code", code.String(), "error", cacheErr)
		}
		if cacheErr := r.cache.Invalidate(ctx, code); cacheErr != nil {
			slog.Warn("failed to invalidate cached promotion", "code", code.String(), "error", cacheErr)
		}
	}
	return reversed, nil
}

func (r *redemptionCommandsImpl) commitUsage(ctx context.Context, code promotion.Code, usage *redemption.Usage) (*RedemptionResult, error) {
	record, err := r.ledger.TryRecordUsage(ctx, usage)
	if err != nil {
		return nil, errs.Mark(err, errs.ErrDatabaseOperationFailed)
	}

	switch record.Outcome {
	case OutcomeRecorded, OutcomeDuplicate:
		// A duplicate changed nothing, so the cached entry is still good.
		if record.Outcome == OutcomeRecorded {
			if cacheErr := r.cache.IncrementUsage(ctx, code); cacheErr != nil {
				slog.Warn("failed to increment cached usage counter", "code", code.String(), "error", cacheErr)
			}
			if cacheErr := r.cache.Invalidate(ctx, code); cacheErr != nil {
				slog.Warn("failed to invalidate cached promotion", "code", code.String(), "error", cacheErr)
			}
		}
		return &RedemptionResult{
			Success:        true,
			UsageID:        record.Usage.ID,
			DiscountAmount: record.Usage.DiscountAmount,
			RemainingUsage: record.RemainingUsage,
			UsedAt:         record.Usage.UsedAt,
			Replayed:       record.Outcome == OutcomeDuplicate,
		}, nil

	case OutcomeLimitExceeded:
		return &RedemptionResult{
			Success:        false,
			FailureCode:    FailureLimitExceeded,
			RemainingUsage: record.RemainingUsage,
			FailureReasons: []promotion.ValidationError{{
				Code:    promotion.ReasonTotalLimitReached,
				Message: "promotion usage limit reached while recording",
			}},
		}, nil

	default:
		return nil, errs.Newf("unexpected record outcome %d", record.Outcome)
	}
}

func (r *redemptionCommandsImpl) reverseInLedger(ctx context.Context, bookingID uuid.UUID, reversedBy string, reason *string) (bool, promotion.Code, error) {
	reversed, err := r.ledger.ReverseUsage(ctx, bookingID, reversedBy, reason)
	if err != nil {
		if infra.IsKind(err, infra.KindNotFound) {
			return false, "", nil
		}
		return false, "", errs.Mark(err, errs.ErrDatabaseOperationFailed)
	}
	if !reversed {
		return false, "", nil
	}

	// The reversal itself does not return the code; resolve it for cache
	// maintenance. A failed lookup costs at most one stale TTL window.
	code, err := r.ledger.CodeForBooking(ctx, bookingID)
	if err != nil {
		slog.Warn("reversed usage but could not resolve promotion code for cache invalidation",
			"booking_id", bookingID.String(), "error", err)
		return true, "", nil
	}
	return true, code, nil
}

func (r *redemptionCommandsImpl) findPromotion(ctx context.Context, code promotion.Code) (*promotion.Promotion, error) {
	if promo, ok := r.cache.Get(ctx, code); ok {
		return promo, nil
	}

	promo, err := r.findPromotionFresh(ctx, code)
	if err != nil {
		return nil, err
	}
	r.cache.Set(ctx, code, promo, r.cfg.Cache.PromotionTTL)
	return promo, nil
}

func (r *redemptionCommandsImpl) findPromotionFresh(ctx context.Context, code promotion.Code) (*promotion.Promotion, error) {
	promo, err := r.ledger.FindByCode(ctx, code)
	if err != nil {
		if infra.IsKind(err, infra.KindNotFound) {
			return nil, errs.ErrPromotionNotFound
		}
		return nil, errs.Mark(err, errs.ErrDatabaseOperationFailed)
	}
	return promo, nil
}

func (r *redemptionCommandsImpl) classifyLockErr(err error) error {
	if errors.Is(err, errs.ErrLockUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return errs.Mark(err, errs.ErrConcurrencyConflict)
	}
	return errs.Mark(err, errs.ErrDatabaseOperationFailed)
}

func (r *redemptionCommandsImpl) releaseLock(ctx context.Context, lock Lock) {
	if err := lock.Release(ctx); err != nil {
		slog.Warn("failed to release redemption lock", "error", err)
	}
}

func (p ValidateParams) evaluateInput() promotion.EvaluateInput {
	return promotion.EvaluateInput{
		CustomerID:          p.CustomerID,
		GuestID:             p.GuestID,
		PurchaseAmount:      p.PurchaseAmount,
		Route:               p.Route,
		FareClass:           p.FareClass,
		DepartureDate:       p.DepartureDate,
		BookingDate:         p.BookingDate,
		IsFirstTimeCustomer: p.IsFirstTimeCustomer,
	}
}

// ceilingFailures re-runs only the limit checks (the double-check under
// lock); eligibility was the caller's responsibility on this path.
func ceilingFailures(promo *promotion.Promotion, counters promotion.Counters) []promotion.ValidationError {
	var reasons []promotion.ValidationError
	if promo.MaxTotalUsage != nil && counters.Total >= *promo.MaxTotalUsage {
		reasons = append(reasons, promotion.ValidationError{
			Code: promotion.ReasonTotalLimitReached, Message: "promotion has reached its total usage limit",
		})
	}
	if promo.MaxUsagePerCustomer != nil && counters.PerRedeemer >= *promo.MaxUsagePerCustomer {
		reasons = append(reasons, promotion.ValidationError{
			Code: promotion.ReasonCustomerLimitReached, Message: "customer has reached the per-customer usage limit",
		})
	}
	if promo.MaxUsagePerDay != nil && counters.PerDay >= *promo.MaxUsagePerDay {
		reasons = append(reasons, promotion.ValidationError{
			Code: promotion.ReasonDailyLimitReached, Message: "promotion has reached its daily usage limit",
		})
	}
	return reasons
}

// onlyCeilingFailures reports whether every failed check is a usage
// ceiling. Ceilings are the only checks a booking's own earlier success can
// trip, so they alone defer to the ledger's duplicate replay.
func onlyCeilingFailures(reasons []promotion.ValidationError) bool {
	for _, reason := range reasons {
		switch reason.Code {
		case promotion.ReasonTotalLimitReached, promotion.ReasonCustomerLimitReached, promotion.ReasonDailyLimitReached:
		default:
			return false
		}
	}
	return true
}

func failureCodeFor(reasons []promotion.ValidationError) FailureCode {
	for _, reason := range reasons {
		switch reason.Code {
		case promotion.ReasonTotalLimitReached, promotion.ReasonCustomerLimitReached, promotion.ReasonDailyLimitReached:
			return FailureLimitExceeded
		}
	}
	return FailureValidationFailed
}
