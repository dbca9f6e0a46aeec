package commands

import (
	"context"
	"time"

	"promotion-service/internal/domain/promotion"
	"promotion-service/internal/domain/redemption"

	"github.com/google/uuid"
)

// RecordOutcome classifies what the ledger's conditional write did.
type RecordOutcome int

const (
	// OutcomeRecorded: the usage was persisted and counters incremented.
	OutcomeRecorded RecordOutcome = iota
	// OutcomeDuplicate: a non-reversed usage already existed for the
	// booking; the original record is returned and nothing changed.
	OutcomeDuplicate
	// OutcomeLimitExceeded: a ceiling no longer held at write time.
	OutcomeLimitExceeded
)

type RecordResult struct {
	Outcome        RecordOutcome
	Usage          *redemption.Usage
	RemainingUsage *int64
}

// UsageLedger is the durable store for promotion configuration and the
// append-only redemption history. TryRecordUsage is the single
// atomicity-bearing operation: it re-checks every ceiling against the
// store's current truth inside one transaction, so the global invariant
// holds even when the distributed lock is degraded.
type UsageLedger interface {
	FindByCode(ctx context.Context, code promotion.Code) (*promotion.Promotion, error)
	Counters(ctx context.Context, promotionID uuid.UUID, redeemerKey string, day time.Time) (promotion.Counters, error)
	UsageCountFor(ctx context.Context, promotionID uuid.UUID, redeemerKey string) (int64, error)
	DailyUsageCount(ctx context.Context, promotionID uuid.UUID, day time.Time) (int64, error)
	TryRecordUsage(ctx context.Context, usage *redemption.Usage) (*RecordResult, error)
	ReverseUsage(ctx context.Context, bookingID uuid.UUID, reversedBy string, reason *string) (bool, error)
	CodeForBooking(ctx context.Context, bookingID uuid.UUID) (promotion.Code, error)
}

// Lock is a held distributed lock; Release is safe to call on every exit
// path, including after the lock has already expired.
type Lock interface {
	Release(ctx context.Context) error
}

// LockProvider hands out short-lived mutual exclusion keyed by promotion
// code (or booking, for reversals). Acquire returns
// errs.ErrLockUnavailable when the key stays contended past the provider's
// retry budget; cancellation of ctx aborts both the current wait and any
// further retries.
type LockProvider interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// PromotionCache mirrors promotion snapshots for validation-only reads.
// It only ever mirrors counter state, never originates it; every write
// path invalidates after a successful ledger write.
type PromotionCache interface {
	Get(ctx context.Context, code promotion.Code) (*promotion.Promotion, bool)
	Set(ctx context.Context, code promotion.Code, promo *promotion.Promotion, ttl time.Duration)
	Invalidate(ctx context.Context, code promotion.Code) error
	IncrementUsage(ctx context.Context, code promotion.Code) error
	DecrementUsage(ctx context.Context, code promotion.Code) error
}

// Lock keys: unrelated customers redeeming the same code are serialized by
// the code-scoped key because the global ceiling spans all of them; booking
// reversals only contend with themselves.
func lockKeyForCode(code promotion.Code) string {
	return "promo:lock:code:" + code.String()
}

func lockKeyForBooking(bookingID uuid.UUID) string {
	return "promo:lock:booking:" + bookingID.String()
}
