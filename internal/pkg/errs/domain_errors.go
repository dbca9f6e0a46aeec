package errs

import "errors"

// Sentinel errors shared by the redemption usecase layers
var (
	// Promotion errors
	ErrPromotionNotFound = errors.New("promotion not found")

	// Redemption errors
	ErrConcurrencyConflict = errors.New("concurrent redemption conflict")
	ErrReversalNotFound    = errors.New("no active usage found for booking")

	// Validation errors
	ErrValidationFailed = errors.New("promotion validation failed")

	// Operation errors
	ErrDatabaseOperationFailed = errors.New("database operation failed")
	ErrLockUnavailable         = errors.New("lock not acquired within timeout")
)
