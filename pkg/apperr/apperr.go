// Package apperr defines the error taxonomy shared by the reward ledger
// services. Errors are sentinels wrapped with context and matched with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input rejected before touching storage.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an unknown game, coupon type, user or referral code.
	ErrNotFound = errors.New("not found")
	// ErrInactive marks a disabled game or referral code.
	ErrInactive = errors.New("inactive")
	// ErrExpired marks an expired referral code. It also matches ErrInactive.
	ErrExpired = fmt.Errorf("%w: expired", ErrInactive)
	// ErrLimitExceeded marks a reached play cap. Terminal, not retryable.
	ErrLimitExceeded = errors.New("play limit exceeded")
	// ErrConflict marks a detected race. The caller may retry the whole operation.
	ErrConflict = errors.New("conflict")
	// ErrPersistence marks a storage failure. No partial writes are visible.
	ErrPersistence = errors.New("persistence failure")
)

// Validation wraps ErrValidation with a formatted message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the kind and id of the missing entity.
func NotFound(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
}

// Inactive wraps ErrInactive for a disabled entity.
func Inactive(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrInactive, kind, id)
}

// Expired wraps ErrExpired for an entity past its expiry.
func Expired(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrExpired, kind, id)
}

// LimitExceeded wraps ErrLimitExceeded with the game and its cap.
func LimitExceeded(gameID string, max int) error {
	return fmt.Errorf("%w: game %q allows %d plays", ErrLimitExceeded, gameID, max)
}

// Persistence wraps a driver error so that it matches ErrPersistence.
// Errors already classified by this package are returned unchanged.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// Retryable reports whether the caller may retry the operation that failed with err.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Classified reports whether err already carries one of the taxonomy sentinels.
func Classified(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrNotFound, ErrInactive, ErrLimitExceeded, ErrConflict, ErrPersistence,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
