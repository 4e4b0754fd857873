package repository

import (
	"errors"
	"fmt"

	"habitledger/internal/habit"
	"habitledger/pkg/util"
)

// classify maps driver errors onto the engine's error kinds. Domain errors
// raised inside a transaction callback pass through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, habit.ErrConflictIgnored) ||
		habit.IsValidation(err) ||
		habit.IsNotFound(err) ||
		habit.IsUpstreamUnavailable(err) {
		return err
	}
	if retryable, _ := util.IsRetryableError(err); retryable {
		return &habit.UpstreamUnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
