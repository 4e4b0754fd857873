package habit

import (
	"errors"
	"fmt"
)

// ErrConflictIgnored is returned by a Store when an idempotent insert hit the
// (habit_id, date) uniqueness constraint. The engine absorbs it; it never
// reaches a caller.
var ErrConflictIgnored = errors.New("conflict ignored: record already exists")

// ValidationError reports malformed input: frequency sets, date keys, link
// types, or an operation that is not allowed in the habit's current state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a referenced habit, link or record that does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// UpstreamUnavailableError reports that the external store could not be
// reached or timed out.
type UpstreamUnavailableError struct {
	Op  string
	Err error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("upstream unavailable during %s: %v", e.Op, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsUpstreamUnavailable(err error) bool {
	var ue *UpstreamUnavailableError
	return errors.As(err, &ue)
}

func habitNotFound(habitID int) error {
	return &NotFoundError{Entity: "habit", Key: fmt.Sprintf("%d", habitID)}
}
