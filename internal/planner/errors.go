// Package planner defines the error taxonomy shared by services and the bot
// surface. Errors are values: callers branch with errors.Is / errors.As, and
// storage failures from gorm are wrapped, never swallowed.
package planner

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound marks operations referencing a task or template that no longer
// exists, typically after a concurrent deletion from another chat session.
var ErrNotFound = errors.New("not found")

// OverlapError rejects a task placement that collides with existing tasks on
// the same day. The violation fields carry the nearest occupied boundary on
// each side so the caller can offer a one-tap snap correction.
type OverlapError struct {
	StartViolation *time.Time // end of the occupied interval the start runs into
	EndViolation   *time.Time // start of the occupied interval the end runs into
}

func (e *OverlapError) Error() string {
	switch {
	case e.StartViolation != nil && e.EndViolation != nil:
		return fmt.Sprintf("time range overlaps existing tasks (free between %s and %s)",
			e.StartViolation.Format("15:04"), e.EndViolation.Format("15:04"))
	case e.StartViolation != nil:
		return fmt.Sprintf("start overlaps an existing task ending at %s", e.StartViolation.Format("15:04"))
	case e.EndViolation != nil:
		return fmt.Sprintf("end overlaps an existing task starting at %s", e.EndViolation.Format("15:04"))
	default:
		return "time range overlaps an existing task"
	}
}

// AsOverlap extracts an OverlapError from an error chain.
func AsOverlap(err error) (*OverlapError, bool) {
	var oe *OverlapError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// MapStorage converts a gorm error into the planner taxonomy: record-not-found
// becomes ErrNotFound, anything else is wrapped as an opaque storage failure.
func MapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
