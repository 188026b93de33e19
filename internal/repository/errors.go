package repository

import (
	"errors"
	"fmt"
)

// ErrStaleState is returned when a conditional recurrence update finds the
// row already advanced by someone else.
var ErrStaleState = errors.New("recurrence state changed concurrently")

// PersistenceError wraps a failed write for one task.
type PersistenceError struct {
	TaskID uint
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist task %d: %v", e.TaskID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
