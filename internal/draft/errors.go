package draft

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by a Cache when no draft exists for a stage.
	ErrNotFound = errors.New("draft not found")

	// ErrUnavailable is returned when the durable cache could not be reached
	// at first use and snapshots are disabled.
	ErrUnavailable = errors.New("draft cache unavailable")
)

// PersistenceError reports a failed cache operation for one stage.
type PersistenceError struct {
	Op      string
	StageID string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("draft %s for stage %s: %v", e.Op, e.StageID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
