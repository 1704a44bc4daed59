package editor

import (
	"errors"
	"fmt"
)

// Sentinel errors for editing sessions.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStageNotFound   = errors.New("stage is not part of this session")
	ErrBlockNotFound   = errors.New("block not found")
	ErrProtectedBlock  = errors.New("header and options-list blocks cannot be removed")
	ErrInvalidMove     = errors.New("block position out of range")
	ErrDraftMismatch   = errors.New("draft belongs to another funnel")
)

// RemoteSaveError reports a failed write to the relational store. The
// session's in-memory state is unchanged when it is returned.
type RemoteSaveError struct {
	StageID string
	Op      string
	Err     error
}

func (e *RemoteSaveError) Error() string {
	if e.StageID == "" {
		return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s of stage %s failed: %v", e.Op, e.StageID, e.Err)
}

func (e *RemoteSaveError) Unwrap() error { return e.Err }
