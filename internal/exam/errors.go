package exam

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyInProgress = errors.New("exam: attempt already in progress")
	ErrGenerationFailed  = errors.New("exam: question generation failed")
	ErrNotInProgress     = errors.New("exam: session is not in progress")
	ErrSubmitFailed      = errors.New("exam: submission could not be finalized")
	ErrSessionClosed     = errors.New("exam: session closed")
)

// AlreadyInProgressError carries the id of the existing in-progress attempt
// so the caller can route the user back to it instead of retrying blindly.
type AlreadyInProgressError struct {
	AttemptID uint
}

func (e *AlreadyInProgressError) Error() string {
	return fmt.Sprintf("exam: attempt %d already in progress", e.AttemptID)
}

func (e *AlreadyInProgressError) Is(target error) bool {
	return target == ErrAlreadyInProgress
}
