package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrAlreadyRefunded     = errors.New("usage log already refunded")
)

// JobCreationError reports that a job row could not be inserted.
type JobCreationError struct {
	Attempts int
	Err      error
}

func (e *JobCreationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("job creation failed after %d attempt(s)", e.Attempts)
	}
	return fmt.Sprintf("job creation failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *JobCreationError) Unwrap() error {
	return e.Err
}
