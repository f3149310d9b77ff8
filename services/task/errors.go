package task

import "errors"

var (
	ErrValidation        = errors.New("task validation failed")
	ErrInvalidTransition = errors.New("invalid task transition")
	ErrTaskNotFound      = errors.New("task not found")
	ErrNotAssigned       = errors.New("task is not assigned to this client")
	ErrNotDue            = errors.New("interval has not elapsed")
)

func isTransitionConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
