package task

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("task not found")
	ErrForbidden              = errors.New("forbidden")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrDependencyNotSatisfied = errors.New("dependency not satisfied")
	ErrConflict               = errors.New("conflicting concurrent update")
	ErrInvalidInput           = errors.New("invalid input")

	ErrNotAdmin    = fmt.Errorf("%w: caller is not an administrator", ErrForbidden)
	ErrNotReviewer = fmt.Errorf("%w: caller is not the main reviewer", ErrForbidden)
	ErrNotAssignee = fmt.Errorf("%w: caller is not the assignee", ErrForbidden)
)

// TransitionError reports a status change rejected because of the current status.
type TransitionError struct {
	TaskID  string
	Current Status
	Target  Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot move from %s to %s", e.TaskID, e.Current, e.Target)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// DependencyError reports the task blocking a start transition.
type DependencyError struct {
	TaskID       string
	DependencyID string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("task %s: dependency %s is not done", e.TaskID, e.DependencyID)
}

func (e *DependencyError) Unwrap() error { return ErrDependencyNotSatisfied }
