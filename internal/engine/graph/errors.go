package graph

import (
	"errors"
	"fmt"
)

var (
	ErrSelfDependency         = errors.New("task cannot depend on itself")
	ErrCrossProjectDependency = errors.New("dependency must belong to the same project")
	ErrCycleDetected          = errors.New("dependency would create a cycle")
	ErrSelfParent             = errors.New("task cannot be its own parent")
	ErrCrossProjectParent     = errors.New("parent must belong to the same project")
	ErrParentCycle            = errors.New("parent would create a cycle")
	ErrTraversalLimit         = errors.New("graph traversal limit exceeded")
)

// Error wraps a graph rule violation with the tasks involved.
type Error struct {
	Kind   error
	TaskID string
	Other  string
}

func (e *Error) Error() string {
	if e.Other == "" {
		return fmt.Sprintf("%s: %s", e.Kind.Error(), e.TaskID)
	}
	return fmt.Sprintf("%s: %s -> %s", e.Kind.Error(), e.TaskID, e.Other)
}

func (e *Error) Unwrap() error { return e.Kind }

func violation(kind error, taskID, other string) error {
	return &Error{Kind: kind, TaskID: taskID, Other: other}
}
