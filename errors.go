package chatctx

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrInvalidConfig is returned when the manager configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSystemPromptRequired is returned when OptimalContext is called
	// without a system prompt
	ErrSystemPromptRequired = errors.New("system prompt is required")

	// ErrUnknownBackend is returned by OpenStore for an unrecognized backend
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// ThreadError represents an error scoped to a thread operation
type ThreadError struct {
	Op       string // Operation that failed
	ThreadID string // Thread ID if applicable
	Err      error  // Underlying error
}

// Error implements the error interface
func (e *ThreadError) Error() string {
	if e.ThreadID != "" {
		return fmt.Sprintf("%s (thread=%s): %v", e.Op, e.ThreadID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *ThreadError) Unwrap() error {
	return e.Err
}

// newThreadError creates a new ThreadError
func newThreadError(op, threadID string, err error) *ThreadError {
	return &ThreadError{Op: op, ThreadID: threadID, Err: err}
}
