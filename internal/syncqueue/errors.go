package syncqueue

import (
	"fmt"
	"strings"

	"github.com/chainsyncstore/chainsync-golang/internal/conflict"
)

// ValidationError: the payload failed structural or business checks. Never
// retried; surfaced immediately with field-level detail.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

// TransientError: a network or database hiccup. The item returns to pending
// and is retried up to the configured maximum.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient failure: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// ConflictDetected is a routing signal, not a failure: the item surfaces in
// its conflict terminal state for resolution and is never retried away.
type ConflictDetected struct {
	Type    conflict.Type
	Message string
}

func (e *ConflictDetected) Error() string {
	return fmt.Sprintf("conflict detected (%s): %s", e.Type, e.Message)
}

// TerminalFailure: the retry budget is exhausted. Requires an explicit
// operator retry to re-enter the queue.
type TerminalFailure struct {
	Attempts int
	Err      error
}

func (e *TerminalFailure) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TerminalFailure) Unwrap() error {
	return e.Err
}
