package rollback

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRollbackInProgress is returned when another rollback attempt already
// holds the per-operation lock.
var ErrRollbackInProgress = errors.New("rollback already in progress for this operation")

// IdempotencyViolationError means the operation was already rolled back.
// It carries the prior rollback id so callers can redirect.
type IdempotencyViolationError struct {
	OperationID        string
	ExistingRollbackID string
}

func (e *IdempotencyViolationError) Error() string {
	return fmt.Sprintf("operation %s was already rolled back by %s",
		e.OperationID, e.ExistingRollbackID)
}

// ValidationError means the operation cannot be rolled back as requested.
type ValidationError struct {
	OperationID string
	Reasons     []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("operation %s is not rollback-eligible: %s",
		e.OperationID, strings.Join(e.Reasons, "; "))
}
