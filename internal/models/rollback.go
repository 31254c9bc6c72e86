package models

import "time"

// AssignmentState is the observed state of a (principal, permission set,
// account) binding. Unknown means the API could not be consulted; it is
// never coerced to a definite state.
type AssignmentState string

const (
	StateAssigned    AssignmentState = "assigned"
	StateNotAssigned AssignmentState = "not_assigned"
	StateUnknown     AssignmentState = "unknown"
)

// RollbackAction is one inverse step of a rollback plan.
type RollbackAction struct {
	PrincipalID      string          `json:"principal_id"`
	PrincipalType    PrincipalType   `json:"principal_type"`
	PermissionSetARN string          `json:"permission_set_arn"`
	AccountID        string          `json:"account_id"`
	ActionType       OperationType   `json:"action_type"`
	CurrentState     AssignmentState `json:"current_state"`
}

// TargetState returns the assignment state this action is trying to reach.
func (a *RollbackAction) TargetState() AssignmentState {
	if a.ActionType == OperationAssign {
		return StateAssigned
	}
	return StateNotAssigned
}

// RollbackPlan is the computed set of inverse actions for one operation.
// Plans are transient: recomputed per attempt, never persisted.
type RollbackPlan struct {
	OperationID       string           `json:"operation_id"`
	RollbackType      OperationType    `json:"rollback_type"`
	Actions           []RollbackAction `json:"actions"`
	EstimatedDuration time.Duration    `json:"estimated_duration"`
	Warnings          []string         `json:"warnings,omitempty"`
}

// RollbackResult is the outcome of executing a rollback plan.
type RollbackResult struct {
	RollbackOperationID string        `json:"rollback_operation_id"`
	Success             bool          `json:"success"`
	CompletedActions    int           `json:"completed_actions"`
	FailedActions       int           `json:"failed_actions"`
	Errors              []string      `json:"errors,omitempty"`
	Duration            time.Duration `json:"duration"`
}

// RollbackSummary is the persisted record of an executed rollback.
type RollbackSummary struct {
	RollbackID       string        `json:"rollback_id"`
	OperationID      string        `json:"operation_id"`
	Timestamp        time.Time     `json:"timestamp"`
	Type             OperationType `json:"rollback_type"`
	CompletedActions int           `json:"completed_actions"`
	FailedActions    int           `json:"failed_actions"`
	PrincipalID      string        `json:"principal_id"`
	PrincipalType    PrincipalType `json:"principal_type"`
	PermissionSetARN string        `json:"permission_set_arn"`
	AccountIDs       []string      `json:"account_ids"`
}

// RollbackValidation is the result of pre-rollback validation.
type RollbackValidation struct {
	OperationID string   `json:"operation_id"`
	Valid       bool     `json:"valid"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// IdempotencyCheck reports whether a rollback may proceed. A non-empty
// ExistingRollbackID means the operation was already rolled back.
type IdempotencyCheck struct {
	Idempotent         bool     `json:"idempotent"`
	ExistingRollbackID string   `json:"existing_rollback_id,omitempty"`
	Conflicts          []string `json:"conflicts,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`
}

// AssignmentRecord is a raw assignment as returned by the authorization API,
// attached to comprehensive verification results.
type AssignmentRecord struct {
	PrincipalID   string        `json:"principal_id"`
	PrincipalType PrincipalType `json:"principal_type"`
}

// AssignmentVerification compares expected against observed state for one
// account.
type AssignmentVerification struct {
	AccountID    string             `json:"account_id"`
	AccountLabel string             `json:"account_label,omitempty"`
	Expected     AssignmentState    `json:"expected"`
	Actual       AssignmentState    `json:"actual"`
	Verified     bool               `json:"verified"`
	Error        string             `json:"error,omitempty"`
	Assignments  []AssignmentRecord `json:"assignments,omitempty"`
}

// RollbackVerification is the aggregate post-rollback verification outcome.
type RollbackVerification struct {
	RollbackID string                   `json:"rollback_id"`
	Verified   bool                     `json:"verified"`
	Mismatches []AssignmentVerification `json:"mismatches,omitempty"`
	Warnings   []string                 `json:"warnings,omitempty"`
}
