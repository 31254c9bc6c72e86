package models

import "time"

// OperationType represents the direction of an assignment operation
type OperationType string

const (
	OperationAssign OperationType = "assign"
	OperationRevoke OperationType = "revoke"
)

// Inverse returns the operation type that undoes this one.
func (t OperationType) Inverse() OperationType {
	if t == OperationAssign {
		return OperationRevoke
	}
	return OperationAssign
}

// PrincipalType uses the Identity Center wire values.
type PrincipalType string

const (
	PrincipalUser  PrincipalType = "USER"
	PrincipalGroup PrincipalType = "GROUP"
)

// OperationResult records the outcome of one operation against one account.
type OperationResult struct {
	AccountID string        `json:"account_id"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// OperationRecord is one row of the operation ledger: a forward assign or
// revoke executed against a set of accounts, with per-account results.
// Records are append-only; only RolledBack and RollbackOperationID are
// ever mutated, and only by the rollback processor.
type OperationRecord struct {
	OperationID         string            `json:"operation_id"`
	Timestamp           time.Time         `json:"timestamp"`
	Type                OperationType     `json:"operation_type"`
	PrincipalID         string            `json:"principal_id"`
	PrincipalType       PrincipalType     `json:"principal_type"`
	PrincipalName       string            `json:"principal_name,omitempty"`
	PermissionSetARN    string            `json:"permission_set_arn"`
	PermissionSetName   string            `json:"permission_set_name,omitempty"`
	AccountIDs          []string          `json:"account_ids"`
	AccountNames        []string          `json:"account_names,omitempty"`
	Results             []OperationResult `json:"results"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	RolledBack          bool              `json:"rolled_back"`
	RollbackOperationID string            `json:"rollback_operation_id,omitempty"`
}

// ShortID returns a shortened operation ID (first 8 characters)
func (r *OperationRecord) ShortID() string {
	if len(r.OperationID) > 8 {
		return r.OperationID[:8]
	}
	return r.OperationID
}

// SuccessfulResults returns the per-account results eligible for rollback.
func (r *OperationRecord) SuccessfulResults() []OperationResult {
	var out []OperationResult
	for _, res := range r.Results {
		if res.Success {
			out = append(out, res)
		}
	}
	return out
}

// AccountName returns the friendly name recorded for an account ID, or the
// ID itself when no name was captured.
func (r *OperationRecord) AccountName(accountID string) string {
	for i, id := range r.AccountIDs {
		if id == accountID && i < len(r.AccountNames) && r.AccountNames[i] != "" {
			return r.AccountNames[i]
		}
	}
	return accountID
}
