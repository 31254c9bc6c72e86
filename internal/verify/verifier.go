// Package verify inspects live Identity Center state, compares it against
// the ledger's expectations, and guards rollback idempotency.
package verify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jklevins/permrevert/internal/ledger"
	"github.com/jklevins/permrevert/internal/models"
	"github.com/jklevins/permrevert/internal/ssoapi"
)

// Level controls how much detail a verification pass collects. Higher
// levels cost the same number of API calls but attach more diagnostics.
type Level string

const (
	LevelBasic         Level = "basic"
	LevelDetailed      Level = "detailed"
	LevelComprehensive Level = "comprehensive"
)

// Verifier answers state and idempotency questions for the rollback
// processor. A nil client degrades every state probe to unknown.
type Verifier struct {
	store  ledger.Store
	client ssoapi.AdminClient
	logger *zap.Logger
}

// New creates a Verifier.
func New(store ledger.Store, client ssoapi.AdminClient, logger *zap.Logger) *Verifier {
	return &Verifier{store: store, client: client, logger: logger}
}

// CheckIdempotency decides whether a rollback of the operation may proceed.
// An operation that was already rolled back is a hard conflict carrying the
// existing rollback id; callers must not plan or execute past it.
func (v *Verifier) CheckIdempotency(operationID string) models.IdempotencyCheck {
	rec, err := v.store.Get(operationID)
	if errors.Is(err, ledger.ErrNotFound) {
		return models.IdempotencyCheck{
			Conflicts: []string{fmt.Sprintf("operation %s not found", operationID)},
		}
	}
	if err != nil {
		return models.IdempotencyCheck{
			Conflicts: []string{fmt.Sprintf("ledger read failed: %v", err)},
		}
	}
	if rec.RolledBack {
		return models.IdempotencyCheck{
			ExistingRollbackID: rec.RollbackOperationID,
			Conflicts: []string{fmt.Sprintf("operation %s was already rolled back by %s",
				operationID, rec.RollbackOperationID)},
		}
	}

	check := models.IdempotencyCheck{Idempotent: true}
	check.Conflicts = append(check.Conflicts, v.resourceConflicts(rec)...)
	if len(check.Conflicts) > 0 {
		check.Idempotent = false
	}
	return check
}

// resourceConflicts is the hook for cross-operation conflict detection
// (e.g. a newer operation touching the same principal/permission set).
// TODO: compare against operations newer than rec touching the same triple.
func (v *Verifier) resourceConflicts(rec *models.OperationRecord) []string {
	return nil
}

// AssignmentState observes the live state of one binding. API errors and a
// missing client both yield unknown, never a definite state.
func (v *Verifier) AssignmentState(ctx context.Context, accountID, permissionSetARN, principalID string, principalType models.PrincipalType) models.AssignmentState {
	state, _ := v.assignmentStateRaw(ctx, accountID, permissionSetARN, principalID, principalType)
	return state
}

func (v *Verifier) assignmentStateRaw(ctx context.Context, accountID, permissionSetARN, principalID string, principalType models.PrincipalType) (models.AssignmentState, []ssoapi.Assignment) {
	if v.client == nil {
		return models.StateUnknown, nil
	}
	assignments, err := v.client.ListAssignments(ctx, accountID, permissionSetARN)
	if err != nil {
		v.logger.Warn("state inspection failed",
			zap.String("account_id", accountID),
			zap.Error(err))
		return models.StateUnknown, nil
	}
	for _, a := range assignments {
		if a.PrincipalID == principalID && a.PrincipalType == principalType {
			return models.StateAssigned, assignments
		}
	}
	return models.StateNotAssigned, assignments
}

// VerifyPreRollbackState checks that each successfully assigned account
// still reflects the original operation's intent.
func (v *Verifier) VerifyPreRollbackState(ctx context.Context, rec *models.OperationRecord, level Level) []models.AssignmentVerification {
	expected := models.StateAssigned
	if rec.Type == models.OperationRevoke {
		expected = models.StateNotAssigned
	}

	var out []models.AssignmentVerification
	for _, res := range rec.SuccessfulResults() {
		out = append(out, v.verifyAccount(ctx, rec, res.AccountID, expected, level))
	}
	return out
}

// VerifyPostRollbackState checks that each executed action reached its
// target state.
func (v *Verifier) VerifyPostRollbackState(ctx context.Context, rec *models.OperationRecord, actions []models.RollbackAction, level Level) []models.AssignmentVerification {
	var out []models.AssignmentVerification
	for _, a := range actions {
		out = append(out, v.verifyAccount(ctx, rec, a.AccountID, a.TargetState(), level))
	}
	return out
}

func (v *Verifier) verifyAccount(ctx context.Context, rec *models.OperationRecord, accountID string, expected models.AssignmentState, level Level) models.AssignmentVerification {
	result := models.AssignmentVerification{
		AccountID: accountID,
		Expected:  expected,
	}

	actual, raw := v.assignmentStateRaw(ctx, accountID, rec.PermissionSetARN, rec.PrincipalID, rec.PrincipalType)
	result.Actual = actual
	result.Verified = actual == expected
	if actual == models.StateUnknown {
		result.Error = "live state could not be determined"
	}

	if level == LevelDetailed || level == LevelComprehensive {
		result.AccountLabel = rec.AccountName(accountID)
	}
	if level == LevelComprehensive {
		for _, a := range raw {
			result.Assignments = append(result.Assignments, models.AssignmentRecord{
				PrincipalID:   a.PrincipalID,
				PrincipalType: a.PrincipalType,
			})
		}
	}
	return result
}
