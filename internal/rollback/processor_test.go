package rollback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jklevins/permrevert/internal/ledger"
	"github.com/jklevins/permrevert/internal/models"
	"github.com/jklevins/permrevert/internal/recovery"
	"github.com/jklevins/permrevert/internal/ssoapi"
)

func newTestProcessor(st ledger.Store, client ssoapi.AdminClient) *Processor {
	p := NewProcessor(st, client, zap.NewNop())
	// Keep retry loops fast in tests
	for _, et := range []recovery.ErrorType{
		recovery.ErrTransientRemote, recovery.ErrTimeout,
		recovery.ErrNetwork, recovery.ErrUnknown,
	} {
		p.Executor().SetAction(et, recovery.RecoveryAction{
			Strategy: recovery.StrategyRetry,
			Retry: &recovery.RetryConfig{
				MaxAttempts:       2,
				InitialDelay:      time.Microsecond,
				MaxDelay:          time.Millisecond,
				BackoffMultiplier: 2.0,
			},
		})
	}
	return p
}

func testOpts() ApplyOptions {
	return ApplyOptions{SkipVerify: true}
}

// ==================== Validate Tests ====================

func TestValidate_NotFound(t *testing.T) {
	p := newTestProcessor(newTestStore(t), ssoapi.NewMockClient())

	v, err := p.Validate(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	require.NotEmpty(t, v.Errors)
	assert.Contains(t, v.Errors[0], "not found")
}

func TestValidate_AlreadyRolledBack(t *testing.T) {
	st := newTestStore(t)
	rec := assignRecord("op-1", "111111111111")
	rec.RolledBack = true
	rec.RollbackOperationID = "rb-prior"
	require.NoError(t, st.Record(rec))

	p := newTestProcessor(st, ssoapi.NewMockClient())
	v, err := p.Validate(context.Background(), "op-1")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Contains(t, v.Errors[0], "rb-prior")
}

func TestValidate_NoSuccessfulResults(t *testing.T) {
	st := newTestStore(t)
	rec := assignRecord("op-1", "111111111111")
	rec.Results[0].Success = false
	require.NoError(t, st.Record(rec))

	p := newTestProcessor(st, ssoapi.NewMockClient())
	v, err := p.Validate(context.Background(), "op-1")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Contains(t, v.Errors[0], "no successful results")
}

func TestValidate_PartialOriginalWarns(t *testing.T) {
	st := newTestStore(t)
	client := ssoapi.NewMockClient()
	client.Assign("111111111111", testPermissionSet, testPrincipal, models.PrincipalUser)
	rec := assignRecord("op-1", "111111111111", "222222222222")
	rec.Results[1].Success = false
	require.NoError(t, st.Record(rec))

	p := newTestProcessor(st, client)
	v, err := p.Validate(context.Background(), "op-1")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	require.NotEmpty(t, v.Warnings)
	assert.Contains(t, v.Warnings[0], "will be skipped")
}

func TestValidate_StateConflictWarns(t *testing.T) {
	st := newTestStore(t)
	// ASSIGN rollback target is NOT_ASSIGNED; the account is already there
	client := ssoapi.NewMockClient()
	require.NoError(t, st.Record(assignRecord("op-1", "111111111111")))

	p := newTestProcessor(st, client)
	v, err := p.Validate(context.Background(), "op-1")
	require.NoError(t, err)
	assert.True(t, v.Valid)

	found := false
	for _, w := range v.Warnings {
		if w == "account 111111111111 is already in the rollback target state" {
			found = true
		}
	}
	assert.True(t, found, "expected state conflict warning, got %v", v.Warnings)
}

// ==================== Apply Tests ====================

func TestApply_EndToEnd(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	client := ssoapi.NewMockClient()
	// Live state: account 1 assigned, account 2 already revoked out of band
	client.Assign("111111111111", testPermissionSet, testPrincipal, models.PrincipalUser)
	require.NoError(t, st.Record(assignRecord("op-1", "111111111111", "222222222222")))

	p := newTestProcessor(st, client)

	plan, err := p.Plan(ctx, "op-1")
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, models.OperationRevoke, plan.Actions[0].ActionType)
	assert.Equal(t, "111111111111", plan.Actions[0].AccountID)
	require.Len(t, plan.Warnings, 1)

	result, err := p.Apply(ctx, "op-1", testOpts())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.CompletedActions)
	assert.Equal(t, 0, result.FailedActions)
	assert.NotEmpty(t, result.RollbackOperationID)

	// The assignment is gone from live state
	assert.False(t, client.HasAssignment("111111111111", testPermissionSet, testPrincipal))

	// The original record is marked rolled back
	rec, err := st.Get("op-1")
	require.NoError(t, err)
	assert.True(t, rec.RolledBack)
	assert.Equal(t, result.RollbackOperationID, rec.RollbackOperationID)

	// A rollback summary was persisted
	rb, err := st.GetRollback(result.RollbackOperationID)
	require.NoError(t, err)
	assert.Equal(t, "op-1", rb.OperationID)
	assert.Equal(t, models.OperationRevoke, rb.Type)
	assert.Equal(t, 1, rb.CompletedActions)
}

func TestApply_SecondAttemptIsIdempotencyViolation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	client := ssoapi.NewMockClient()
	client.Assign("111111111111", testPermissionSet, testPrincipal, models.PrincipalUser)
	require.NoError(t, st.Record(assignRecord("op-1", "111111111111")))

	p := newTestProcessor(st, client)
	first, err := p.Apply(ctx, "op-1", testOpts())
	require.NoError(t, err)
	require.True(t, first.Success)

	callsAfterFirst := len(client.Calls)

	_, err = p.Apply(ctx, "op-1", testOpts())
	var iv *IdempotencyViolationError
	require.ErrorAs(t, err, &iv)
	assert.Equal(t, first.RollbackOperationID, iv.ExistingRollbackID)

	// The violation short-circuits before any API call
	assert.Equal(t, callsAfterFirst, len(client.Calls))
}

func TestApply_DryRunHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	client := ssoapi.NewMockClient()
	client.Assign("111111111111", testPermissionSet, testPrincipal, models.PrincipalUser)
	require.NoError(t, st.Record(assignRecord("op-1", "111111111111")))

	p := newTestProcessor(st, client)
	result, err := p.Apply(ctx, "op-1", ApplyOptions{DryRun: true})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.CompletedActions)
	assert.Equal(t, 0, result.FailedActions)

	// No mutations: assignment intact, record not flagged, no rollback stored
	assert.True(t, client.HasAssignment("111111111111", testPermissionSet, testPrincipal))
	assert.Zero(t, client.CallCount("CreateAssignment"))
	assert.Zero(t, client.CallCount("DeleteAssignment"))
	rec, err := st.Get("op-1")
	require.NoError(t, err)
	assert.False(t, rec.RolledBack)
}

func TestApply_PartialFailureLeavesOriginalEligible(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	client := ssoapi.NewMockClient()
	client.Assign("111111111111", testPermissionSet, testPrincipal, models.PrincipalUser)
	client.Assign("222222222222", testPermissionSet, testPrincipal, models.PrincipalUser)
	require.NoError(t, st.Record(assignRecord("op-1", "111111111111", "222222222222")))

	// Deletes fail fast with a permission error
	client.DeleteErr = &ssoapi.APIError{Code: "AccessDeniedException", Message: "denied"}

	p := newTestProcessor(st, client)
	result, err := p.Apply(ctx, "op-1", testOpts())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 0, result.CompletedActions)
	assert.Equal(t, 2, result.FailedActions)

	// Two per-account errors plus the graded batch outcome
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[2], "execution failure")

	// The original stays rollback-eligible for a future retry
	rec, err := st.Get("op-1")
	require.NoError(t, err)
	assert.False(t, rec.RolledBack)
	assert.Empty(t, rec.RollbackOperationID)
}

func TestApply_MixedOutcomeDoesNotMarkRolledBack(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	client := ssoapi.NewMockClient()
	client.Assign("111111111111", testPermissionSet, testPrincipal, models.PrincipalUser)
	client.Assign("222222222222", testPermissionSet, testPrincipal, models.PrincipalUser)
	require.NoError(t, st.Record(assignRecord("op-1", "111111111111", "222222222222")))

	p := newTestProcessor(st, client)

	// One account succeeds, the other keeps failing with a retryable error
	// that exhausts its attempts. Batch size 1 keeps execution ordered.
	client.DeleteErrFor = map[string]error{
		"222222222222": &ssoapi.APIError{Code: "ThrottlingException", Message: "slow down"},
	}

	result, err := p.Apply(ctx, "op-1", ApplyOptions{SkipVerify: true, BatchSize: 1})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.CompletedActions)
	assert.Equal(t, 1, result.FailedActions)

	// 1 of 2 sits between the thresholds: the graded outcome demands
	// manual intervention and is surfaced to the caller
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[len(result.Errors)-1], "partial failure")

	// Partial rollback: summary persisted, original not marked
	rec, err := st.Get("op-1")
	require.NoError(t, err)
	assert.False(t, rec.RolledBack)

	rollbacks, err := st.ListRollbacks(0)
	require.NoError(t, err)
	require.Len(t, rollbacks, 1)
	assert.Equal(t, 1, rollbacks[0].CompletedActions)
	assert.Equal(t, 1, rollbacks[0].FailedActions)
}

func TestApply_SkipAndContinueCountAsCompleted(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	client := ssoapi.NewMockClient()
	client.Assign("111111111111", testPermissionSet, testPrincipal, models.PrincipalUser)
	require.NoError(t, st.Record(assignRecord("op-1", "111111111111")))

	// The delete hits a conflict: the change is effectively applied
	client.DeleteErr = &ssoapi.APIError{Code: "ConflictException", Message: "concurrent change"}

	p := newTestProcessor(st, client)
	result, err := p.Apply(ctx, "op-1", testOpts())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.CompletedActions)
	// The suppressed conflict error is surfaced as metadata
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "treated as complete")

	rec, err := st.Get("op-1")
	require.NoError(t, err)
	assert.True(t, rec.RolledBack)
}

func TestApply_NoSuccessfulResultsIsValidationError(t *testing.T) {
	st := newTestStore(t)
	rec := assignRecord("op-1", "111111111111")
	rec.Results[0].Success = false
	require.NoError(t, st.Record(rec))

	p := newTestProcessor(st, ssoapi.NewMockClient())
	_, err := p.Apply(context.Background(), "op-1", testOpts())

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "op-1", ve.OperationID)
}

func TestApply_NotFound(t *testing.T) {
	p := newTestProcessor(newTestStore(t), ssoapi.NewMockClient())

	_, err := p.Apply(context.Background(), "missing", testOpts())
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// vanishingClient reports the seeded assignments on the first state
// inspection and an empty result on every later one, so the binding
// disappears between planning and execution.
type vanishingClient struct {
	*ssoapi.MockClient
	lists int
}

func (c *vanishingClient) ListAssignments(ctx context.Context, accountID, permissionSetARN string) ([]ssoapi.Assignment, error) {
	c.lists++
	if c.lists == 1 {
		return c.MockClient.ListAssignments(ctx, accountID, permissionSetARN)
	}
	return nil, nil
}

func TestApply_IdempotentActionAgainstAppliedState(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	mock := ssoapi.NewMockClient()
	mock.Assign("111111111111", testPermissionSet, testPrincipal, models.PrincipalUser)
	require.NoError(t, st.Record(assignRecord("op-1", "111111111111")))

	// Plan time sees the assignment, so the action is generated; the
	// execute-time re-check finds the target state already holds and the
	// action becomes a success-returning no-op.
	p := newTestProcessor(st, &vanishingClient{MockClient: mock})

	result, err := p.Apply(ctx, "op-1", testOpts())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.CompletedActions)
	assert.Zero(t, mock.CallCount("DeleteAssignment"))
}

// ==================== Verify Tests ====================

func TestVerifyRollback(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	client := ssoapi.NewMockClient()
	client.Assign("111111111111", testPermissionSet, testPrincipal, models.PrincipalUser)
	require.NoError(t, st.Record(assignRecord("op-1", "111111111111")))

	p := newTestProcessor(st, client)
	result, err := p.Apply(ctx, "op-1", testOpts())
	require.NoError(t, err)

	v, err := p.VerifyRollback(ctx, result.RollbackOperationID, "basic")
	require.NoError(t, err)
	assert.True(t, v.Verified)
	assert.Empty(t, v.Mismatches)

	// Re-assigning out of band makes verification report a mismatch
	client.Assign("111111111111", testPermissionSet, testPrincipal, models.PrincipalUser)
	v, err = p.VerifyRollback(ctx, result.RollbackOperationID, "basic")
	require.NoError(t, err)
	assert.False(t, v.Verified)
	require.Len(t, v.Mismatches, 1)
	assert.Equal(t, models.StateNotAssigned, v.Mismatches[0].Expected)
	assert.Equal(t, models.StateAssigned, v.Mismatches[0].Actual)
}

func TestVerifyRollback_NotFound(t *testing.T) {
	p := newTestProcessor(newTestStore(t), ssoapi.NewMockClient())

	_, err := p.VerifyRollback(context.Background(), "missing", "basic")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// ==================== Concurrency Tests ====================

func TestApply_ConcurrentAttemptRejected(t *testing.T) {
	st := newTestStore(t)
	client := ssoapi.NewMockClient()
	p := newTestProcessor(st, client)

	require.True(t, p.tryLock("op-1"))
	defer p.unlock("op-1")

	_, err := p.Apply(context.Background(), "op-1", testOpts())
	assert.ErrorIs(t, err, ErrRollbackInProgress)
}
