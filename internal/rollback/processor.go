package rollback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jklevins/permrevert/internal/ledger"
	"github.com/jklevins/permrevert/internal/models"
	"github.com/jklevins/permrevert/internal/recovery"
	"github.com/jklevins/permrevert/internal/ssoapi"
	"github.com/jklevins/permrevert/internal/verify"
)

// DefaultBatchSize is the number of actions executed per batch.
const DefaultBatchSize = 10

// Post-rollback verification retries, absorbing eventual-consistency lag.
const (
	verifyMaxRetries   = 3
	verifyInitialDelay = 2 * time.Second
)

// ApplyOptions tune a single rollback attempt.
type ApplyOptions struct {
	DryRun      bool
	BatchSize   int
	SkipVerify  bool
	VerifyLevel verify.Level
}

// Processor orchestrates a rollback attempt: validate, plan, execute with
// recovery, update the ledger, then verify. Construct one per process and
// share it; per-operation locking serializes concurrent attempts on the
// same operation id.
type Processor struct {
	store    ledger.Store
	client   ssoapi.AdminClient
	verifier *verify.Verifier
	planner  *Planner
	executor *recovery.Executor
	logger   *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewProcessor wires a Processor and its collaborators. client may be nil
// for planning and validation against the ledger alone.
func NewProcessor(store ledger.Store, client ssoapi.AdminClient, logger *zap.Logger) *Processor {
	verifier := verify.New(store, client, logger)
	return &Processor{
		store:    store,
		client:   client,
		verifier: verifier,
		planner:  NewPlanner(store, verifier, logger),
		executor: recovery.NewExecutor(logger),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Executor exposes the recovery executor for tuning (thresholds, retry
// tables) before use.
func (p *Processor) Executor() *recovery.Executor { return p.executor }

// tryLock claims the per-operation advisory lock. The lock is in-process
// only; cross-process exclusion relies on the ledger's conditional
// mark-rolled-back write.
func (p *Processor) tryLock(operationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[operationID]; busy {
		return false
	}
	p.inflight[operationID] = struct{}{}
	return true
}

func (p *Processor) unlock(operationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, operationID)
}

// List returns ledger records matching the query, newest first.
func (p *Processor) List(q ledger.Query) ([]*models.OperationRecord, error) {
	return p.store.List(q)
}

// Plan computes the rollback plan for an operation without executing it.
func (p *Processor) Plan(ctx context.Context, operationID string) (*models.RollbackPlan, error) {
	return p.planner.GeneratePlan(ctx, operationID)
}

// Validate checks whether an operation can be rolled back. Validation
// failures are reported in the result, not as errors; only infrastructure
// faults surface as errors.
func (p *Processor) Validate(ctx context.Context, operationID string) (*models.RollbackValidation, error) {
	v := &models.RollbackValidation{OperationID: operationID, Valid: true}

	check := p.verifier.CheckIdempotency(operationID)
	if !check.Idempotent {
		v.Valid = false
		v.Errors = append(v.Errors, check.Conflicts...)
		return v, nil
	}
	v.Warnings = append(v.Warnings, check.Warnings...)

	rec, err := p.store.Get(operationID)
	if err != nil {
		return nil, err
	}

	successful := rec.SuccessfulResults()
	if len(successful) == 0 {
		v.Valid = false
		v.Errors = append(v.Errors, "operation has no successful results to roll back")
		return v, nil
	}
	if len(successful) < len(rec.Results) {
		v.Warnings = append(v.Warnings,
			fmt.Sprintf("%d of %d accounts failed in the original operation and will be skipped",
				len(rec.Results)-len(successful), len(rec.Results)))
	}

	// Optional live probes; failures are warnings, not blockers.
	if p.client != nil {
		if _, err := p.client.ListPermissionSets(ctx); err != nil {
			v.Warnings = append(v.Warnings,
				fmt.Sprintf("authorization API access check failed: %v", err))
		}
		target := models.StateNotAssigned
		if rec.Type.Inverse() == models.OperationAssign {
			target = models.StateAssigned
		}
		for _, res := range successful {
			state := p.verifier.AssignmentState(ctx, res.AccountID, rec.PermissionSetARN, rec.PrincipalID, rec.PrincipalType)
			if state == target {
				v.Warnings = append(v.Warnings,
					fmt.Sprintf("account %s is already in the rollback target state", res.AccountID))
			}
		}
	}

	return v, nil
}

// Apply rolls back an operation. On success the original record is marked
// rolled back; a partially failed rollback leaves it eligible for a future
// retry. Idempotency violations return *IdempotencyViolationError.
func (p *Processor) Apply(ctx context.Context, operationID string, opts ApplyOptions) (*models.RollbackResult, error) {
	if !opts.DryRun && p.client == nil {
		return nil, fmt.Errorf("authorization client is required to execute a rollback")
	}
	if !p.tryLock(operationID) {
		return nil, fmt.Errorf("operation %s: %w", operationID, ErrRollbackInProgress)
	}
	defer p.unlock(operationID)

	// VALIDATE
	rec, err := p.store.Get(operationID)
	if err != nil {
		return nil, err
	}
	check := p.verifier.CheckIdempotency(operationID)
	if !check.Idempotent {
		if check.ExistingRollbackID != "" {
			return nil, &IdempotencyViolationError{
				OperationID:        operationID,
				ExistingRollbackID: check.ExistingRollbackID,
			}
		}
		return nil, &ValidationError{OperationID: operationID, Reasons: check.Conflicts}
	}
	if len(rec.SuccessfulResults()) == 0 {
		return nil, &ValidationError{
			OperationID: operationID,
			Reasons:     []string{"operation has no successful results to roll back"},
		}
	}

	// PLAN
	plan, err := p.planner.GeneratePlan(ctx, operationID)
	if err != nil {
		return nil, err
	}

	// Dry run previews without side effects: assume every action succeeds.
	if opts.DryRun {
		return &models.RollbackResult{
			RollbackOperationID: "dry-run-" + uuid.NewString(),
			Success:             true,
			CompletedActions:    len(plan.Actions),
			Duration:            0,
		}, nil
	}

	// EXECUTE
	start := time.Now()
	rollbackID := uuid.NewString()
	result := p.executePlan(ctx, rec, plan, rollbackID, opts)
	result.Duration = time.Since(start)

	if result.FailedActions > 0 {
		assessment := p.executor.AssessPartialFailure(
			result.CompletedActions, result.FailedActions,
			result.CompletedActions+result.FailedActions, result.Errors)
		p.logger.Warn("rollback completed with failures",
			zap.String("operation_id", operationID),
			zap.String("disposition", string(assessment.Disposition)),
			zap.String("strategy", string(assessment.Strategy)),
			zap.String("detail", assessment.Description))
		result.Errors = append(result.Errors, assessment.Description)
	}

	// LOG: persist the rollback summary and, only for a clean rollback,
	// flip the original record.
	if result.CompletedActions > 0 {
		summary := &models.RollbackSummary{
			RollbackID:       rollbackID,
			OperationID:      operationID,
			Timestamp:        time.Now().UTC(),
			Type:             plan.RollbackType,
			CompletedActions: result.CompletedActions,
			FailedActions:    result.FailedActions,
			PrincipalID:      rec.PrincipalID,
			PrincipalType:    rec.PrincipalType,
			PermissionSetARN: rec.PermissionSetARN,
			AccountIDs:       actionAccounts(plan.Actions),
		}
		if err := p.store.RecordRollback(summary); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("persist rollback record: %v", err))
		}
	}
	if result.FailedActions == 0 && result.CompletedActions > 0 {
		updated, err := p.store.MarkRolledBack(operationID, rollbackID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("mark operation rolled back: %v", err))
		} else if !updated {
			// Another writer won the conditional update.
			p.logger.Warn("operation was marked rolled back concurrently",
				zap.String("operation_id", operationID))
		}
	}

	// VERIFY: re-check only the actions that reported success; outcomes are
	// logged, never flipping the result.
	if !opts.SkipVerify && result.CompletedActions > 0 {
		level := opts.VerifyLevel
		if level == "" {
			level = verify.LevelBasic
		}
		p.verifyWithBackoff(ctx, rec, result.executedActions, level)
	}

	p.logger.Info("rollback attempt finished",
		zap.String("operation_id", operationID),
		zap.String("rollback_id", rollbackID),
		zap.Bool("success", result.Success),
		zap.Int("completed", result.CompletedActions),
		zap.Int("failed", result.FailedActions))

	return &result.RollbackResult, nil
}

// applyResult extends the public result with the actions that individually
// succeeded, for post-rollback verification.
type applyResult struct {
	models.RollbackResult
	executedActions []models.RollbackAction
}

// executePlan runs the plan's actions in fixed-size batches, in list order.
// Actions within a batch may run concurrently; the group join is the
// barrier guaranteeing all per-action work is done before any ledger write.
func (p *Processor) executePlan(ctx context.Context, rec *models.OperationRecord, plan *models.RollbackPlan, rollbackID string, opts ApplyOptions) *applyResult {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	result := &applyResult{
		RollbackResult: models.RollbackResult{RollbackOperationID: rollbackID},
	}

	var resultMu sync.Mutex
	for offset := 0; offset < len(plan.Actions); offset += batchSize {
		// A caller-level cancellation aborts before the next batch; the
		// original record stays eligible because failures stay counted.
		if err := ctx.Err(); err != nil {
			resultMu.Lock()
			remaining := len(plan.Actions) - offset
			result.FailedActions += remaining
			result.Errors = append(result.Errors,
				fmt.Sprintf("cancelled with %d actions remaining: %v", remaining, err))
			resultMu.Unlock()
			break
		}

		end := offset + batchSize
		if end > len(plan.Actions) {
			end = len(plan.Actions)
		}
		batch := plan.Actions[offset:end]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(batchSize)
		for _, action := range batch {
			action := action
			g.Go(func() error {
				outcome := p.executeAction(gctx, action)
				resultMu.Lock()
				defer resultMu.Unlock()
				if outcome.Success {
					result.CompletedActions++
					result.executedActions = append(result.executedActions, action)
					if outcome.Strategy == recovery.StrategyContinue && outcome.Err != nil {
						result.Errors = append(result.Errors,
							fmt.Sprintf("account %s: treated as complete: %v", action.AccountID, outcome.Err))
					}
				} else {
					result.FailedActions++
					result.Errors = append(result.Errors,
						fmt.Sprintf("account %s: %v", action.AccountID, outcome.Err))
				}
				return nil
			})
		}
		g.Wait()
	}

	result.Success = result.FailedActions == 0 && result.CompletedActions > 0
	return result
}

// executeAction performs one inverse step through the recovery executor.
// The live state is re-checked first so the action is an idempotent,
// success-returning no-op against already-applied changes.
func (p *Processor) executeAction(ctx context.Context, action models.RollbackAction) recovery.Outcome {
	name := fmt.Sprintf("%s %s", action.ActionType, action.AccountID)
	return p.executor.ExecuteWithRecovery(ctx, name, func(ctx context.Context) error {
		state := p.verifier.AssignmentState(ctx, action.AccountID, action.PermissionSetARN, action.PrincipalID, action.PrincipalType)
		if state == action.TargetState() {
			return nil
		}
		if action.ActionType == models.OperationAssign {
			return p.client.CreateAssignment(ctx, action.AccountID, action.PermissionSetARN, action.PrincipalID, action.PrincipalType)
		}
		return p.client.DeleteAssignment(ctx, action.AccountID, action.PermissionSetARN, action.PrincipalID, action.PrincipalType)
	})
}

// verifyWithBackoff re-checks executed actions with doubling delays to
// absorb eventual-consistency lag in the authorization service.
func (p *Processor) verifyWithBackoff(ctx context.Context, rec *models.OperationRecord, actions []models.RollbackAction, level verify.Level) {
	pending := actions
	delay := verifyInitialDelay

	for attempt := 0; attempt <= verifyMaxRetries; attempt++ {
		results := p.verifier.VerifyPostRollbackState(ctx, rec, pending, level)

		var unverified []models.RollbackAction
		for i, res := range results {
			if !res.Verified {
				unverified = append(unverified, pending[i])
			}
		}
		if len(unverified) == 0 {
			p.logger.Info("post-rollback verification passed",
				zap.String("operation_id", rec.OperationID),
				zap.Int("actions", len(actions)))
			return
		}
		pending = unverified

		if attempt == verifyMaxRetries {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			p.logger.Warn("post-rollback verification cancelled",
				zap.String("operation_id", rec.OperationID))
			return
		}
		delay *= 2
	}

	for _, a := range pending {
		p.logger.Warn("post-rollback state not verified",
			zap.String("operation_id", rec.OperationID),
			zap.String("account_id", a.AccountID),
			zap.String("expected", string(a.TargetState())))
	}
}

// VerifyRollback re-checks live state against a persisted rollback summary
// and reports mismatches.
func (p *Processor) VerifyRollback(ctx context.Context, rollbackID string, level verify.Level) (*models.RollbackVerification, error) {
	summary, err := p.store.GetRollback(rollbackID)
	if err != nil {
		return nil, err
	}

	out := &models.RollbackVerification{RollbackID: rollbackID, Verified: true}
	if summary.FailedActions > 0 {
		out.Warnings = append(out.Warnings,
			fmt.Sprintf("rollback had %d failed actions; only completed ones are checked", summary.FailedActions))
	}

	rec := &models.OperationRecord{
		PrincipalID:      summary.PrincipalID,
		PrincipalType:    summary.PrincipalType,
		PermissionSetARN: summary.PermissionSetARN,
	}
	for _, accountID := range summary.AccountIDs {
		v := p.verifier.VerifyPostRollbackState(ctx, rec, []models.RollbackAction{{
			PrincipalID:      summary.PrincipalID,
			PrincipalType:    summary.PrincipalType,
			PermissionSetARN: summary.PermissionSetARN,
			AccountID:        accountID,
			ActionType:       summary.Type,
		}}, level)
		if len(v) == 1 && !v[0].Verified {
			out.Verified = false
			out.Mismatches = append(out.Mismatches, v[0])
		}
	}
	return out, nil
}

func actionAccounts(actions []models.RollbackAction) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.AccountID
	}
	return out
}
