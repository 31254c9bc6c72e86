// Package rollback computes and executes compensating plans that undo
// previously executed assignment operations.
package rollback

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jklevins/permrevert/internal/ledger"
	"github.com/jklevins/permrevert/internal/models"
	"github.com/jklevins/permrevert/internal/verify"
)

// Cost model for user-facing duration previews.
const (
	perActionEstimate  = 3 * time.Second
	largePlanThreshold = 10
	largePlanFactor    = 1.2
)

// Planner computes inverse-action plans from ledger records.
type Planner struct {
	store    ledger.Store
	verifier *verify.Verifier
	logger   *zap.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(store ledger.Store, verifier *verify.Verifier, logger *zap.Logger) *Planner {
	return &Planner{store: store, verifier: verifier, logger: logger}
}

// GeneratePlan computes the inverse of an operation, filtering out actions
// whose target state already holds. Accounts where the original operation
// failed are never rollback targets; they surface as warnings only. When
// live state cannot be determined, the action is kept (conservative: always
// attempt it).
func (p *Planner) GeneratePlan(ctx context.Context, operationID string) (*models.RollbackPlan, error) {
	rec, err := p.store.Get(operationID)
	if err != nil {
		return nil, err
	}

	plan := &models.RollbackPlan{
		OperationID:  operationID,
		RollbackType: rec.Type.Inverse(),
	}

	for _, res := range rec.Results {
		if !res.Success {
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("account %s: original operation failed, skipped", res.AccountID))
			continue
		}

		state := p.verifier.AssignmentState(ctx, res.AccountID, rec.PermissionSetARN, rec.PrincipalID, rec.PrincipalType)

		if plan.RollbackType == models.OperationRevoke && state == models.StateNotAssigned {
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("account %s: already revoked, no action needed", res.AccountID))
			continue
		}
		if plan.RollbackType == models.OperationAssign && state == models.StateAssigned {
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("account %s: already assigned, no action needed", res.AccountID))
			continue
		}

		plan.Actions = append(plan.Actions, models.RollbackAction{
			PrincipalID:      rec.PrincipalID,
			PrincipalType:    rec.PrincipalType,
			PermissionSetARN: rec.PermissionSetARN,
			AccountID:        res.AccountID,
			ActionType:       plan.RollbackType,
			CurrentState:     state,
		})
	}

	plan.EstimatedDuration = estimateDuration(len(plan.Actions))

	p.logger.Debug("rollback plan generated",
		zap.String("operation_id", operationID),
		zap.String("rollback_type", string(plan.RollbackType)),
		zap.Int("actions", len(plan.Actions)),
		zap.Int("warnings", len(plan.Warnings)))

	return plan, nil
}

// estimateDuration applies the linear cost model: 3s per action, padded 20%
// for plans over 10 actions.
func estimateDuration(actions int) time.Duration {
	d := time.Duration(actions) * perActionEstimate
	if actions > largePlanThreshold {
		d = time.Duration(float64(d) * largePlanFactor)
	}
	return d
}
