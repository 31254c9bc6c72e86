package recovery

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Strategy is what the executor does after classifying a failure.
type Strategy string

const (
	StrategyRetry              Strategy = "retry"
	StrategySkip               Strategy = "skip"
	StrategyFailFast           Strategy = "fail_fast"
	StrategyContinue           Strategy = "continue"
	StrategyManualIntervention Strategy = "manual_intervention"
)

// RetryConfig bounds a retry loop for one error category.
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// RecoveryAction pairs a strategy with its retry tuning and, for manual
// strategies, remediation steps surfaced to the operator.
type RecoveryAction struct {
	Strategy    Strategy
	Description string
	Retry       *RetryConfig
	ManualSteps []string
}

// Outcome is the result of executing an operation through recovery.
type Outcome struct {
	Success  bool
	Attempts int
	Strategy Strategy
	// Err is the final error for failures, or the suppressed error when the
	// strategy was CONTINUE.
	Err error
}

// Disposition grades a batch by its completion ratio.
type Disposition string

const (
	DispositionSuccess Disposition = "success"
	DispositionPartial Disposition = "partial"
	DispositionFailure Disposition = "failure"
)

// BatchAssessment is the graded outcome of a partially failed batch.
type BatchAssessment struct {
	Disposition Disposition
	Strategy    Strategy
	Completed   int
	Failed      int
	Total       int
	Errors      []string
	Description string
}

// Completion-ratio thresholds for partial failure grading.
const (
	DefaultContinueThreshold = 0.8
	DefaultAbortThreshold    = 0.5
)

// Executor applies recovery strategies to failed operations. Construct one
// per process and pass it by reference; it holds no global state.
type Executor struct {
	actions map[ErrorType]RecoveryAction
	logger  *zap.Logger

	// ContinueThreshold and AbortThreshold tune partial-failure grading;
	// the three-tier behavior itself is fixed.
	ContinueThreshold float64
	AbortThreshold    float64
}

// NewExecutor creates an Executor with the default strategy table.
func NewExecutor(logger *zap.Logger) *Executor {
	return &Executor{
		actions:           defaultActions(),
		logger:            logger,
		ContinueThreshold: DefaultContinueThreshold,
		AbortThreshold:    DefaultAbortThreshold,
	}
}

// defaultActions maps each error category to exactly one recovery action.
func defaultActions() map[ErrorType]RecoveryAction {
	return map[ErrorType]RecoveryAction{
		ErrTransientRemote: {
			Strategy:    StrategyRetry,
			Description: "transient service error, retrying with backoff",
			Retry:       &RetryConfig{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 60 * time.Second, BackoffMultiplier: 2.0, Jitter: true},
		},
		ErrTimeout: {
			Strategy:    StrategyRetry,
			Description: "request timed out, retrying",
			Retry:       &RetryConfig{MaxAttempts: 3, InitialDelay: 2 * time.Second, MaxDelay: 30 * time.Second, BackoffMultiplier: 2.0, Jitter: true},
		},
		ErrNetwork: {
			Strategy:    StrategyRetry,
			Description: "network failure, retrying",
			Retry:       &RetryConfig{MaxAttempts: 4, InitialDelay: time.Second, MaxDelay: 45 * time.Second, BackoffMultiplier: 2.0, Jitter: true},
		},
		ErrUnknown: {
			Strategy:    StrategyRetry,
			Description: "unclassified error, retrying once",
			Retry:       &RetryConfig{MaxAttempts: 2, InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffMultiplier: 2.0},
		},
		ErrPermission: {
			Strategy:    StrategyFailFast,
			Description: "permission denied, will not self-resolve",
			ManualSteps: []string{
				"verify the caller has sso:CreateAccountAssignment and sso:DeleteAccountAssignment",
				"check SCPs on the management account",
			},
		},
		ErrConfiguration: {
			Strategy:    StrategyFailFast,
			Description: "invalid request configuration",
			ManualSteps: []string{
				"check the instance ARN and permission set ARN in the config",
			},
		},
		ErrResourceNotFound: {
			Strategy:    StrategySkip,
			Description: "target resource is gone, rollback unnecessary",
		},
		ErrConflict: {
			Strategy:    StrategyContinue,
			Description: "conflicting change already applied, treating as done",
		},
	}
}

// Action returns the recovery action for an error category.
func (e *Executor) Action(t ErrorType) RecoveryAction {
	if a, ok := e.actions[t]; ok {
		return a
	}
	return e.actions[ErrUnknown]
}

// SetAction overrides the recovery action for an error category.
func (e *Executor) SetAction(t ErrorType, a RecoveryAction) {
	e.actions[t] = a
}

// Delay computes the backoff before retry attempt n (1-based):
// min(maxDelay, initial * multiplier^(n-1)), jittered by up to ±20%.
func Delay(cfg *RetryConfig, attempt int) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		d += d * 0.2 * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// sleep waits for the given duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecuteWithRecovery runs op, classifying each failure and dispatching on
// the category's strategy: retry with backoff, skip, continue, or fail fast.
func (e *Executor) ExecuteWithRecovery(ctx context.Context, name string, op func(context.Context) error) Outcome {
	attempts := 0
	for {
		attempts++
		err := op(ctx)
		if err == nil {
			return Outcome{Success: true, Attempts: attempts}
		}

		errType := Classify(err)
		action := e.Action(errType)
		e.logger.Warn("operation failed",
			zap.String("operation", name),
			zap.String("error_type", string(errType)),
			zap.String("strategy", string(action.Strategy)),
			zap.Int("attempt", attempts),
			zap.Error(err))

		switch action.Strategy {
		case StrategySkip:
			return Outcome{Success: true, Attempts: attempts, Strategy: StrategySkip}
		case StrategyContinue:
			return Outcome{Success: true, Attempts: attempts, Strategy: StrategyContinue, Err: err}
		case StrategyRetry:
			cfg := action.Retry
			if cfg == nil || attempts >= cfg.MaxAttempts {
				return Outcome{Attempts: attempts, Strategy: StrategyRetry,
					Err: fmt.Errorf("%s: %w (after %d attempts)", name, err, attempts)}
			}
			if serr := sleep(ctx, Delay(cfg, attempts)); serr != nil {
				return Outcome{Attempts: attempts, Strategy: StrategyRetry,
					Err: fmt.Errorf("%s: %w (retry cancelled)", name, err)}
			}
		default:
			// FAIL_FAST and MANUAL_INTERVENTION stop immediately.
			return Outcome{Attempts: attempts, Strategy: action.Strategy, Err: err}
		}
	}
}

// AssessPartialFailure grades a batch by completion ratio: at or above the
// continue threshold the batch counts as success with failures surfaced for
// review; between the thresholds it demands manual intervention; below the
// abort threshold it is a hard failure.
func (e *Executor) AssessPartialFailure(completed, failed, total int, errs []string) BatchAssessment {
	a := BatchAssessment{
		Completed: completed,
		Failed:    failed,
		Total:     total,
		Errors:    errs,
	}
	if total == 0 {
		a.Disposition = DispositionFailure
		a.Strategy = StrategyFailFast
		a.Description = "no actions to execute"
		return a
	}

	rate := float64(completed) / float64(total)
	switch {
	case rate >= e.ContinueThreshold:
		a.Disposition = DispositionSuccess
		a.Strategy = StrategyContinue
		a.Description = fmt.Sprintf("%d of %d actions completed; %d failed actions need manual review", completed, total, failed)
	case rate >= e.AbortThreshold:
		a.Disposition = DispositionPartial
		a.Strategy = StrategyManualIntervention
		a.Description = fmt.Sprintf("partial failure: %d completed, %d failed of %d", completed, failed, total)
	default:
		a.Disposition = DispositionFailure
		a.Strategy = StrategyFailFast
		a.Description = fmt.Sprintf("execution failure: only %d of %d actions completed", completed, total)
	}
	return a
}
