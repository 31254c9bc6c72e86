package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jklevins/permrevert/internal/ssoapi"
)

func newTestExecutor() *Executor {
	return NewExecutor(zap.NewNop())
}

// fastRetry keeps test retry loops in the microsecond range.
func fastRetry(maxAttempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       maxAttempts,
		InitialDelay:      time.Microsecond,
		MaxDelay:          time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

// ==================== Delay Tests ====================

func TestDelay_MonotonicWithoutJitter(t *testing.T) {
	cfg := &RetryConfig{
		InitialDelay:      time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
	}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := Delay(cfg, attempt)
		assert.GreaterOrEqual(t, d, prev, "delay must not shrink between retries")
		assert.LessOrEqual(t, d, cfg.MaxDelay)
		prev = d
	}
}

func TestDelay_ExponentialThenCapped(t *testing.T) {
	cfg := &RetryConfig{
		InitialDelay:      time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}

	assert.Equal(t, time.Second, Delay(cfg, 1))
	assert.Equal(t, 2*time.Second, Delay(cfg, 2))
	assert.Equal(t, 4*time.Second, Delay(cfg, 3))
	assert.Equal(t, 8*time.Second, Delay(cfg, 4))
	assert.Equal(t, 10*time.Second, Delay(cfg, 5))
	assert.Equal(t, 10*time.Second, Delay(cfg, 6))
}

func TestDelay_JitterStaysWithinBand(t *testing.T) {
	cfg := &RetryConfig{
		InitialDelay:      time.Second,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}

	for i := 0; i < 100; i++ {
		d := Delay(cfg, 2)
		assert.GreaterOrEqual(t, d, 1600*time.Millisecond)
		assert.LessOrEqual(t, d, 2400*time.Millisecond)
	}
}

// ==================== ExecuteWithRecovery Tests ====================

func TestExecuteWithRecovery_SuccessFirstAttempt(t *testing.T) {
	e := newTestExecutor()

	outcome := e.ExecuteWithRecovery(context.Background(), "noop", func(ctx context.Context) error {
		return nil
	})

	assert.True(t, outcome.Success)
	assert.Equal(t, 1, outcome.Attempts)
	assert.NoError(t, outcome.Err)
}

func TestExecuteWithRecovery_RetriesUntilSuccess(t *testing.T) {
	e := newTestExecutor()
	e.SetAction(ErrTransientRemote, RecoveryAction{Strategy: StrategyRetry, Retry: fastRetry(5)})

	calls := 0
	outcome := e.ExecuteWithRecovery(context.Background(), "flaky", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &ssoapi.APIError{Code: "ThrottlingException"}
		}
		return nil
	})

	assert.True(t, outcome.Success)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRecovery_ExhaustsAttempts(t *testing.T) {
	e := newTestExecutor()
	e.SetAction(ErrTransientRemote, RecoveryAction{Strategy: StrategyRetry, Retry: fastRetry(3)})

	calls := 0
	outcome := e.ExecuteWithRecovery(context.Background(), "always-throttled", func(ctx context.Context) error {
		calls++
		return &ssoapi.APIError{Code: "ThrottlingException"}
	})

	assert.False(t, outcome.Success)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, calls)
	require.Error(t, outcome.Err)
	var ae *ssoapi.APIError
	assert.ErrorAs(t, outcome.Err, &ae)
}

func TestExecuteWithRecovery_FailFastStopsImmediately(t *testing.T) {
	e := newTestExecutor()

	calls := 0
	outcome := e.ExecuteWithRecovery(context.Background(), "denied", func(ctx context.Context) error {
		calls++
		return &ssoapi.APIError{Code: "AccessDeniedException"}
	})

	assert.False(t, outcome.Success)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StrategyFailFast, outcome.Strategy)
}

func TestExecuteWithRecovery_SkipIsSuccess(t *testing.T) {
	e := newTestExecutor()

	outcome := e.ExecuteWithRecovery(context.Background(), "gone", func(ctx context.Context) error {
		return &ssoapi.APIError{Code: "ResourceNotFoundException"}
	})

	assert.True(t, outcome.Success)
	assert.Equal(t, StrategySkip, outcome.Strategy)
	assert.NoError(t, outcome.Err)
}

func TestExecuteWithRecovery_ContinuePreservesError(t *testing.T) {
	e := newTestExecutor()

	outcome := e.ExecuteWithRecovery(context.Background(), "conflicted", func(ctx context.Context) error {
		return &ssoapi.APIError{Code: "ConflictException"}
	})

	assert.True(t, outcome.Success)
	assert.Equal(t, StrategyContinue, outcome.Strategy)
	assert.Error(t, outcome.Err)
}

func TestExecuteWithRecovery_CancelledDuringBackoff(t *testing.T) {
	e := newTestExecutor()
	e.SetAction(ErrTransientRemote, RecoveryAction{Strategy: StrategyRetry, Retry: &RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      time.Hour,
		MaxDelay:          time.Hour,
		BackoffMultiplier: 2.0,
	}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	outcome := e.ExecuteWithRecovery(ctx, "slow", func(ctx context.Context) error {
		return &ssoapi.APIError{Code: "ThrottlingException"}
	})

	assert.False(t, outcome.Success)
	assert.Equal(t, 1, outcome.Attempts)
	assert.ErrorContains(t, outcome.Err, "retry cancelled")
}

// ==================== Partial Failure Tests ====================

func TestAssessPartialFailure_Thresholds(t *testing.T) {
	e := newTestExecutor()

	tests := []struct {
		name            string
		completed       int
		wantDisposition Disposition
		wantStrategy    Strategy
	}{
		{"8 of 10 continues", 8, DispositionSuccess, StrategyContinue},
		{"6 of 10 needs manual intervention", 6, DispositionPartial, StrategyManualIntervention},
		{"2 of 10 fails fast", 2, DispositionFailure, StrategyFailFast},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := e.AssessPartialFailure(tt.completed, 10-tt.completed, 10, nil)
			assert.Equal(t, tt.wantDisposition, a.Disposition)
			assert.Equal(t, tt.wantStrategy, a.Strategy)
			assert.Equal(t, tt.completed, a.Completed)
			assert.Equal(t, 10, a.Total)
		})
	}
}

func TestAssessPartialFailure_EmptyBatch(t *testing.T) {
	e := newTestExecutor()
	a := e.AssessPartialFailure(0, 0, 0, nil)
	assert.Equal(t, DispositionFailure, a.Disposition)
}

func TestAssessPartialFailure_ErrorsCarried(t *testing.T) {
	e := newTestExecutor()
	errs := []string{"account 1: throttled"}
	a := e.AssessPartialFailure(9, 1, 10, errs)
	assert.Equal(t, errs, a.Errors)
}

func TestAction_UnknownTypeFallsBack(t *testing.T) {
	e := newTestExecutor()
	a := e.Action(ErrorType("nonsense"))
	assert.Equal(t, StrategyRetry, a.Strategy)
}

func TestDefaultActions_EveryTypeMapped(t *testing.T) {
	e := newTestExecutor()
	for _, et := range []ErrorType{
		ErrTransientRemote, ErrPermission, ErrResourceNotFound, ErrConflict,
		ErrTimeout, ErrNetwork, ErrConfiguration, ErrUnknown,
	} {
		a := e.Action(et)
		require.NotEmpty(t, a.Strategy, "no action for %s", et)
		if a.Strategy == StrategyRetry {
			require.NotNil(t, a.Retry, "retry strategy without config for %s", et)
		}
	}
}

func TestClassifyNil(t *testing.T) {
	assert.Equal(t, ErrUnknown, Classify(nil))
	assert.NotEqual(t, ErrUnknown, Classify(errors.Join(
		&ssoapi.APIError{Code: "ConflictException"})))
}
