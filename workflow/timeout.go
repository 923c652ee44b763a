package workflow

import (
	"context"
	"fmt"
	"time"
)

// stepTimeout determines the timeout duration for a step based on
// precedence:
//  1. StepPolicy.Timeout (per-step override)
//  2. defaultTimeout (engine-wide default)
//  3. 0 (no timeout)
func stepTimeout(policy *StepPolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// executeStepWithTimeout wraps Step.Execute with timeout enforcement,
// returning an EngineError with code CodeStepTimeout if the step does not
// return within the resolved timeout.
func executeStepWithTimeout(
	ctx context.Context,
	step Step,
	stepName string,
	rec *WorkflowRecord,
	policy *StepPolicy,
	defaultTimeout time.Duration,
) (StepOutcome, error) {
	timeout := stepTimeout(policy, defaultTimeout)

	if timeout == 0 {
		return step.Execute(ctx, rec), nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome := step.Execute(timeoutCtx, rec)

	if timeoutCtx.Err() == context.DeadlineExceeded {
		return outcome, &EngineError{
			Code:    CodeStepTimeout,
			Message: fmt.Sprintf("step %q exceeded timeout of %v", stepName, timeout),
		}
	}

	return outcome, nil
}
