package flow

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// stepTimeout resolves the effective timeout for one step invocation.
// Precedence: step policy, then the conversation default, then none.
func stepTimeout(policy *StepPolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	return defaultTimeout
}

// computeBackoff calculates the delay before the next retry attempt
// using exponential backoff with jitter:
//
//	delay = min(base * 2^attempt, maxDelay) + jitter(0, base)
func computeBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			delay = maxDelay
			break
		}
	}

	// math/rand jitter, not security sensitive.
	jitter := time.Duration(rand.Int63n(int64(base))) // #nosec G404
	return delay + jitter
}

// invokeWithPolicy runs one step invocation under its policy: timeout
// enforcement plus transient-error retry.
//
// Suspensions and step failures are results, not transport errors, so
// they are never retried. Only errors the policy's Retryable predicate
// accepts trigger another attempt.
func invokeWithPolicy(ctx context.Context, s Step, in map[string]any, sc *StepContext, defaultTimeout time.Duration, onRetry func()) (StepResult, error) {
	var policy *StepPolicy
	if holder, ok := s.(PolicyHolder); ok {
		policy = holder.Policy()
	}
	timeout := stepTimeout(policy, defaultTimeout)

	invoke := func() (StepResult, error) {
		invokeCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			invokeCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		res, err := s.Invoke(invokeCtx, in, sc)
		if err != nil && invokeCtx.Err() != nil && ctx.Err() == nil {
			return StepResult{}, &FlowError{
				Message: "step " + s.Name() + " exceeded timeout of " + timeout.String(),
				Code:    "STEP_TIMEOUT",
			}
		}
		return res, err
	}

	res, err := invoke()
	if err == nil || policy == nil || policy.Retry == nil {
		return res, err
	}

	retry := policy.Retry
	for attempt := 1; attempt < retry.MaxAttempts; attempt++ {
		var failure *StepFailure
		if errors.As(err, &failure) {
			break
		}
		if retry.Retryable != nil && !retry.Retryable(err) {
			break
		}

		if onRetry != nil {
			onRetry()
		}
		select {
		case <-time.After(computeBackoff(attempt-1, retry.BaseDelay, retry.MaxDelay)):
		case <-ctx.Done():
			return StepResult{}, ctx.Err()
		}

		res, err = invoke()
		if err == nil {
			return res, nil
		}
	}
	return res, err
}
