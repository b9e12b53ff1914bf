package interp

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"workflowcore/internal/node"
	"workflowcore/internal/position"
)

// stepTry enters the try/do block. Catch matching and retry scheduling
// happen in the Driver's fault-propagation path (propagateFault, using
// retryAllowed/retryDelay below), generalizing the teacher's
// internal/workflows/runtime/trycatch_executor.go executeBlock try/catch
// nesting with the retry-policy machinery spec §4.3.4 adds beyond what the
// teacher implements.
func (d *Driver) stepTry(ctx context.Context, rc *RunContext, n *node.Node) (Outcome, *position.Position, error) {
	if len(n.Children) == 0 {
		return d.resolveThen(rc, n)
	}
	first := n.Children[0].Position
	return Outcome{Kind: OutcomeCompleted}, &first, nil
}

// retryDelay computes the backoff delay for attempt (1-indexed) per the
// constant/linear/exponential + jitter policy of spec §4.3.4. The constant
// and exponential curves are delegated to github.com/cenkalti/backoff/v4's
// ConstantBackOff/ExponentialBackOff (stepped forward attempt times, since
// NextBackOff() is stateful); only the linear curve, which backoff/v4 has
// no type for, is computed by hand. The retry decision itself — whether
// another attempt is permitted at all, given limit.attempt.count/duration —
// stays in retryAllowed, not in backoff's own stop-after-N-attempts loop.
func retryDelay(policy *node.RetryPolicy, attempt int) time.Duration {
	base, err := time.ParseDuration(policy.Delay)
	if err != nil || base <= 0 {
		base = time.Second
	}

	randomization := 0.0
	if policy.Backoff.Jitter {
		randomization = 0.5
	}

	switch policy.Backoff.Kind {
	case "linear":
		delay := base * time.Duration(attempt)
		if policy.Backoff.Jitter {
			jittered := backoff.NewExponentialBackOff()
			jittered.InitialInterval = delay
			jittered.Multiplier = 1
			jittered.RandomizationFactor = randomization
			jittered.MaxInterval = delay
			return jittered.NextBackOff()
		}
		return delay
	case "exponential":
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = base
		eb.Multiplier = 2
		eb.RandomizationFactor = randomization
		eb.MaxInterval = base * (1 << 10)
		var delay time.Duration
		for i := 0; i < attempt; i++ {
			delay = eb.NextBackOff()
		}
		return delay
	default: // constant
		cb := backoff.NewConstantBackOff(base)
		return cb.NextBackOff()
	}
}

// retryAllowed reports whether another attempt is permitted under
// limit.attempt.count and limit.duration.
func retryAllowed(policy *node.RetryPolicy, attempt int, elapsed time.Duration) bool {
	if policy.Limit.Attempt.Count > 0 && attempt > policy.Limit.Attempt.Count {
		return false
	}
	if policy.Limit.Duration != "" {
		if max, err := time.ParseDuration(policy.Limit.Duration); err == nil && elapsed > max {
			return false
		}
	}
	return true
}
