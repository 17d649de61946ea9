package unifiedllm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/martinemde/steward/logging"
)

// RetryPolicy is the backoff schedule for idempotent provider calls such as
// model listing. Turn rounds never go through it: a failed round fails the
// turn.
type RetryPolicy struct {
	// MaxRetries counts attempts after the first call.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter scales each delay by a random factor in [0.5, 1.5).
	Jitter bool
}

// DefaultRetryPolicy allows two retries starting at half a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2,
		Jitter:     true,
	}
}

// Delay is the wait before retry number attempt, counting from zero.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 {
		d = math.Min(d, float64(p.MaxDelay))
	}
	if p.Jitter {
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}

// wait picks the delay for err: the server's Retry-After when it sent one,
// the backoff schedule otherwise. ok is false when the server asks for
// longer than MaxDelay.
func (p RetryPolicy) wait(err error, attempt int) (d time.Duration, ok bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter != nil {
		d = time.Duration(*rl.RetryAfter * float64(time.Second))
		return d, p.MaxDelay <= 0 || d <= p.MaxDelay
	}
	return p.Delay(attempt), true
}

// Retry calls fn until it succeeds, returns an error that is not
// retryable, or the policy runs out of attempts. Cancelling ctx while
// waiting yields an AbortError.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	log := logging.NewLogger("retry")

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= policy.MaxRetries || !IsRetryable(err) {
			return zero, err
		}
		delay, ok := policy.wait(err, attempt)
		if !ok {
			return zero, err
		}
		log.WithFields(logrus.Fields{"attempt": attempt + 1, "delay": delay}).WithError(err).Debug("retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		case <-timer.C:
		}
	}
}
