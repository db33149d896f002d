// Package base provides policy evaluators shared by the execution engine:
// bounded exponential backoff for retryable transport failures.
package base

import (
	"context"
	"math"
	"time"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
)

// Default policy values applied when a connector leaves them unset.
const (
	DefaultBaseDelay         = 1 * time.Second
	DefaultMaxDelay          = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Retrier evaluates a connector's retry policy. It decides whether a failed
// transport attempt may be retried and how long to wait before the next
// attempt. The engine drives the attempt loop; the retrier is a pure policy
// object.
type Retrier struct {
	policy    core.RetryPolicy
	retryable map[string]bool
}

// NewRetrier creates a retrier for the given policy, filling in defaults for
// unset delay fields. An empty retryable set retries the standard transient
// classifications (timeout, network_error).
func NewRetrier(policy core.RetryPolicy) *Retrier {
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultBaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultMaxDelay
	}
	if policy.BackoffMultiplier <= 0 {
		policy.BackoffMultiplier = DefaultBackoffMultiplier
	}

	retryable := make(map[string]bool, len(policy.RetryableErrors))
	for _, class := range policy.RetryableErrors {
		retryable[class] = true
	}
	if len(retryable) == 0 {
		retryable[errors.ClassTimeout] = true
		retryable[errors.ClassNetworkError] = true
	}

	return &Retrier{policy: policy, retryable: retryable}
}

// ShouldRetry reports whether the error may be retried given the number of
// retries already performed. Errors outside the configured retryable set are
// terminal on first occurrence.
func (r *Retrier) ShouldRetry(err error, retryCount int) bool {
	if retryCount >= r.policy.MaxRetries {
		return false
	}
	class := errors.Classify(err)
	return class != "" && r.retryable[class]
}

// Delay returns the backoff before the next attempt after retryCount
// retries: min(baseDelay * multiplier^retryCount, maxDelay). The sequence is
// non-decreasing up to the cap.
func (r *Retrier) Delay(retryCount int) time.Duration {
	delay := float64(r.policy.BaseDelay) * math.Pow(r.policy.BackoffMultiplier, float64(retryCount))
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}
	return time.Duration(delay)
}

// Wait sleeps for the backoff delay, returning early if the context is
// cancelled. A timer is used rather than time.Sleep so a cancelled execution
// never holds up its goroutine for the full delay.
func (r *Retrier) Wait(ctx context.Context, retryCount int) error {
	timer := time.NewTimer(r.Delay(retryCount))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "retry wait cancelled")
	}
}

// MaxRetries exposes the policy bound for callers tracking attempt counts.
func (r *Retrier) MaxRetries() int {
	return r.policy.MaxRetries
}

// Do runs fn with the retry policy, retrying every failure up to MaxRetries
// regardless of classification. It is used for internal writes (audit
// records) where any failure is worth another attempt.
func (r *Retrier) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt >= r.policy.MaxRetries {
			return lastErr
		}
		if err := r.Wait(ctx, attempt); err != nil {
			return lastErr
		}
	}
}
