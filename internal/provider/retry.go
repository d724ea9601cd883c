package provider

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"time"

	"github.com/podforge/api/internal/apperr"
)

// RetryPolicy bounds retries of one provider call.
type RetryPolicy struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseBackoff:    time.Second,
		MaxBackoff:     8 * time.Second,
		AttemptTimeout: 60 * time.Second,
	}
}

// WorstCase is the longest one Retry call can take: every attempt running to
// its timeout plus the backoff between attempts.
func (p RetryPolicy) WorstCase() time.Duration {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	total := time.Duration(attempts) * p.AttemptTimeout
	delay := p.BaseBackoff
	for i := 1; i < attempts; i++ {
		total += delay
		delay *= 2
		if p.MaxBackoff > 0 && delay > p.MaxBackoff {
			delay = p.MaxBackoff
		}
	}
	return total
}

// IsTransient reports whether err is worth another attempt: 5xx responses,
// timeouts and network failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var provErr *apperr.ProviderError
	if errors.As(err, &provErr) {
		return provErr.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Retry runs op with exponential backoff. Each attempt gets its own timeout.
// Client errors stop immediately; exhaustion yields a *apperr.ProviderError
// carrying the last upstream status and message.
func Retry(ctx context.Context, provider string, policy RetryPolicy, op func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := policy.BaseBackoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if policy.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.AttemptTimeout)
		}
		err := op(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsTransient(err) {
			return toProviderError(provider, err, attempt)
		}
		if attempt == attempts {
			break
		}

		log.Printf("[%s] attempt %d/%d failed: %v (retrying in %s)", provider, attempt, attempts, err, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if policy.MaxBackoff > 0 && delay > policy.MaxBackoff {
			delay = policy.MaxBackoff
		}
	}
	return toProviderError(provider, lastErr, attempts)
}

func toProviderError(provider string, err error, attempts int) *apperr.ProviderError {
	var provErr *apperr.ProviderError
	if errors.As(err, &provErr) {
		out := *provErr
		out.Attempts = attempts
		return &out
	}
	return &apperr.ProviderError{
		Provider:  provider,
		Message:   err.Error(),
		Transient: IsTransient(err),
		Attempts:  attempts,
		Cause:     err,
	}
}
