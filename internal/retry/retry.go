// Package retry runs remote operations with bounded exponential backoff.
// Only transient connection failures are retried; anything else is
// returned after the first attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/houzin/scp-explorer/internal/constants"
)

// ErrorType represents different classes of errors for retry strategy
type ErrorType int

const (
	// ErrorTypeSuccess indicates operation succeeded
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeTransient indicates a dropped or refused SSH connection
	ErrorTypeTransient
	// ErrorTypeFatal indicates anything that should not be retried
	ErrorTypeFatal
)

// transientSignatures are matched case-insensitively against error text
// produced by ssh, scp and the SSH libraries.
var transientSignatures = []string{
	"connection closed",
	"connection reset",
	"kex_exchange_identification",
}

// Policy holds retry parameters for Do.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first (default: 3)
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; later waits double (default: 2s)
	BaseDelay time.Duration
	// OnRetry is invoked before each wait with the attempt that just failed
	OnRetry func(name string, attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns a Policy with the standard attempt count and delay.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: constants.RetryMaxAttempts,
		BaseDelay:   constants.RetryBaseDelay,
	}
}

// transient is implemented by errors that classify themselves.
type transient interface {
	Transient() bool
}

// Classify determines the error type for retry strategy.
// Cancellation is always fatal. Errors that report Transient() are trusted,
// so a backend timeout classified as transient is retried while a bare
// context deadline is not. Anything else is matched against the known
// connection-loss signatures.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}
	if errors.Is(err, context.Canceled) {
		return ErrorTypeFatal
	}

	var te transient
	if errors.As(err, &te) {
		if te.Transient() {
			return ErrorTypeTransient
		}
		return ErrorTypeFatal
	}
	// A bare deadline means the caller's own context ended.
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeFatal
	}

	if MatchesTransientSignature(err.Error()) {
		return ErrorTypeTransient
	}
	return ErrorTypeFatal
}

// IsTransient reports whether err qualifies for another attempt.
func IsTransient(err error) bool {
	return Classify(err) == ErrorTypeTransient
}

// MatchesTransientSignature reports whether msg contains one of the
// connection-loss signatures.
func MatchesTransientSignature(msg string) bool {
	lower := strings.ToLower(msg)
	for _, sig := range transientSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// Delay returns the wait before the given attempt (1-based).
// Attempt 1 has no delay; attempt n>=2 waits base*2^(n-2).
func Delay(base time.Duration, attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return base * time.Duration(1<<uint(attempt-2))
}

// Do runs op until it succeeds, fails with a non-transient error, or the
// policy's attempts are exhausted. The last error is wrapped with the
// attempt count in the exhausted case.
func Do(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that return a result.
func DoValue[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = constants.RetryMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := Delay(p.BaseDelay, attempt)
			if p.OnRetry != nil {
				p.OnRetry(name, attempt-1, lastErr, delay)
			}
			if err := sleep(ctx, delay); err != nil {
				return zero, err
			}
		} else if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if Classify(err) != ErrorTypeTransient {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", name, maxAttempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ErrorTypeName returns a human-readable name for an ErrorType
func ErrorTypeName(errType ErrorType) string {
	switch errType {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
