package peer

import (
	"context"
	"fmt"
	"time"

	"prosumer-p2p/internal/metrics"
)

const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 5 * time.Second
)

// RetryPolicy bounds every outbound RPC.
// MaxRetries is the total number of attempts, each limited by Timeout.
// Backoff 0 retries immediately; otherwise the wait grows by BackoffFactor up to MaxBackoff.
type RetryPolicy struct {
	MaxRetries    int           `yaml:"max_retries"`
	Timeout       time.Duration `yaml:"timeout"`
	Backoff       time.Duration `yaml:"backoff"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    DefaultMaxRetries,
		Timeout:       DefaultTimeout,
		BackoffFactor: 2,
	}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the attempts run out.
// Exhaustion returns an error wrapping ErrPeerUnreachable and the last failure.
func (p RetryPolicy) Do(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := p.do(ctx, method, fn)
	metrics.RecordRPC(method, err, time.Since(start))
	return err
}

func (p RetryPolicy) do(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	attempts := p.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	wait := p.Backoff

	var last error
	n := 0
	for n < attempts {
		if n > 0 && wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%w: %s: %w", ErrPeerUnreachable, method, ctx.Err())
			case <-timer.C:
			}
			wait = p.next(wait)
		}
		n++

		metrics.RecordRPCAttempt(method)
		last = p.attempt(ctx, fn)
		if last == nil {
			return nil
		}
		if !retryable(last) {
			return fmt.Errorf("%s: %w", method, last)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: %s failed after %d attempts: %w", ErrPeerUnreachable, method, n, last)
}

func (p RetryPolicy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return fn(ctx)
}

func (p RetryPolicy) next(wait time.Duration) time.Duration {
	if p.BackoffFactor > 1 {
		wait = time.Duration(float64(wait) * p.BackoffFactor)
	}
	if p.MaxBackoff > 0 && wait > p.MaxBackoff {
		wait = p.MaxBackoff
	}
	return wait
}
