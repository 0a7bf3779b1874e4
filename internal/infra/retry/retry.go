// Package retry provides a declarative retry policy shared by the remote
// gateways, replacing per-call-site retry loops.
package retry

import (
	"context"
	"time"
)

// Policy describes how an operation is retried: the attempt budget, the
// pause between attempts, and the predicate deciding whether an error is
// worth another attempt.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	Retryable   func(error) bool
}

// Do runs fn until it succeeds, the error is not retryable, or the attempt
// budget is exhausted. The last error is returned. Context cancellation is
// honored while waiting out the backoff.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(p.Backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
