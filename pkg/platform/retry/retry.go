// Package retry wraps collaborator calls in a bounded exponential backoff.
//
// External collaborators (document extraction, registry lookup) are retried a
// small fixed number of times and then surfaced as a terminal failure; the
// core never hangs on a dependency.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"membergate/pkg/platform/sentinel"
)

// Policy bounds a retried call. The zero value is not usable; use
// DefaultPolicy or construct explicitly.
type Policy struct {
	MaxAttempts uint64
	Initial     time.Duration
	Max         time.Duration
	CallTimeout time.Duration
}

// DefaultPolicy retries three times with short backoff, each attempt bounded
// to two seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Initial:     100 * time.Millisecond,
		Max:         time.Second,
		CallTimeout: 2 * time.Second,
	}
}

// Permanent marks err as not worth retrying. The call is surfaced
// immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs fn under the policy. Each attempt gets its own timeout; once the
// attempt budget is exhausted the last error is wrapped in
// sentinel.ErrUnavailable so services can translate it uniformly.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempt := func() error {
		attemptCtx := ctx
		if p.CallTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
			defer cancel()
		}
		return fn(attemptCtx)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max

	// MaxAttempts of zero means one attempt, not an unbounded loop; the
	// subtraction below must never wrap.
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, attempts-1), ctx))
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return errors.Join(sentinel.ErrUnavailable, err)
}
