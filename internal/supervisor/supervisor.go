// Package supervisor wraps agent and tool invocations with the retry policy
// table: per-error-kind backoff, attempt caps, and failure records.
package supervisor

import (
	"context"
	"time"

	"github.com/ambitus/orchestrator/internal/domain"
)

// Backoff selects how the delay between attempts grows.
type Backoff int

const (
	BackoffNone Backoff = iota
	BackoffFixed
	BackoffExponential
)

// Policy governs retries for one error kind.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	Base        time.Duration
}

// DefaultPolicies is the supervisor policy table.
func DefaultPolicies() map[domain.ErrorKind]Policy {
	return map[domain.ErrorKind]Policy{
		domain.ErrKindUpstreamTransient: {MaxAttempts: 3, Backoff: BackoffExponential, Base: 500 * time.Millisecond},
		domain.ErrKindValidation:        {MaxAttempts: 2, Backoff: BackoffFixed, Base: time.Second},
		domain.ErrKindToolUnavailable:   {MaxAttempts: 2, Backoff: BackoffNone},
		// Tool timeouts behave like any other transient upstream failure.
		domain.ErrKindToolTimeout: {MaxAttempts: 3, Backoff: BackoffExponential, Base: 500 * time.Millisecond},
	}
}

// Supervisor executes steps under the policy table.
type Supervisor struct {
	policies map[domain.ErrorKind]Policy
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a supervisor with the default policy table.
func New() *Supervisor {
	return &Supervisor{
		policies: DefaultPolicies(),
		sleep:    sleepCtx,
	}
}

// WithSleeper replaces the inter-attempt sleep, for tests.
func (s *Supervisor) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *Supervisor {
	s.sleep = sleep
	return s
}

// Attempt runs one try of a supervised step. attempt counts from 1; lastErr
// is nil on the first try and carries the previous failure afterwards, so
// callers can build corrective re-prompts.
type Attempt func(ctx context.Context, attempt int, lastErr error) error

// Do runs fn under the retry policy of whatever error kind it returns.
// It returns the attempt count and the final error (nil on success). Errors
// whose kind is not retryable, and context cancellation, end the loop
// immediately.
func (s *Supervisor) Do(ctx context.Context, fn Attempt) (int, error) {
	var lastErr error
	attempt := 0

	for {
		attempt++
		err := fn(ctx, attempt, lastErr)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return attempt, &domain.RunError{Kind: domain.ErrKindAborted, Message: ctx.Err().Error()}
		}

		kind := domain.KindOf(err)
		policy, ok := s.policies[kind]
		if !ok || attempt >= policy.MaxAttempts {
			return attempt, err
		}

		if d := delay(policy, attempt); d > 0 {
			if serr := s.sleep(ctx, d); serr != nil {
				return attempt, &domain.RunError{Kind: domain.ErrKindAborted, Message: serr.Error()}
			}
		}
	}
}

// Failure converts an exhausted step error into the FailureRecord appended
// to the run.
func Failure(step string, attempts int, err error) *domain.FailureRecord {
	kind := domain.KindOf(err)
	return &domain.FailureRecord{
		Step:         step,
		ErrorKind:    kind,
		Message:      err.Error(),
		Retryable:    kind.Retryable(),
		AttemptCount: attempts,
	}
}

func delay(p Policy, attempt int) time.Duration {
	switch p.Backoff {
	case BackoffFixed:
		return p.Base
	case BackoffExponential:
		d := p.Base
		for i := 1; i < attempt; i++ {
			d *= 2
		}
		return d
	default:
		return 0
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
