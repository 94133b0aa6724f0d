package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambitus/orchestrator/internal/domain"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestUpstreamTransientExhaustsAfterThreeAttempts(t *testing.T) {
	s := New().WithSleeper(noSleep)

	calls := 0
	attempts, err := s.Do(context.Background(), func(ctx context.Context, attempt int, lastErr error) error {
		calls++
		return &domain.AgentError{Kind: domain.ErrKindUpstreamTransient, Stage: domain.StageMarketData, Message: "rate limited"}
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)

	failure := Failure(string(domain.StageMarketData), attempts, err)
	assert.Equal(t, domain.ErrKindUpstreamTransient, failure.ErrorKind)
	assert.Equal(t, 3, failure.AttemptCount)
	assert.True(t, failure.Retryable)
}

func TestValidationRetriesOnceWithLastError(t *testing.T) {
	s := New().WithSleeper(noSleep)

	var hints []error
	attempts, err := s.Do(context.Background(), func(ctx context.Context, attempt int, lastErr error) error {
		hints = append(hints, lastErr)
		if attempt == 1 {
			return &domain.AgentError{Kind: domain.ErrKindValidation, Stage: domain.StageOpportunity, Message: "bad shape"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	require.Len(t, hints, 2)
	assert.Nil(t, hints[0])
	assert.Error(t, hints[1]) // corrective re-prompt sees the prior failure
}

func TestNoDomainCandidatesNotRetried(t *testing.T) {
	s := New().WithSleeper(noSleep)

	calls := 0
	attempts, err := s.Do(context.Background(), func(ctx context.Context, attempt int, lastErr error) error {
		calls++
		return &domain.BranchError{Kind: domain.ErrKindNoDomainCandidates, Message: "empty domain list"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)

	failure := Failure("industry_analysis", attempts, err)
	assert.False(t, failure.Retryable)
	assert.Equal(t, domain.ErrKindNoDomainCandidates, failure.ErrorKind)
}

func TestExponentialBackoffDelays(t *testing.T) {
	var delays []time.Duration
	s := New().WithSleeper(func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	})

	s.Do(context.Background(), func(ctx context.Context, attempt int, lastErr error) error {
		return &domain.AgentError{Kind: domain.ErrKindUpstreamTransient, Message: "timeout"}
	})

	require.Len(t, delays, 2)
	assert.Equal(t, 500*time.Millisecond, delays[0])
	assert.Equal(t, time.Second, delays[1])
}

func TestCancellationAbortsRetryLoop(t *testing.T) {
	s := New().WithSleeper(noSleep)
	ctx, cancel := context.WithCancel(context.Background())

	attempts, err := s.Do(ctx, func(ctx context.Context, attempt int, lastErr error) error {
		cancel()
		return &domain.AgentError{Kind: domain.ErrKindUpstreamTransient, Message: "boom"}
	})

	assert.Equal(t, 1, attempts)
	assert.Equal(t, domain.ErrKindAborted, domain.KindOf(err))
}
