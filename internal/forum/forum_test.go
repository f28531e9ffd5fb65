package forum

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radar-engine/internal/domain"
)

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&RateLimitError{Op: "search"}))
	assert.True(t, IsRetryable(fmt.Errorf("wrap: %w", &domain.TransientError{Op: "x", Err: errors.New("502")})))
	assert.False(t, IsRetryable(&ConflictError{PostID: "p", Reason: "THREAD_LOCKED"}))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(errors.New("bad request")))
	assert.False(t, IsRetryable(nil))
}

func TestAsRateLimit(t *testing.T) {
	rl, ok := AsRateLimit(fmt.Errorf("cycle: %w", &RateLimitError{Op: "search", RetryAfter: time.Minute}))
	require.True(t, ok)
	assert.Equal(t, time.Minute, rl.RetryAfter)
	assert.Contains(t, rl.Error(), "retry after 1m0s")
}

func TestHostLimiterSeparatesHosts(t *testing.T) {
	hl := NewHostLimiter(0.001, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, hl.WaitURL(ctx, "https://a.example/x"))
	require.NoError(t, hl.WaitURL(ctx, "https://b.example/x"))
	assert.Error(t, hl.WaitURL(ctx, "https://a.example/y"))
}

func TestGapZeroIsUnlimited(t *testing.T) {
	g := NewGap(0)
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Wait(context.Background()))
	}
}
