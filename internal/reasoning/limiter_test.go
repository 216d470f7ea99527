package reasoning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clockedLimiter pins the limiter to a fake clock the test advances.
func clockedLimiter(rpm, burst int) (*Limiter, *time.Time) {
	current := time.Unix(1000, 0)
	l := NewLimiter(rpm, burst)
	l.now = func() time.Time { return current }
	l.last = current
	l.tokens = float64(burst)
	return l, &current
}

func TestLimiter_BurstThenWaits(t *testing.T) {
	l, _ := clockedLimiter(60, 2) // one token per second

	for i := 0; i < 2; i++ {
		wait, ok := l.take()
		require.True(t, ok, "token %d should be available", i)
		assert.Equal(t, time.Duration(0), wait)
	}

	wait, ok := l.take()
	require.False(t, ok)
	assert.Equal(t, time.Second, wait)
}

func TestLimiter_RefillsOverTime(t *testing.T) {
	l, current := clockedLimiter(60, 2)

	_, ok := l.take()
	require.True(t, ok)
	_, ok = l.take()
	require.True(t, ok)

	*current = current.Add(1500 * time.Millisecond)
	_, ok = l.take()
	require.True(t, ok, "refilled token should be available")

	wait, ok := l.take()
	require.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait, "half a token remains after the refill")
}

func TestLimiter_RefillCapsAtBurst(t *testing.T) {
	l, current := clockedLimiter(60, 2)

	*current = current.Add(time.Hour)
	for i := 0; i < 2; i++ {
		_, ok := l.take()
		require.True(t, ok)
	}
	_, ok := l.take()
	assert.False(t, ok, "bucket must not hold more than burst")
}

func TestLimiter_AcquireHonorsContext(t *testing.T) {
	l := NewLimiter(1, 1) // one token per minute
	require.NoError(t, l.Acquire(context.Background()), "burst token")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
