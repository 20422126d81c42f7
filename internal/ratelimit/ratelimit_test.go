package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacerAllowWithinBurst(t *testing.T) {
	p := NewPacer(10, 5, 0, 0)

	for i := 0; i < 5; i++ {
		assert.True(t, p.Allow(), "call %d within burst", i)
	}
	assert.False(t, p.Allow(), "burst exhausted")
}

func TestPacerRefills(t *testing.T) {
	p := NewPacer(100, 1, 0, 0)

	require.True(t, p.Allow())
	require.False(t, p.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, p.Allow(), "tokens refill over time")
}

func TestPacerWaitRespectsContext(t *testing.T) {
	p := NewPacer(0.1, 1, 0, 0)
	require.NoError(t, p.Wait(context.Background())) // burst token

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPacerForcedPauseOnWindow(t *testing.T) {
	p := NewPacer(1000, 1000, 3, 30*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(ctx))
	}
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond, "third call crosses the window and pauses")
	assert.Equal(t, 3, p.Calls())
}
