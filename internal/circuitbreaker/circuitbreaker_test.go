package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("test", Config{MaxFailures: 3, Cooldown: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := b.Execute(ctx, func() error { return errBoom })
		assert.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	// Calls are shed while open.
	err := b.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := New("test", Config{MaxFailures: 3, Cooldown: time.Hour})
	ctx := context.Background()

	_ = b.Execute(ctx, func() error { return errBoom })
	_ = b.Execute(ctx, func() error { return errBoom })
	require.NoError(t, b.Execute(ctx, func() error { return nil }))
	_ = b.Execute(ctx, func() error { return errBoom })
	assert.Equal(t, StateClosed, b.State(), "interleaved success must reset the streak")
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	b := New("test", Config{MaxFailures: 1, Cooldown: 10 * time.Millisecond})
	ctx := context.Background()

	_ = b.Execute(ctx, func() error { return errBoom })
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	// The probe is allowed through and closes the circuit on success.
	require.NoError(t, b.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := New("test", Config{MaxFailures: 1, Cooldown: 10 * time.Millisecond})
	ctx := context.Background()

	_ = b.Execute(ctx, func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)

	err := b.Execute(ctx, func() error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerReset(t *testing.T) {
	b := New("test", Config{MaxFailures: 1, Cooldown: time.Hour})
	_ = b.Execute(context.Background(), func() error { return errBoom })
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
}
