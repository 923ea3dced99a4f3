package governance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(cfg)
	b.now = clock.Now
	return b, clock
}

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})
	ctx := context.Background()

	require.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	require.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	require.NoError(t, b.Execute(ctx, succeed)) // resets the streak
	require.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	require.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateClosed, b.State())

	require.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, 1, b.Stats().Rejected)
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Second})
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, fail))
	assert.Equal(t, StateOpen, b.State())

	clock.Advance(11 * time.Second)
	require.NoError(t, b.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Second})
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, fail))
	clock.Advance(11 * time.Second)
	require.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(ctx, succeed), ErrCircuitOpen)
}

func TestBreaker_CallerCancellationNotCounted(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	err := b.Execute(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())

	// Already-cancelled contexts short-circuit.
	assert.ErrorIs(t, b.Execute(ctx, succeed), context.Canceled)
}

func TestBreaker_DeadlineCountsAsFailure(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})

	err := b.Execute(context.Background(), func(context.Context) error { return context.DeadlineExceeded })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 1})
	require.Error(t, b.Execute(context.Background(), fail))
	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Stats().Failures)
}

func TestBreakerSet(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{FailureThreshold: 2})
	configured := set.Configure("ner", BreakerConfig{FailureThreshold: 1, Cooldown: time.Second})

	assert.Same(t, configured, set.Get("ner"))
	lazy := set.Get("medical")
	assert.Same(t, lazy, set.Get("medical"))
	assert.NotSame(t, configured, lazy)

	require.Error(t, configured.Execute(context.Background(), fail))
	stats := set.Stats()
	assert.Equal(t, "open", stats["ner"].State)
	assert.Equal(t, "closed", stats["medical"].State)
}
