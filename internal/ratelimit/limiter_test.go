package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalModeSpacing(t *testing.T) {
	l := New(HostConfig{
		Mode:     ModeInterval,
		MinDelay: 40 * time.Millisecond,
		MaxDelay: 40 * time.Millisecond,
	})
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "example.com"))
	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "example.com"))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 35*time.Millisecond, "second acquire should wait out the interval")
}

func TestDistinctHostsDoNotBlock(t *testing.T) {
	l := New(HostConfig{
		Mode:     ModeInterval,
		MinDelay: 200 * time.Millisecond,
		MaxDelay: 200 * time.Millisecond,
	})
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "a.example.com"))
	require.NoError(t, l.Acquire(ctx, "b.example.com"))

	// a.example.com is now inside its interval; b must still be quick on a
	// fresh host even while a waiter is parked.
	done := make(chan struct{})
	go func() {
		_ = l.Acquire(ctx, "a.example.com")
		close(done)
	}()

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "c.example.com"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	<-done
}

func TestCooldownDelaysAcquire(t *testing.T) {
	l := New(HostConfig{Mode: ModeInterval})
	ctx := context.Background()

	l.SetCooldown("example.com", time.Now().Add(60*time.Millisecond))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "example.com"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestCooldownNeverShrinks(t *testing.T) {
	l := New(HostConfig{Mode: ModeInterval})
	far := time.Now().Add(time.Hour)
	l.SetCooldown("example.com", far)
	l.SetCooldown("example.com", time.Now().Add(time.Minute))

	assert.Equal(t, far, l.CooldownUntil("example.com"))
}

func TestBucketModeHonoursBurst(t *testing.T) {
	l := New(HostConfig{Mode: ModeBucket, RPS: 100, Burst: 3})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx, "example.com"))
	}
	assert.Less(t, time.Since(start), 20*time.Millisecond, "burst acquisitions should not wait")
}

func TestAcquireCancellation(t *testing.T) {
	l := New(HostConfig{Mode: ModeInterval})
	l.SetCooldown("example.com", time.Now().Add(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx, "example.com")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentAcquireSingleHost(t *testing.T) {
	l := New(HostConfig{
		Mode:     ModeInterval,
		MinDelay: 5 * time.Millisecond,
		MaxDelay: 5 * time.Millisecond,
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Acquire(ctx, "example.com"))
		}()
	}
	wg.Wait()
}
