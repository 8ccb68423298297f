package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/empty-block/vibe-playlist-sub001/internal/infra/clock"
	"github.com/empty-block/vibe-playlist-sub001/internal/testutil"
)

func TestThrottleSpacesCallsWithFakeClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := testutil.NewFakeClock(start)
	th := NewThrottle(fake, 200*time.Millisecond)

	var stamps []time.Time
	for i := 0; i < 5; i++ {
		require.NoError(t, th.Wait(context.Background()))
		stamps = append(stamps, fake.Now())
	}
	for i := 1; i < len(stamps); i++ {
		require.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 200*time.Millisecond)
	}
	require.GreaterOrEqual(t, stamps[4].Sub(stamps[0]), 4*200*time.Millisecond)
}

func TestThrottleRealClockLowerBound(t *testing.T) {
	const n = 5
	interval := 20 * time.Millisecond
	th := NewThrottle(clock.Real{}, interval)

	begin := time.Now()
	for i := 0; i < n; i++ {
		require.NoError(t, th.Wait(context.Background()))
	}
	require.GreaterOrEqual(t, time.Since(begin), time.Duration(n-1)*interval)
}

func TestThrottleFirstCallDoesNotWait(t *testing.T) {
	fake := testutil.NewFakeClock(time.Unix(0, 0))
	th := NewThrottle(fake, time.Second)
	require.NoError(t, th.Wait(context.Background()))
	require.Empty(t, fake.Sleeps())
}

func TestThrottleHonorsCancelledContext(t *testing.T) {
	fake := testutil.NewFakeClock(time.Unix(0, 0))
	th := NewThrottle(fake, time.Second)
	require.NoError(t, th.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, th.Wait(ctx), context.Canceled)
}
