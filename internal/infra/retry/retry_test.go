package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoRetriesUntilSuccess(t *testing.T) {
	var waits []time.Duration
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}, func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("temporary")
		}
		return nil
	}, func(_ error, wait time.Duration) {
		waits = append(waits, wait)
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("upstream 503")
	err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(int) error {
		calls++
		return sentinel
	}, nil)
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 3, calls)
}

func TestDoDoesNotRetryPermanent(t *testing.T) {
	calls := 0
	sentinel := errors.New("unauthorized")
	err := Do(context.Background(), Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}, func(int) error {
		calls++
		return Permanent(sentinel)
	}, nil)
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, calls)
}
