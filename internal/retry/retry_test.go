package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errAuth = errors.New("auth")

func recordSleeps(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	var waits []time.Duration
	p := Fixed("connect", 3, 5*time.Second, nil)
	p.Sleep = recordSleeps(&waits)

	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return errors.New("refused")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, waits)
}

func TestDoDoesNotRetryNonRetryable(t *testing.T) {
	var waits []time.Duration
	p := Fixed("connect", 5, time.Second, func(err error) bool { return !errors.Is(err, errAuth) })
	p.Sleep = recordSleeps(&waits)

	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return errAuth
	})
	assert.ErrorIs(t, err, errAuth)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	var waits []time.Duration
	p := Fixed("connect", 3, time.Millisecond, nil)
	p.Sleep = recordSleeps(&waits)

	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoExponentialBackoff(t *testing.T) {
	var waits []time.Duration
	p := Policy{Name: "x", MaxAttempts: 4, Delay: time.Second, MaxDelay: 3 * time.Second, Factor: 2, Sleep: recordSleeps(&waits)}
	_ = Do(context.Background(), p, func(context.Context) error { return errors.New("no") })
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, waits)
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
