// internal/breaker/breaker_test.go

package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnavailable = errors.New("dependency unavailable")

func failingOp(ctx context.Context) (map[string]interface{}, error) {
	return nil, errUnavailable
}

func succeedingOp(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"ok": true}, nil
}

func TestBreakerTripsAtFailureThreshold(t *testing.T) {
	b := New("external-api", Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.Do(ctx, failingOp)
		require.ErrorIs(t, err, errUnavailable)
		assert.Equal(t, StateClosed, b.Status().State)
	}

	_, err := b.Do(ctx, failingOp)
	require.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, StateOpen, b.Status().State)
}

func TestOpenBreakerRejectsWithoutInvoking(t *testing.T) {
	b := New("external-api", Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	_, err := b.Do(ctx, failingOp)
	require.ErrorIs(t, err, errUnavailable)
	require.Equal(t, StateOpen, b.Status().State)

	invoked := false
	_, err = b.Do(ctx, func(ctx context.Context) (map[string]interface{}, error) {
		invoked = true
		return nil, nil
	})

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "external-api", openErr.Name)
	assert.False(t, openErr.RetryAt.IsZero())
	assert.False(t, invoked, "open breaker must not invoke the operation")
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	b := New("external-api", Config{FailureThreshold: 3})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.Do(ctx, failingOp)
		require.ErrorIs(t, err, errUnavailable)
	}
	_, err := b.Do(ctx, succeedingOp)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Status().FailureCount)

	// Two more failures are again below the threshold.
	for i := 0; i < 2; i++ {
		_, err := b.Do(ctx, failingOp)
		require.ErrorIs(t, err, errUnavailable)
	}
	assert.Equal(t, StateClosed, b.Status().State)
}

func TestRecoveryClosesAfterSuccessThreshold(t *testing.T) {
	b := New("external-api", Config{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Millisecond,
	})
	ctx := context.Background()

	_, err := b.Do(ctx, failingOp)
	require.ErrorIs(t, err, errUnavailable)
	require.Equal(t, StateOpen, b.Status().State)

	// Before the recovery timeout the breaker still rejects.
	var openErr *OpenError
	_, err = b.Do(ctx, succeedingOp)
	require.ErrorAs(t, err, &openErr)

	time.Sleep(50 * time.Millisecond)

	// First trial succeeds but one success is below the threshold.
	out, err := b.Do(ctx, succeedingOp)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"ok": true}, out)
	assert.Equal(t, StateHalfOpen, b.Status().State)

	_, err = b.Do(ctx, succeedingOp)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.Status().State)
}

func TestHalfOpenFailureReopensAndRearmsTimer(t *testing.T) {
	b := New("external-api", Config{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Millisecond,
	})
	ctx := context.Background()

	_, err := b.Do(ctx, failingOp)
	require.ErrorIs(t, err, errUnavailable)

	time.Sleep(50 * time.Millisecond)

	_, err = b.Do(ctx, failingOp)
	require.ErrorIs(t, err, errUnavailable)
	require.Equal(t, StateOpen, b.Status().State)

	// The timer restarted, so an immediate call is rejected again.
	var openErr *OpenError
	_, err = b.Do(ctx, succeedingOp)
	require.ErrorAs(t, err, &openErr)
}

func TestCallTimeoutCountsAsFailure(t *testing.T) {
	b := New("slow-api", Config{
		FailureThreshold: 2,
		CallTimeout:      20 * time.Millisecond,
	})
	ctx := context.Background()

	slowOp := func(ctx context.Context) (map[string]interface{}, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return map[string]interface{}{"ok": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	_, err := b.Do(ctx, slowOp)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, b.Status().FailureCount)

	_, err = b.Do(ctx, slowOp)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateOpen, b.Status().State)
}

func TestHalfOpenBoundsConcurrentTrials(t *testing.T) {
	b := New("external-api", Config{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		RecoveryTimeout:  10 * time.Millisecond,
	})
	ctx := context.Background()

	_, err := b.Do(ctx, failingOp)
	require.ErrorIs(t, err, errUnavailable)
	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	blockingOp := func(ctx context.Context) (map[string]interface{}, error) {
		started <- struct{}{}
		<-release
		return map[string]interface{}{"ok": true}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Do(ctx, blockingOp)
			assert.NoError(t, err)
		}()
	}
	<-started
	<-started

	// Both trial slots are occupied, a third call is rejected.
	var openErr *OpenError
	_, err = b.Do(ctx, succeedingOp)
	require.ErrorAs(t, err, &openErr)

	close(release)
	wg.Wait()
	assert.Equal(t, StateClosed, b.Status().State)
}

func TestCancellationIsNotAFailure(t *testing.T) {
	b := New("external-api", Config{FailureThreshold: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Do(ctx, func(ctx context.Context) (map[string]interface{}, error) {
		return nil, ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.Status().State)
	assert.Equal(t, 0, b.Status().FailureCount)
}

func TestReset(t *testing.T) {
	b := New("external-api", Config{FailureThreshold: 1})
	ctx := context.Background()

	_, err := b.Do(ctx, failingOp)
	require.ErrorIs(t, err, errUnavailable)
	require.Equal(t, StateOpen, b.Status().State)

	b.Reset()

	status := b.Status()
	assert.Equal(t, StateClosed, status.State)
	assert.Equal(t, 0, status.FailureCount)
	assert.Nil(t, status.LastFailure)

	_, err = b.Do(ctx, succeedingOp)
	assert.NoError(t, err)
}

func TestRegistrySharesBreakersByName(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1})
	ctx := context.Background()

	first := r.Get("payments")
	second := r.Get("payments")
	assert.Same(t, first, second)

	_, err := first.Do(ctx, failingOp)
	require.ErrorIs(t, err, errUnavailable)

	// Tripping one name leaves other names untouched.
	assert.Equal(t, StateOpen, r.Get("payments").Status().State)
	assert.Equal(t, StateClosed, r.Get("search").Status().State)
}

func TestRegistryStatusSortedByName(t *testing.T) {
	r := NewRegistry(Config{})
	r.Get("zeta")
	r.Get("alpha")
	r.Get("mid")

	statuses := r.Status()
	require.Len(t, statuses, 3)
	assert.Equal(t, "alpha", statuses[0].Name)
	assert.Equal(t, "mid", statuses[1].Name)
	assert.Equal(t, "zeta", statuses[2].Name)
}

func TestRegistryReset(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1})
	ctx := context.Background()

	_, err := r.Get("payments").Do(ctx, failingOp)
	require.ErrorIs(t, err, errUnavailable)

	assert.True(t, r.Reset("payments"))
	assert.Equal(t, StateClosed, r.Get("payments").Status().State)
	assert.False(t, r.Reset("unknown"))
}
