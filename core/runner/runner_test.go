package runner_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/farmbus/core/retry"
	"github.com/dmitrymomot/farmbus/core/runner"
)

func TestStart_NoRetryPolicy_SingleFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	boom := errors.New("boom")

	h := runner.Start(context.Background(), func() error {
		calls.Add(1)
		return boom
	}, retry.None())

	err := h.Await()
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStart_AggregatesAllFailures(t *testing.T) {
	t.Parallel()

	first := errors.New("first")
	second := errors.New("second")
	errs := []error{first, second}

	var calls atomic.Int32
	policy, err := retry.NewIncremental(1, 0, 0)
	require.NoError(t, err)

	h := runner.Start(context.Background(), func() error {
		n := calls.Add(1)
		return errs[n-1]
	}, policy)

	got := h.Await()
	require.Error(t, got)
	assert.ErrorIs(t, got, first)
	assert.ErrorIs(t, got, second)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStart_WaitsBeforeRetry(t *testing.T) {
	t.Parallel()

	policy, err := retry.NewIncremental(1, 150*time.Millisecond, 0)
	require.NoError(t, err)

	var (
		calls  atomic.Int32
		second atomic.Int64
	)
	start := time.Now()
	recovered := make(chan struct{})

	h := runner.Start(context.Background(), func() error {
		switch calls.Add(1) {
		case 1:
			return errors.New("transient")
		case 2:
			second.Store(int64(time.Since(start)))
			close(recovered)
		}
		return nil
	}, policy)

	select {
	case <-recovered:
	case <-time.After(2 * time.Second):
		t.Fatal("action never retried")
	}

	// The retry delay must have elapsed before the second invocation,
	// and the loop must keep running after recovery.
	assert.GreaterOrEqual(t, time.Duration(second.Load()), 150*time.Millisecond)

	select {
	case <-h.Done():
		t.Fatal("runner stopped after a successful recovery")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStart_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	// Policy allows a single retry. With a success between the two failures
	// the counter resets, so the loop never gives up on the second failure.
	policy, err := retry.NewIncremental(1, 0, 0)
	require.NoError(t, err)

	var calls atomic.Int32
	done := make(chan struct{})

	h := runner.Start(context.Background(), func() error {
		switch calls.Add(1) {
		case 1:
			return errors.New("first failure")
		case 2:
			return nil
		case 3:
			return errors.New("second failure")
		default:
			select {
			case <-done:
			default:
				close(done)
			}
			return nil
		}
	}, policy)

	select {
	case <-done:
	case <-h.Done():
		t.Fatalf("runner gave up although failures were not consecutive: %v", h.Await())
	case <-time.After(2 * time.Second):
		t.Fatal("action did not keep running")
	}
}

func TestStart_CancelInterruptsRetryDelay(t *testing.T) {
	t.Parallel()

	policy, err := retry.NewIncremental(1, 10*time.Second, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	entered := make(chan struct{})

	h := runner.Start(ctx, func() error {
		close(entered)
		return errors.New("fail into a long retry delay")
	}, policy)

	<-entered
	time.Sleep(10 * time.Millisecond) // Let the loop reach the retry sleep.
	cancel()

	start := time.Now()
	require.NoError(t, h.AwaitWithTimeout(time.Second))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestStart_CancelledRunReportsClean(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	h := runner.Start(ctx, func() error {
		calls.Add(1)
		time.Sleep(time.Millisecond)
		return nil
	}, retry.None())

	time.Sleep(20 * time.Millisecond)
	cancel()

	require.NoError(t, h.Await())
	assert.Positive(t, calls.Load())
}

func TestHandle_AwaitWithTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := runner.Start(ctx, func() error {
		time.Sleep(time.Millisecond)
		return nil
	}, retry.None())

	err := h.AwaitWithTimeout(30 * time.Millisecond)
	require.ErrorIs(t, err, runner.ErrAwaitTimeout)
}
