package throttle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream: 429 too many requests")

// fastController returns a controller that refills fast enough for tests
// on the real clock.
func fastController(t *testing.T, cooldown time.Duration) *Controller {
	t.Helper()
	cfg := DefaultControllerConfig()
	cfg.InitialRate = 1000
	cfg.Cooldown = cooldown
	cfg.MaxWait = time.Second
	c, err := NewController(cfg)
	require.NoError(t, err)
	return c
}

// rejectTimes returns a call that is rejected n times before succeeding.
func rejectTimes(n int32, calls *atomic.Int32) Call[string] {
	return Call[string]{
		Fn: func(context.Context) (string, error) {
			if calls.Add(1) <= n {
				return "", Reject(errUpstream, 0)
			}
			return "ok", nil
		},
	}
}

func TestGuardRetriesRejections(t *testing.T) {
	ctrl := fastController(t, 0)
	g := NewGuard(ctrl, WithMaxRetries(3))

	var calls atomic.Int32
	got, err := Do(context.Background(), g, rejectTimes(2, &calls))
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, 2, ctrl.Stats().Reductions)
	assert.InDelta(t, 250, ctrl.Rate(), 1)
}

func TestGuardRetriesRespectCooldown(t *testing.T) {
	ctrl := fastController(t, time.Hour)
	g := NewGuard(ctrl, WithMaxRetries(3))

	var calls atomic.Int32
	_, err := Do(context.Background(), g, rejectTimes(2, &calls))
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, 1, ctrl.Stats().Reductions)
}

func TestGuardRetriesExhausted(t *testing.T) {
	g := NewGuard(fastController(t, 0), WithMaxRetries(3))

	var calls atomic.Int32
	_, err := Do(context.Background(), g, rejectTimes(10, &calls))
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.ErrorIs(t, err, errUpstream)
	assert.EqualValues(t, 3, calls.Load())

	var re *RetriesExhaustedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 3, re.Attempts)
}

func TestGuardPropagatesOtherErrors(t *testing.T) {
	ctrl := fastController(t, 0)
	g := NewGuard(ctrl)
	boom := errors.New("boom")

	var calls atomic.Int32
	_, err := Do(context.Background(), g, Call[int]{
		Fn: func(context.Context) (int, error) {
			calls.Add(1)
			return 0, boom
		},
	})
	require.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, calls.Load())
	assert.Zero(t, ctrl.Stats().Reductions)
}

func TestGuardCustomRejection(t *testing.T) {
	g := NewGuard(fastController(t, 0), WithMaxRetries(2), WithRejection(func(err error) bool {
		return errors.Is(err, errUpstream)
	}))

	var calls atomic.Int32
	_, err := Do(context.Background(), g, Call[int]{
		Fn: func(context.Context) (int, error) {
			calls.Add(1)
			return 0, errUpstream
		},
	})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.EqualValues(t, 2, calls.Load())
}

func TestGuardMaxRetriesAtLeastOne(t *testing.T) {
	g := NewGuard(fastController(t, 0), WithMaxRetries(0))

	var calls atomic.Int32
	_, err := Do(context.Background(), g, rejectTimes(5, &calls))
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGuardWaitTimeoutStrict(t *testing.T) {
	reg := NewRegistry(WithMaxWait(time.Second))
	require.NoError(t, reg.SetLimit("svc", Requests, 60, PerMinute))
	require.NoError(t, reg.SetLimit("svc", Tokens, 1000, PerMinute))

	var timeouts atomic.Int32
	g := NewGuard(reg.Scope("svc"), WithOnWaitTimeout(func(error) { timeouts.Add(1) }))

	var calls atomic.Int32
	_, err := Do(context.Background(), g, Call[string]{
		Fn: func(context.Context) (string, error) {
			calls.Add(1)
			return "unreachable", nil
		},
		Costs: Costs{Requests: 1, Tokens: 2000},
	})
	require.ErrorIs(t, err, ErrWaitTimedOut)
	assert.Zero(t, calls.Load())
	assert.EqualValues(t, 1, timeouts.Load())
}

func TestGuardWaitTimeoutLogOnly(t *testing.T) {
	reg := NewRegistry(WithMaxWait(10 * time.Millisecond))
	require.NoError(t, reg.SetLimit("svc", Requests, 1, PerMinute))

	var timeouts atomic.Int32
	g := NewGuard(reg.Scope("svc"),
		WithStrategy(LogOnly),
		WithOnWaitTimeout(func(err error) {
			assert.ErrorIs(t, err, ErrWaitTimedOut)
			timeouts.Add(1)
		}))

	got, err := Do(context.Background(), g, Call[string]{
		Fn: func(context.Context) (string, error) { return "unmetered", nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "unmetered", got)
	assert.EqualValues(t, 1, timeouts.Load())
}

func TestGuardSettlesActualCost(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.SetLimit("svc", Requests, 60000, PerMinute))
	require.NoError(t, reg.SetLimit("svc", Tokens, 60000, PerMinute))
	g := NewGuard(reg.Scope("svc"))

	_, err := Do(context.Background(), g, Call[int]{
		Fn:         func(context.Context) (int, error) { return 5000, nil },
		Costs:      Costs{Requests: 1},
		ActualCost: func(used int) Costs { return Costs{Tokens: float64(used)} },
	})
	require.NoError(t, err)

	b, _ := reg.Bucket("svc", Tokens)
	assert.Less(t, b.Available(), -4000.0)
}

func TestGuardHonorsRetryAfter(t *testing.T) {
	g := NewGuard(fastController(t, 0), WithMaxRetries(2), WithMaxRetryAfter(30*time.Millisecond))

	var calls atomic.Int32
	start := time.Now()
	_, err := Do(context.Background(), g, Call[int]{
		Fn: func(context.Context) (int, error) {
			if calls.Add(1) == 1 {
				return 0, Reject(errUpstream, time.Hour)
			}
			return 1, nil
		},
	})
	require.NoError(t, err)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Less(t, elapsed, time.Second, "hint is capped")
}

func TestGuardStopsOnCanceledContext(t *testing.T) {
	g := NewGuard(fastController(t, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, g, Call[int]{
		Fn: func(context.Context) (int, error) { return 1, nil },
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestAsync(t *testing.T) {
	g := NewGuard(fastController(t, 0), WithMaxRetries(3))

	var calls atomic.Int32
	f := Async(context.Background(), g, rejectTimes(1, &calls))

	got, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	<-f.Done()
	g.Wait()
}

func TestFutureAwaitCanceled(t *testing.T) {
	g := NewGuard(fastController(t, 0))
	release := make(chan struct{})
	f := Async(context.Background(), g, Call[int]{
		Fn: func(context.Context) (int, error) {
			<-release
			return 1, nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	got, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	g.Wait()
}

func TestDoAllKeepsOrder(t *testing.T) {
	g := NewGuard(fastController(t, 0))

	calls := make([]Call[int], 20)
	for i := range calls {
		calls[i] = Call[int]{
			Fn: func(context.Context) (int, error) { return i * i, nil },
		}
	}

	got, err := DoAll(context.Background(), g, 4, calls)
	require.NoError(t, err)
	for i, v := range got {
		assert.Equal(t, i*i, v)
	}
}

func TestDoAllReturnsFirstError(t *testing.T) {
	g := NewGuard(fastController(t, 0))
	boom := errors.New("boom")

	calls := []Call[int]{
		{Fn: func(context.Context) (int, error) { return 1, nil }},
		{Fn: func(context.Context) (int, error) { return 0, boom }},
	}
	_, err := DoAll(context.Background(), g, 0, calls)
	require.ErrorIs(t, err, boom)
}
