package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// DefaultMaxRetries is how many attempts a Guard makes by default.
const DefaultMaxRetries = 10

var errCallPanicked = errors.New("throttle: guarded call panicked")

// Guard runs operations against a remote service through a Gate: it waits
// for capacity, invokes the operation, and on a rate-limit rejection feeds
// the rejection back to the gate and tries again, up to a maximum number of
// attempts. Errors that are not rejections are returned untouched on the
// first occurrence.
type Guard struct {
	gate          Gate
	maxRetries    int
	isRejection   func(error) bool
	strategy      Strategy
	onWaitTimeout func(error)
	maxRetryAfter time.Duration
	logger        *zap.Logger
	clock         clockwork.Clock

	inflight conc.WaitGroup
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithMaxRetries sets the number of attempts. Values below one mean one.
func WithMaxRetries(n int) GuardOption {
	return func(g *Guard) {
		g.maxRetries = n
	}
}

// WithRejection sets the predicate that recognizes remote rate-limit
// rejections. The default is IsRejection.
func WithRejection(fn func(error) bool) GuardOption {
	return func(g *Guard) {
		g.isRejection = fn
	}
}

// WithStrategy sets what happens when a wait for capacity times out.
func WithStrategy(s Strategy) GuardOption {
	return func(g *Guard) {
		g.strategy = s
	}
}

// WithOnWaitTimeout sets a callback that fires whenever a wait for capacity
// times out, whatever the strategy. It is the main signal for LogOnly
// guards that calls are going out unmetered.
func WithOnWaitTimeout(fn func(error)) GuardOption {
	return func(g *Guard) {
		g.onWaitTimeout = fn
	}
}

// WithMaxRetryAfter caps how long the guard honors a Retry-After hint
// carried by a RejectionError before the next attempt. Zero ignores hints.
func WithMaxRetryAfter(d time.Duration) GuardOption {
	return func(g *Guard) {
		g.maxRetryAfter = d
	}
}

// WithGuardLogger sets the guard's logger.
func WithGuardLogger(l *zap.Logger) GuardOption {
	return func(g *Guard) {
		g.logger = l
	}
}

// WithGuardClock sets the clock used for Retry-After pauses.
func WithGuardClock(c clockwork.Clock) GuardOption {
	return func(g *Guard) {
		g.clock = c
	}
}

// NewGuard creates a guard pacing calls through gate.
func NewGuard(gate Gate, opts ...GuardOption) *Guard {
	g := &Guard{
		gate:          gate,
		maxRetries:    DefaultMaxRetries,
		isRejection:   IsRejection,
		maxRetryAfter: time.Minute,
	}
	for _, o := range opts {
		o(g)
	}
	if g.maxRetries < 1 {
		g.maxRetries = 1
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.clock == nil {
		g.clock = clockwork.NewRealClock()
	}
	return g
}

// Call describes one guarded operation.
type Call[T any] struct {
	// Fn performs the remote call.
	Fn func(ctx context.Context) (T, error)
	// Costs is acquired before every attempt. Nil means one request.
	Costs Costs
	// ActualCost, if set, returns extra cost measured from a successful
	// result. It is spent without waiting, after the call.
	ActualCost func(T) Costs
}

// Do runs call through g in the calling goroutine and returns its result.
//
// A rejection recognized by the guard's predicate is fed to the gate and
// retried, consuming one attempt. After the last attempt Do returns a
// *RetriesExhaustedError wrapping the last rejection. Any other error from
// call.Fn is returned as is. A wait timeout ends the call with a
// *WaitTimedOutError under the Strict strategy. ctx is checked before each
// attempt.
func Do[T any](ctx context.Context, g *Guard, call Call[T]) (T, error) {
	var zero T
	costs := call.Costs
	if costs == nil {
		costs = Costs{Requests: 1}
	}
	log := g.logger.With(zap.String("call_id", uuid.NewString()))

	var last error
	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		if err := g.gate.Acquire(ctx, costs); err != nil {
			if !errors.Is(err, ErrWaitTimedOut) {
				return zero, err
			}
			if g.onWaitTimeout != nil {
				g.onWaitTimeout(err)
			}
			if g.strategy != LogOnly {
				log.Warn("no capacity within max wait", zap.Error(err))
				return zero, err
			}
			log.Warn("proceeding without capacity", zap.Error(err))
		}

		result, err := call.Fn(ctx)
		if err == nil {
			if call.ActualCost != nil {
				g.gate.Settle(call.ActualCost(result))
			}
			return result, nil
		}
		if !g.isRejection(err) {
			return zero, err
		}

		last = err
		reduced := g.gate.OnRejection()
		log.Debug("call rejected by remote rate limit",
			zap.Int("attempt", attempt),
			zap.Bool("rate_reduced", reduced),
			zap.Error(err))

		if attempt < g.maxRetries {
			if d := min(retryAfter(err), g.maxRetryAfter); d > 0 {
				g.clock.Sleep(d)
			}
		}
	}

	log.Info("retries exhausted", zap.Int("attempts", g.maxRetries), zap.Error(last))
	return zero, &RetriesExhaustedError{Attempts: g.maxRetries, Last: last}
}

// Future is the pending result of an Async call.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await waits for the result. If ctx ends first it returns ctx.Err(); the
// call itself keeps running under the context it was started with.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Async runs call through g on its own goroutine and returns at once. The
// goroutine yields between attempts like Do, so a saturated gate never
// holds up the caller. Use Guard.Wait to wait for every outstanding call.
func Async[T any](ctx context.Context, g *Guard, call Call[T]) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), err: errCallPanicked}
	g.inflight.Go(func() {
		defer close(f.done)
		f.val, f.err = Do(ctx, g, call)
	})
	return f
}

// Wait blocks until every call started with Async has finished. A panic in
// one of them is re-raised here.
func (g *Guard) Wait() {
	g.inflight.Wait()
}

// DoAll runs calls through g with at most concurrency in flight (no limit
// if concurrency is below one) and returns their results in order. The
// first error cancels the calls that have not finished and is returned.
func DoAll[T any](ctx context.Context, g *Guard, concurrency int, calls []Call[T]) ([]T, error) {
	results := make([]T, len(calls))
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	if concurrency > 0 {
		p = p.WithMaxGoroutines(concurrency)
	}
	for i, call := range calls {
		p.Go(func(ctx context.Context) error {
			res, err := Do(ctx, g, call)
			if err != nil {
				return fmt.Errorf("call %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
