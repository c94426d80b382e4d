package throttle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ryhazerus/throttle/store"
)

// DefaultMaxWait is how long a wait for capacity lasts before it gives up.
const DefaultMaxWait = 5 * time.Minute

// Bucket is a continuously refilling token bucket for one quota dimension.
// It gains rate tokens per second up to capacity. Refill is lazy: every
// observation credits the time elapsed since the previous one.
//
// A Bucket is safe for concurrent use.
type Bucket struct {
	mu    sync.Mutex
	clock clockwork.Clock

	rate        float64 // tokens per second
	capacity    float64
	tokens      float64
	lastChecked time.Time

	created time.Time
	spent   float64
}

// NewBucket creates a bucket refilling at rate tokens per second and
// holding at most capacity tokens. It starts empty unless WithTokens is
// given.
func NewBucket(rate, capacity float64, opts ...Option) (*Bucket, error) {
	if err := checkLimit(rate, capacity); err != nil {
		return nil, err
	}
	s := newSettings(opts)
	now := s.clock.Now()
	return &Bucket{
		clock:       s.clock,
		rate:        rate,
		capacity:    capacity,
		tokens:      math.Min(s.tokens, capacity),
		lastChecked: now,
		created:     now,
	}, nil
}

func checkLimit(rate, capacity float64) error {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return fmt.Errorf("%w: rate must be positive, got %g", ErrInvalidLimit, rate)
	}
	if !(capacity >= 0) || math.IsInf(capacity, 0) {
		return fmt.Errorf("%w: capacity must not be negative, got %g", ErrInvalidLimit, capacity)
	}
	return nil
}

func checkCost(cost float64) error {
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return fmt.Errorf("%w: cost must be finite, got %g", ErrInvalidLimit, cost)
	}
	return nil
}

// refill credits tokens for the time since lastChecked. Callers hold b.mu.
func (b *Bucket) refill(now time.Time) {
	if now.After(b.lastChecked) {
		b.tokens += b.rate * now.Sub(b.lastChecked).Seconds()
		b.lastChecked = now
	}
	b.tokens = math.Min(b.capacity, b.tokens)
}

// spendIfAvailable is SpendIfAvailable for callers holding b.mu.
func (b *Bucket) spendIfAvailable(now time.Time, cost float64) bool {
	b.refill(now)
	if b.tokens < cost {
		return false
	}
	b.tokens -= cost
	b.spent += cost
	return true
}

// Available refills the bucket and returns the current token count.
func (b *Bucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.clock.Now())
	return b.tokens
}

// SpendIfAvailable deducts cost if the refilled bucket holds at least that
// many tokens. Otherwise it returns ErrInsufficientTokens and leaves the
// bucket unchanged. A NaN or infinite cost is rejected with ErrInvalidLimit.
func (b *Bucket) SpendIfAvailable(cost float64) error {
	if err := checkCost(cost); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.spendIfAvailable(b.clock.Now(), cost) {
		return ErrInsufficientTokens
	}
	return nil
}

// Spend deducts cost without refilling or checking. The token count may go
// negative, which delays later spends until the debt is refilled. It is
// meant for reconciling an estimate against the real cost of a call.
// NaN and infinite costs are ignored.
func (b *Bucket) Spend(cost float64) {
	if checkCost(cost) != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens -= cost
	b.spent += cost
}

// Reconfigure changes the bucket's limits. A new rate empties the bucket so
// that a rate change never grants a burst. The capacity is always updated.
func (b *Bucket) Reconfigure(rate, capacity float64) error {
	if err := checkLimit(rate, capacity); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if rate != b.rate {
		b.rate = rate
		b.tokens = 0
		b.lastChecked = b.clock.Now()
	}
	b.capacity = capacity
	return nil
}

// Rate returns the refill rate in tokens per second.
func (b *Bucket) Rate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate
}

// Capacity returns the maximum token count.
func (b *Bucket) Capacity() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// EffectiveRate returns the tokens spent per second since the bucket was
// created.
func (b *Bucket) EffectiveRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := b.clock.Since(b.created).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return b.spent / elapsed
}

// Wait blocks until cost tokens can be spent, then spends them. Between
// attempts it sleeps for 1/rate seconds. If maxWait passes first it returns
// a *WaitTimedOutError without spending anything.
//
// ctx is only checked between attempts; a sleep in progress is not cut
// short.
func (b *Bucket) Wait(ctx context.Context, cost float64, maxWait time.Duration) error {
	if err := checkCost(cost); err != nil {
		return err
	}
	waited, err := b.wait(ctx, cost, maxWait)
	if errors.Is(err, ErrWaitTimedOut) {
		return &WaitTimedOutError{Cost: cost, Waited: waited}
	}
	return err
}

func (b *Bucket) wait(ctx context.Context, cost float64, maxWait time.Duration) (time.Duration, error) {
	return poll(ctx, b.clock, maxWait,
		func() time.Duration {
			return pollInterval(1, b.Rate())
		},
		func() bool {
			b.mu.Lock()
			defer b.mu.Unlock()
			return b.spendIfAvailable(b.clock.Now(), cost)
		})
}

func (b *Bucket) state(scope, resource string) store.State {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.clock.Now())
	return store.State{
		Scope:     scope,
		Resource:  resource,
		Rate:      b.rate,
		Capacity:  b.capacity,
		Tokens:    b.tokens,
		Spent:     b.spent,
		UpdatedAt: b.lastChecked,
	}
}

// restore adopts saved token counts when the saved rate matches. Time spent
// while the state was at rest is not credited. The spent total is kept per
// process so EffectiveRate stays relative to this bucket's creation.
func (b *Bucket) restore(st store.State) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if st.Rate != b.rate || checkCost(st.Tokens) != nil {
		return false
	}
	b.tokens = math.Min(st.Tokens, b.capacity)
	b.lastChecked = b.clock.Now()
	return true
}

// poll runs try until it succeeds, sleeping interval() between attempts. It
// gives up with ErrWaitTimedOut once maxWait has passed and returns how long
// it waited. Sleeps never run past the deadline.
func poll(ctx context.Context, clk clockwork.Clock, maxWait time.Duration,
	interval func() time.Duration, try func() bool,
) (time.Duration, error) {
	start := clk.Now()
	for {
		if err := ctx.Err(); err != nil {
			return clk.Since(start), err
		}
		if try() {
			return clk.Since(start), nil
		}
		waited := clk.Since(start)
		if waited >= maxWait {
			return waited, ErrWaitTimedOut
		}
		d := interval()
		if remaining := maxWait - waited; d > remaining {
			d = remaining
		}
		clk.Sleep(d)
	}
}

// pollInterval is factor/rate seconds, with a floor of one millisecond.
func pollInterval(factor, rate float64) time.Duration {
	d := time.Duration(factor / rate * float64(time.Second))
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}
