package throttle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// ControllerConfig holds the tuning parameters of an adaptive Controller.
type ControllerConfig struct {
	// InitialRate is the starting rate in requests per second. Start high:
	// the controller backs off on rejection.
	InitialRate float64
	// MaxRate is the ceiling the rate grows back toward.
	MaxRate float64
	// Window is the enforcement window. The rate never drops below one
	// request per window, and the bucket holds rate × window tokens.
	Window Window
	// ReductionFactor multiplies the rate on a rejection. Must be in (0, 1).
	ReductionFactor float64
	// IncreaseFactor is the exponential growth constant per second.
	IncreaseFactor float64
	// Cooldown is the minimum time between two rate reductions.
	Cooldown time.Duration
	// MaxWait is the soft timeout of Acquire.
	MaxWait time.Duration
}

// DefaultControllerConfig returns a config that starts at 200 requests per
// second and never exceeds 1000.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		InitialRate:     200,
		MaxRate:         1000,
		Window:          PerMinute,
		ReductionFactor: 0.5,
		IncreaseFactor:  0.01,
		Cooldown:        5 * time.Second,
		MaxWait:         DefaultMaxWait,
	}
}

// Validate reports the first out-of-range parameter.
func (c ControllerConfig) Validate() error {
	switch {
	case !(c.InitialRate > 0):
		return fmt.Errorf("%w: initial rate must be positive, got %g", ErrInvalidLimit, c.InitialRate)
	case !(c.MaxRate > 0) || math.IsInf(c.MaxRate, 0):
		return fmt.Errorf("%w: max rate must be positive, got %g", ErrInvalidLimit, c.MaxRate)
	case !(c.ReductionFactor > 0 && c.ReductionFactor < 1):
		return fmt.Errorf("%w: reduction factor must be in (0, 1), got %g", ErrInvalidLimit, c.ReductionFactor)
	case !(c.IncreaseFactor > 0):
		return fmt.Errorf("%w: increase factor must be positive, got %g", ErrInvalidLimit, c.IncreaseFactor)
	case c.Cooldown < 0:
		return fmt.Errorf("%w: cooldown must not be negative, got %s", ErrInvalidLimit, c.Cooldown)
	case c.MaxWait < 0:
		return fmt.Errorf("%w: max wait must not be negative, got %s", ErrInvalidLimit, c.MaxWait)
	case c.MaxRate < c.floorRate():
		return fmt.Errorf("%w: max rate %g is below one request per %s", ErrInvalidLimit, c.MaxRate, c.Window.Duration())
	}
	return nil
}

func (c ControllerConfig) floorRate() float64 {
	return 1 / c.Window.Seconds()
}

// Controller paces requests through a token bucket whose rate it tunes from
// feedback. It does not need to know the remote limit: it backs off sharply
// on each rejection and recovers exponentially while calls succeed, which
// keeps it close to the true ceiling.
//
// All state lives under the bucket's lock, so a Controller is safe for
// concurrent use.
type Controller struct {
	bucket *Bucket
	cfg    ControllerConfig
	floor  float64
	logger *zap.Logger

	lastRateUpdate time.Time
	lastError      time.Time
	reductions     int
	// detached is set once the bucket is handed over to a fixed limit.
	detached bool
}

// NewController creates an adaptive controller. The initial rate is
// clamped into [1/window, MaxRate].
func NewController(cfg ControllerConfig, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := newSettings(opts)
	floor := cfg.floorRate()
	rate := clamp(cfg.InitialRate, floor, cfg.MaxRate)
	b, err := NewBucket(rate, rate*cfg.Window.Seconds(), WithClock(s.clock))
	if err != nil {
		return nil, err
	}
	return &Controller{
		bucket:         b,
		cfg:            cfg,
		floor:          floor,
		logger:         s.logger,
		lastRateUpdate: b.lastChecked,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

// setRate refills at the old rate before switching, so the switch only
// affects time after now. Callers hold the bucket lock. A detached
// controller no longer touches the bucket.
func (c *Controller) setRate(now time.Time, rate float64) {
	if c.detached {
		return
	}
	b := c.bucket
	b.refill(now)
	b.rate = rate
	b.capacity = rate * c.cfg.Window.Seconds()
	b.tokens = math.Min(b.tokens, b.capacity)
	c.lastRateUpdate = now
}

// OnRejection reacts to a remote rate-limit rejection by multiplying the
// rate by the reduction factor, never going below the floor. Rejections
// within the cooldown of the last effective one are ignored. It reports
// whether the rate was reduced.
func (c *Controller) OnRejection() bool {
	c.bucket.mu.Lock()
	defer c.bucket.mu.Unlock()

	now := c.bucket.clock.Now()
	if c.detached {
		return false
	}
	if !c.lastError.IsZero() && now.Sub(c.lastError) < c.cfg.Cooldown {
		return false
	}
	old := c.bucket.rate
	c.setRate(now, math.Max(old*c.cfg.ReductionFactor, c.floor))
	c.lastError = now
	c.reductions++

	c.logger.Debug("rate reduced after rejection",
		zap.Float64("from", old),
		zap.Float64("to", c.bucket.rate),
		zap.Int("reductions", c.reductions))
	return true
}

// Grow raises the rate by exp(IncreaseFactor × seconds since the last
// update), capped at MaxRate.
func (c *Controller) Grow() {
	c.bucket.mu.Lock()
	defer c.bucket.mu.Unlock()
	c.grow(c.bucket.clock.Now())
}

func (c *Controller) grow(now time.Time) {
	if c.detached {
		return
	}
	elapsed := now.Sub(c.lastRateUpdate).Seconds()
	if elapsed <= 0 {
		return
	}
	rate := c.bucket.rate * math.Exp(c.cfg.IncreaseFactor*elapsed)
	c.setRate(now, math.Min(rate, c.cfg.MaxRate))
}

// TryAcquire takes one token, growing the rate before every attempt and
// sleeping 0.1/rate seconds between attempts. After maxWait it gives up with
// a *WaitTimedOutError.
func (c *Controller) TryAcquire(ctx context.Context, maxWait time.Duration) error {
	return c.acquire(ctx, 1, maxWait)
}

func (c *Controller) acquire(ctx context.Context, cost float64, maxWait time.Duration) error {
	waited, err := c.wait(ctx, cost, maxWait)
	if errors.Is(err, ErrWaitTimedOut) {
		return &WaitTimedOutError{Resource: Requests, Cost: cost, Waited: waited}
	}
	return err
}

func (c *Controller) wait(ctx context.Context, cost float64, maxWait time.Duration) (time.Duration, error) {
	return poll(ctx, c.bucket.clock, maxWait,
		func() time.Duration {
			return pollInterval(0.1, c.bucket.Rate())
		},
		func() bool {
			c.bucket.mu.Lock()
			defer c.bucket.mu.Unlock()
			now := c.bucket.clock.Now()
			c.grow(now)
			return c.bucket.spendIfAvailable(now, cost)
		})
}

// Acquire implements Gate. A controller paces calls only, so every call
// costs one token whatever the cost map says.
func (c *Controller) Acquire(ctx context.Context, _ Costs) error {
	return c.TryAcquire(ctx, c.cfg.MaxWait)
}

// Settle implements Gate. It spends the Requests entry of costs, if any.
func (c *Controller) Settle(costs Costs) {
	if n := costs[Requests]; n != 0 {
		c.bucket.Spend(n)
	}
}

// Rate returns the current rate in requests per second.
func (c *Controller) Rate() float64 {
	return c.bucket.Rate()
}

// Bucket exposes the underlying token bucket.
func (c *Controller) Bucket() *Bucket {
	return c.bucket
}

// ControllerStats is a point-in-time view of a Controller.
type ControllerStats struct {
	Rate       float64
	Tokens     float64
	Capacity   float64
	Reductions int
}

// Stats returns the current rate, refilled token count and how many
// rejections reduced the rate so far.
func (c *Controller) Stats() ControllerStats {
	c.bucket.mu.Lock()
	defer c.bucket.mu.Unlock()

	c.bucket.refill(c.bucket.clock.Now())
	return ControllerStats{
		Rate:       c.bucket.rate,
		Tokens:     c.bucket.tokens,
		Capacity:   c.bucket.capacity,
		Reductions: c.reductions,
	}
}

// detach stops the controller from adjusting its bucket. Waits already in
// progress keep spending from the bucket at whatever rate it is given.
func (c *Controller) detach() {
	c.bucket.mu.Lock()
	defer c.bucket.mu.Unlock()
	c.detached = true
}

// restoreRate adopts a previously learned rate, clamped to the configured
// bounds. The bucket starts empty at the restored rate.
func (c *Controller) restoreRate(rate float64) {
	c.bucket.mu.Lock()
	defer c.bucket.mu.Unlock()

	if c.detached {
		return
	}
	c.setRate(c.bucket.clock.Now(), clamp(rate, c.floor, c.cfg.MaxRate))
	c.bucket.tokens = 0
}

// reconfigure switches to a new config, keeping the learned rate within the
// new bounds.
func (c *Controller) reconfigure(cfg ControllerConfig) {
	c.bucket.mu.Lock()
	defer c.bucket.mu.Unlock()

	c.cfg = cfg
	c.floor = cfg.floorRate()
	c.setRate(c.bucket.clock.Now(), clamp(c.bucket.rate, c.floor, cfg.MaxRate))
}
