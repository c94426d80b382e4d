package throttle

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testControllerConfig(rate float64) ControllerConfig {
	cfg := DefaultControllerConfig()
	cfg.InitialRate = rate
	return cfg
}

func newTestController(t *testing.T, cfg ControllerConfig) (*Controller, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClock()
	c, err := NewController(cfg, WithClock(clk))
	require.NoError(t, err)
	return c, clk
}

func TestControllerRejectionDebounce(t *testing.T) {
	c, clk := newTestController(t, testControllerConfig(100))

	assert.True(t, c.OnRejection())
	assert.Equal(t, 50.0, c.Rate())

	clk.Advance(time.Second)
	assert.False(t, c.OnRejection(), "second rejection falls inside the cooldown")
	assert.Equal(t, 50.0, c.Rate())

	clk.Advance(5 * time.Second)
	assert.True(t, c.OnRejection())
	assert.Equal(t, 25.0, c.Rate())
	assert.Equal(t, 2, c.Stats().Reductions)
}

func TestControllerNeverDropsBelowFloor(t *testing.T) {
	cfg := testControllerConfig(1)
	cfg.Cooldown = 0
	c, _ := newTestController(t, cfg)

	for i := 0; i < 20; i++ {
		c.OnRejection()
	}
	assert.InDelta(t, 1.0/60, c.Rate(), 1e-12)
	assert.InDelta(t, 1, c.Stats().Capacity, 1e-9)
}

func TestControllerGrowth(t *testing.T) {
	c, clk := newTestController(t, testControllerConfig(100))

	clk.Advance(10 * time.Second)
	c.Grow()
	assert.InDelta(t, 100*math.Exp(0.1), c.Rate(), 1e-9)

	clk.Advance(time.Hour)
	c.Grow()
	assert.Equal(t, 1000.0, c.Rate(), "growth is capped at MaxRate")
}

func TestControllerDetachedLeavesRateAlone(t *testing.T) {
	c, clk := newTestController(t, testControllerConfig(100))
	c.detach()

	clk.Advance(10 * time.Second)
	c.Grow()
	assert.False(t, c.OnRejection())
	c.restoreRate(10)
	assert.Equal(t, 100.0, c.Rate())
	assert.Zero(t, c.Stats().Reductions)
}

func TestControllerCapacityFollowsRate(t *testing.T) {
	c, clk := newTestController(t, testControllerConfig(2))

	clk.Advance(time.Minute)
	st := c.Stats()
	assert.Equal(t, 120.0, st.Capacity)
	assert.InDelta(t, 120, st.Tokens, 1e-9)

	c.Grow()
	st = c.Stats()
	assert.InDelta(t, 2*math.Exp(0.6), st.Rate, 1e-9)
	assert.InDelta(t, st.Rate*60, st.Capacity, 1e-9)

	c.OnRejection()
	st = c.Stats()
	assert.InDelta(t, st.Rate*60, st.Capacity, 1e-9)
	assert.LessOrEqual(t, st.Tokens, st.Capacity)
}

func TestControllerInitialRateClamped(t *testing.T) {
	cfg := testControllerConfig(5000)
	c, _ := newTestController(t, cfg)
	assert.Equal(t, 1000.0, c.Rate())

	cfg.InitialRate = 0.001
	c, _ = newTestController(t, cfg)
	assert.InDelta(t, 1.0/60, c.Rate(), 1e-12)
}

func TestControllerConfigValidate(t *testing.T) {
	require.NoError(t, DefaultControllerConfig().Validate())

	for name, mutate := range map[string]func(*ControllerConfig){
		"zero initial rate":     func(c *ControllerConfig) { c.InitialRate = 0 },
		"zero max rate":         func(c *ControllerConfig) { c.MaxRate = 0 },
		"reduction factor one":  func(c *ControllerConfig) { c.ReductionFactor = 1 },
		"reduction factor zero": func(c *ControllerConfig) { c.ReductionFactor = 0 },
		"zero increase factor":  func(c *ControllerConfig) { c.IncreaseFactor = 0 },
		"negative cooldown":     func(c *ControllerConfig) { c.Cooldown = -time.Second },
		"negative max wait":     func(c *ControllerConfig) { c.MaxWait = -time.Second },
		"max rate below floor":  func(c *ControllerConfig) { c.MaxRate = 0.001 },
		"nan initial rate":      func(c *ControllerConfig) { c.InitialRate = math.NaN() },
		"infinite max rate":     func(c *ControllerConfig) { c.MaxRate = math.Inf(1) },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultControllerConfig()
			mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidLimit)
		})
	}
}

func TestControllerTryAcquire(t *testing.T) {
	cfg := testControllerConfig(1000)
	c, err := NewController(cfg)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, c.TryAcquire(context.Background(), time.Second))
	}
}

func TestControllerTryAcquireTimesOut(t *testing.T) {
	cfg := testControllerConfig(1)
	cfg.MaxRate = 1
	c, err := NewController(cfg)
	require.NoError(t, err)

	err = c.TryAcquire(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrWaitTimedOut)

	var wt *WaitTimedOutError
	require.ErrorAs(t, err, &wt)
	assert.Equal(t, Requests, wt.Resource)
}

func TestControllerRestoreRate(t *testing.T) {
	c, clk := newTestController(t, testControllerConfig(100))
	clk.Advance(time.Second)

	c.restoreRate(12)
	st := c.Stats()
	assert.Equal(t, 12.0, st.Rate)
	assert.Zero(t, st.Tokens)

	c.restoreRate(1e9)
	assert.Equal(t, 1000.0, c.Rate())
}
