package throttle

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ryhazerus/throttle/store"
)

// settings carries the dependencies shared by buckets, controllers and
// registries. Not every field applies to every type.
type settings struct {
	clock   clockwork.Clock
	logger  *zap.Logger
	store   store.Store
	maxWait time.Duration
	tokens  float64
}

func newSettings(opts []Option) settings {
	s := settings{maxWait: DefaultMaxWait}
	for _, o := range opts {
		o(&s)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Option configures a Bucket, Controller or Registry.
type Option func(*settings)

// WithClock sets the time source. Tests use clockwork.NewFakeClock.
func WithClock(c clockwork.Clock) Option {
	return func(s *settings) {
		s.clock = c
	}
}

// WithLogger sets the logger. A no-op logger is used by default.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithStore gives a Registry somewhere to persist bucket state.
// See Registry.Flush and Registry.Restore.
func WithStore(st store.Store) Option {
	return func(s *settings) {
		s.store = st
	}
}

// WithMaxWait bounds how long Registry.WaitForAll waits in total before
// giving up with a *WaitTimedOutError.
func WithMaxWait(d time.Duration) Option {
	return func(s *settings) {
		s.maxWait = d
	}
}

// WithTokens sets the starting token count of a standalone Bucket.
// Registries and controllers always start empty.
func WithTokens(n float64) Option {
	return func(s *settings) {
		s.tokens = n
	}
}
