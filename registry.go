package throttle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryhazerus/throttle/store"
)

// limit is one registry entry. ctrl is nil for fixed limits.
type limit struct {
	bucket *Bucket
	ctrl   *Controller
}

// Registry maps scope keys to named token buckets. A scope key identifies a
// credential/service/target combination and is opaque to the registry; the
// resource name identifies a quota dimension such as Requests or Tokens.
//
// Entries are created on first configuration and updated in place after
// that. They are never removed. A Registry is safe for concurrent use and
// is meant to be shared by every call site that draws from the same quotas.
type Registry struct {
	mu     sync.RWMutex
	scopes map[string]map[string]*limit

	settings
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		scopes:   make(map[string]map[string]*limit),
		settings: newSettings(opts),
	}
}

// SetLimit configures resource within scope to allow perMinute units per
// minute, enforced over window: the bucket holds perMinute × window minutes
// tokens. A new bucket starts empty. An existing one is reconfigured, which
// empties it if the rate changed and keeps its tokens otherwise. Setting a
// fixed limit on an adaptive entry turns adaptation off.
func (r *Registry) SetLimit(scope, resource string, perMinute float64, window Window) error {
	rate := perMinute / 60
	capacity := perMinute * window.Minutes()
	if err := checkLimit(rate, capacity); err != nil {
		return fmt.Errorf("throttle: set limit %s/%s: %w", scope, resource, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.scopes[scope][resource]; ok {
		if l.ctrl != nil {
			l.ctrl.detach()
			r.insert(scope, resource, &limit{bucket: l.bucket})
		}
		return l.bucket.Reconfigure(rate, capacity)
	}

	b, err := NewBucket(rate, capacity, WithClock(r.clock))
	if err != nil {
		return err
	}
	r.insert(scope, resource, &limit{bucket: b})
	r.logger.Debug("limit created",
		zap.String("scope", scope),
		zap.String("resource", resource),
		zap.Float64("per_minute", perMinute),
		zap.Stringer("window", window))
	return nil
}

// SetAdaptive configures resource within scope as an adaptive entry tuned
// by rejection feedback. An existing adaptive entry keeps its learned rate,
// clamped to the new bounds.
func (r *Registry) SetAdaptive(scope, resource string, cfg ControllerConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("throttle: set adaptive %s/%s: %w", scope, resource, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.scopes[scope][resource]; ok && l.ctrl != nil {
		l.ctrl.reconfigure(cfg)
		return nil
	}

	ctrl, err := NewController(cfg, WithClock(r.clock), WithLogger(r.logger.With(
		zap.String("scope", scope),
		zap.String("resource", resource))))
	if err != nil {
		return err
	}
	r.insert(scope, resource, &limit{bucket: ctrl.bucket, ctrl: ctrl})
	return nil
}

// insert stores l, replacing any existing entry. Callers hold r.mu.
func (r *Registry) insert(scope, resource string, l *limit) {
	limits, ok := r.scopes[scope]
	if !ok {
		limits = make(map[string]*limit)
		r.scopes[scope] = limits
	}
	limits[resource] = l
}

// lookup returns the entries of scope for the non-zero costs, in resource
// name order. Unknown resources are left out.
func (r *Registry) lookup(scope string, costs Costs) ([]string, []*limit) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limits := r.scopes[scope]
	var (
		names   []string
		entries []*limit
	)
	for _, name := range costs.names() {
		if l, ok := limits[name]; ok {
			names = append(names, name)
			entries = append(entries, l)
		}
	}
	return names, entries
}

// Bucket returns the bucket behind scope and resource.
func (r *Registry) Bucket(scope, resource string) (*Bucket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.scopes[scope][resource]
	if !ok {
		return nil, false
	}
	return l.bucket, true
}

// WaitForAll waits until each resource in costs can cover its cost and
// spends it. Resources are handled one after another, in name order, and
// the whole call shares one soft timeout (see WithMaxWait).
//
// Acquisition is not atomic across resources. A caller may spend its
// Requests cost and then wait on Tokens while holding that spend; under
// contention this can leave capacity reserved by callers that are still
// waiting elsewhere.
func (r *Registry) WaitForAll(ctx context.Context, scope string, costs Costs) error {
	names, entries := r.lookup(scope, costs)
	start := r.clock.Now()
	for i, l := range entries {
		cost := costs[names[i]]
		remaining := r.maxWait - r.clock.Since(start)
		if remaining < 0 {
			remaining = 0
		}

		var err error
		if l.ctrl != nil {
			_, err = l.ctrl.wait(ctx, cost, remaining)
		} else {
			_, err = l.bucket.wait(ctx, cost, remaining)
		}
		if errors.Is(err, ErrWaitTimedOut) {
			return &WaitTimedOutError{
				Scope:    scope,
				Resource: names[i],
				Cost:     cost,
				Waited:   r.clock.Since(start),
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Spend deducts costs from scope unconditionally. It is meant for
// reconciling after a call whose true cost is only known afterwards.
func (r *Registry) Spend(scope string, costs Costs) {
	names, entries := r.lookup(scope, costs)
	for i, l := range entries {
		l.bucket.Spend(costs[names[i]])
	}
}

// OnRejection feeds a remote rejection to every adaptive entry of scope and
// reports whether any of them lowered its rate. Fixed entries ignore it.
func (r *Registry) OnRejection(scope string) bool {
	r.mu.RLock()
	var ctrls []*Controller
	for _, l := range r.scopes[scope] {
		if l.ctrl != nil {
			ctrls = append(ctrls, l.ctrl)
		}
	}
	r.mu.RUnlock()

	reduced := false
	for _, c := range ctrls {
		if c.OnRejection() {
			reduced = true
		}
	}
	return reduced
}

// Scope binds scope to the Gate interface so a Guard can pace calls
// against it.
func (r *Registry) Scope(key string) Gate {
	return scope{registry: r, key: key}
}

type scope struct {
	registry *Registry
	key      string
}

func (s scope) Acquire(ctx context.Context, costs Costs) error {
	return s.registry.WaitForAll(ctx, s.key, costs)
}

func (s scope) OnRejection() bool {
	return s.registry.OnRejection(s.key)
}

func (s scope) Settle(costs Costs) {
	s.registry.Spend(s.key, costs)
}

// Snapshot returns the refilled state of every entry, ordered by scope and
// resource.
func (r *Registry) Snapshot() []store.State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []store.State
	for scope, limits := range r.scopes {
		for resource, l := range limits {
			st := l.bucket.state(scope, resource)
			st.Adaptive = l.ctrl != nil
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].Resource < out[j].Resource
	})
	return out
}

// Flush writes the state of every entry to the store configured with
// WithStore. It is a no-op without a store.
func (r *Registry) Flush(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	for _, st := range r.Snapshot() {
		if err := r.store.Save(ctx, st); err != nil {
			return fmt.Errorf("throttle: flush %s/%s: %w", st.Scope, st.Resource, err)
		}
	}
	return nil
}

// Restore loads saved state for every configured entry. Fixed entries take
// the saved token count if the saved rate matches their configuration.
// Adaptive entries take the saved rate, clamped to their bounds, and start
// empty. Time that passed while the state was stored is never credited.
// It returns how many entries were restored.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}

	r.mu.RLock()
	type entry struct {
		scope, resource string
		l               *limit
	}
	var entries []entry
	for scope, limits := range r.scopes {
		for resource, l := range limits {
			entries = append(entries, entry{scope, resource, l})
		}
	}
	r.mu.RUnlock()

	restored := 0
	for _, e := range entries {
		st, ok, err := r.store.Load(ctx, e.scope, e.resource)
		if err != nil {
			return restored, fmt.Errorf("throttle: restore %s/%s: %w", e.scope, e.resource, err)
		}
		if !ok {
			continue
		}
		switch {
		case e.l.ctrl != nil && st.Rate > 0:
			e.l.ctrl.restoreRate(st.Rate)
			restored++
		case e.l.ctrl == nil && e.l.bucket.restore(st):
			restored++
		}
	}
	r.logger.Debug("registry restored", zap.Int("entries", restored))
	return restored, nil
}

// MaxWait returns the soft timeout of WaitForAll.
func (r *Registry) MaxWait() time.Duration {
	return r.maxWait
}
