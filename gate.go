package throttle

import (
	"context"
	"sort"
)

// Well-known resource names.
const (
	Requests = "requests"
	Tokens   = "tokens"
)

// Costs maps resource names to what one call consumes, for example
// Costs{Requests: 1, Tokens: 850}.
type Costs map[string]float64

// names returns the resources with a non-zero, finite cost in sorted order.
func (c Costs) names() []string {
	out := make([]string, 0, len(c))
	for name, cost := range c {
		if cost != 0 && checkCost(cost) == nil {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Gate is the capacity source a Guard paces its calls through. Controller
// and the scopes returned by Registry.Scope implement it.
type Gate interface {
	// Acquire blocks until costs can be spent, or returns a
	// *WaitTimedOutError once the gate's soft timeout passes.
	Acquire(ctx context.Context, costs Costs) error
	// OnRejection records a remote rate-limit rejection and reports
	// whether it lowered any rate.
	OnRejection() bool
	// Settle spends costs unconditionally, for reconciling against the
	// cost measured after a call.
	Settle(costs Costs)
}

var (
	_ Gate = (*Controller)(nil)
	_ Gate = scope{}
)
