// Package throttle paces calls to rate-limited remote services from the
// client side. It keeps outgoing traffic under quotas that are either known
// up front or learned from the service's rejections.
//
// # Key Concepts
//
//   - [Bucket] is a continuously refilling token bucket. It refills lazily
//     on every observation and never holds more than its capacity.
//   - [Controller] wraps a bucket and tunes its rate from feedback: it halves
//     the rate (by default) on a rejection and grows it back exponentially
//     while calls go through.
//   - [Registry] holds named buckets per scope, for example one Requests and
//     one Tokens bucket per provider, credential and model. Calls wait until
//     every resource they consume has capacity.
//   - [Guard] runs an operation through a [Gate], feeds rate-limit
//     rejections back to it and retries a bounded number of times.
//
// # Quick Start
//
//	reg := throttle.NewRegistry()
//	reg.SetLimit("openai:gpt-4o", throttle.Requests, 500, throttle.PerMinute)
//	reg.SetLimit("openai:gpt-4o", throttle.Tokens, 30000, throttle.PerMinute)
//
//	g := throttle.NewGuard(reg.Scope("openai:gpt-4o"))
//	out, err := throttle.Do(ctx, g, throttle.Call[string]{
//		Fn:    complete,
//		Costs: throttle.Costs{throttle.Requests: 1, throttle.Tokens: 850},
//	})
//
// Rejections are recognized by wrapping the service's error with [Reject].
// For plain HTTP clients, [Registry.Transport] does the pacing and the 429
// handling inside an http.RoundTripper.
package throttle
