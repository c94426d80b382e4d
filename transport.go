package throttle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// StatusError is the rejection a Transport produces for an HTTP 429.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.URL, e.Status)
}

// transport implements http.RoundTripper. Requests matching a route are
// paced through the route's registry scope and retried on HTTP 429.
// Everything else goes straight to base.
type transport struct {
	base   http.RoundTripper
	routes []Route
	guards map[string]*Guard
}

// Transport wraps base so that requests matching routes are paced by the
// registry. Each request costs one Requests unit of its route's scope. A 429
// response is reported as a rejection and retried according to opts; when
// the request body cannot be replayed the rejection is still recorded and the
// 429 response is returned as is.
func (r *Registry) Transport(base http.RoundTripper, routes []Route, opts ...GuardOption) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &transport{
		base:   base,
		routes: routes,
		guards: make(map[string]*Guard, len(routes)),
	}
	for _, rt := range routes {
		if _, ok := t.guards[rt.Scope]; !ok {
			t.guards[rt.Scope] = NewGuard(r.Scope(rt.Scope), opts...)
		}
	}
	return t
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	scope, ok := matchRoute(t.routes, req.URL)
	if !ok {
		return t.base.RoundTrip(req)
	}

	g := t.guards[scope]
	attempt := 0
	return Do(req.Context(), g, Call[*http.Response]{
		Fn: func(ctx context.Context) (*http.Response, error) {
			attempt++
			out, err := rewind(req, attempt)
			if err != nil {
				return nil, err
			}
			resp, err := t.base.RoundTrip(out)
			if err != nil || resp.StatusCode != http.StatusTooManyRequests {
				return resp, err
			}
			if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
				g.gate.OnRejection()
				return resp, nil
			}
			wait := parseRetryAfter(resp.Header.Get("Retry-After"), g.clock.Now())
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			return nil, Reject(&StatusError{
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				URL:        req.URL.Redacted(),
			}, wait)
		},
	})
}

// rewind returns the request to send on the given attempt. Later attempts
// get a clone with a fresh body.
func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	out := req.Clone(req.Context())
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("throttle: rewind request body: %w", err)
	}
	out.Body = body
	return out, nil
}

// parseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
