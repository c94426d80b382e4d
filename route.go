package throttle

import (
	"net/url"
	"path"
	"strings"
)

// Route sends requests whose host and path match Pattern to the registry
// scope Scope.
//
// Patterns are matched segment by segment against host + path, with
// path.Match syntax inside each segment:
//   - "api.stripe.com/*" matches the host and everything below it
//   - "api.openai.com/v1/chat/**" matches only chat endpoints
//   - "*.example.com/v1/items/*/price" matches one item segment
//   - "*" matches every request
type Route struct {
	Pattern string
	Scope   string
}

func (r Route) matches(u *url.URL) bool {
	target := strings.Split(strings.TrimRight(u.Host+u.Path, "/"), "/")
	pattern := strings.Split(strings.TrimRight(r.Pattern, "/"), "/")
	return matchSegments(pattern, target)
}

// matchSegments reports whether target matches pattern. A trailing "*" or
// a "**" segment matches whatever remains, including nothing.
func matchSegments(pattern, target []string) bool {
	for i, p := range pattern {
		if p == "**" || (p == "*" && i == len(pattern)-1) {
			return true
		}
		if i >= len(target) {
			return false
		}
		if ok, err := path.Match(p, target[i]); err != nil || !ok {
			return false
		}
	}
	return len(pattern) == len(target)
}

// matchRoute returns the scope of the first route matching u.
func matchRoute(routes []Route, u *url.URL) (string, bool) {
	for _, r := range routes {
		if r.matches(u) {
			return r.Scope, true
		}
	}
	return "", false
}
