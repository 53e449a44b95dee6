package replay

import (
	"context"
	"net/http"
	"strings"
)

// DefaultPathPrefix is the food-log submission route.
const DefaultPathPrefix = "/api/log-food"

type matchPathKey struct{}

// WithMatchPath records the path the client originally requested. A proxy
// that rewrites the outbound path (for example onto an upstream base path)
// sets it so watched routes are matched as the client addressed them.
func WithMatchPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, matchPathKey{}, path)
}

// Matcher selects the requests the transport intercepts.
type Matcher struct {
	Method     string
	PathPrefix string
}

// DefaultMatcher watches POST requests to DefaultPathPrefix.
func DefaultMatcher() Matcher {
	return Matcher{Method: http.MethodPost, PathPrefix: DefaultPathPrefix}
}

// Match reports whether req is a watched write request. The path recorded
// with WithMatchPath takes precedence over req.URL.Path.
func (m Matcher) Match(req *http.Request) bool {
	method := m.Method
	if method == "" {
		method = http.MethodPost
	}
	if req.Method != method || req.URL == nil {
		return false
	}
	path, ok := req.Context().Value(matchPathKey{}).(string)
	if !ok {
		path = req.URL.Path
	}
	return strings.HasPrefix(path, m.PathPrefix)
}
