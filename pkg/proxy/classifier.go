// Package proxy implements the gateway data plane: route classification,
// transparent upstream forwarding, and conditional HTML response rewriting.
package proxy

import "strings"

// Route is the destination class for an inbound request path.
type Route int

const (
	// RouteUpstream forwards the request to the imaging origin. It is the
	// fail-open default so the upstream application's own routing stays
	// authoritative for unknown paths.
	RouteUpstream Route = iota
	// RouteLocal terminates the request at the identity gateway.
	RouteLocal
)

func (r Route) String() string {
	if r == RouteLocal {
		return "local"
	}
	return "upstream"
}

// Classifier partitions request paths between the local identity surface and
// the proxied upstream. It is a pure function of the path prefix.
type Classifier struct {
	prefix string
}

// NewClassifier builds a classifier for the given local-surface prefix.
func NewClassifier(prefix string) Classifier {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" || !strings.HasPrefix(prefix, "/") {
		prefix = "/" + strings.TrimLeft(prefix, "/")
	}
	return Classifier{prefix: prefix}
}

// Classify reports whether the path belongs to the local surface. The match
// is segment-aware: "/auth" and "/auth/login" are local, "/authx" is not.
func (c Classifier) Classify(path string) Route {
	if path == c.prefix || strings.HasPrefix(path, c.prefix+"/") {
		return RouteLocal
	}
	return RouteUpstream
}

// Prefix returns the local-surface prefix.
func (c Classifier) Prefix() string {
	return c.prefix
}
