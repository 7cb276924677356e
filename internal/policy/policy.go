// Package policy classifies intercepted requests into caching policy
// classes based on URL shape. Classification is pure and total: no I/O,
// every request maps to exactly one policy.
package policy

import (
	"net/url"
	"strings"

	engine "github.com/eugener/warden/internal"
)

// Rules holds the configured URL patterns, matched against the request path.
type Rules struct {
	// NetworkOnly lists path prefixes that must always hit the network
	// (mutating job endpoints, auth, realtime transport handshakes).
	NetworkOnly []string
	// StaticRoots lists path prefixes under which every request is a
	// static asset regardless of extension.
	StaticRoots []string
	// StaticExts lists path suffixes recognized as static assets.
	StaticExts []string
	// CacheableAPI lists path prefixes of read APIs worth caching.
	CacheableAPI []string
}

// DefaultRules returns the rule set used when the config file does not
// override patterns.
func DefaultRules() Rules {
	return Rules{
		NetworkOnly:  []string{"/api/jobs", "/api/auth", "/socket.io"},
		StaticRoots:  []string{"/static", "/assets"},
		StaticExts:   []string{".js", ".css", ".html", ".png", ".jpg", ".svg", ".ico", ".woff", ".woff2", ".map"},
		CacheableAPI: []string{"/api"},
	}
}

// Classifier maps a request descriptor to a policy class.
type Classifier struct {
	rules Rules
}

// New creates a Classifier with the given rules. Empty rule slices simply
// never match.
func New(rules Rules) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the policy for a descriptor. Precedence, first match
// wins: network-only prefix, static asset (suffix or root), cacheable API
// prefix, default. Only read methods reach the classifier; mutating
// requests are filtered out upstream.
func (c *Classifier) Classify(d engine.Descriptor) engine.Policy {
	path := requestPath(d.URL)

	for _, p := range c.rules.NetworkOnly {
		if strings.HasPrefix(path, p) {
			return engine.PolicyNetworkOnly
		}
	}
	for _, ext := range c.rules.StaticExts {
		if strings.HasSuffix(path, ext) {
			return engine.PolicyStaticAsset
		}
	}
	for _, root := range c.rules.StaticRoots {
		if strings.HasPrefix(path, root) {
			return engine.PolicyStaticAsset
		}
	}
	for _, p := range c.rules.CacheableAPI {
		if strings.HasPrefix(path, p) {
			return engine.PolicyCacheableAPI
		}
	}
	return engine.PolicyDefault
}

// requestPath extracts the URL path, tolerating bare paths and unparsable
// input. An unparsable URL classifies as default.
func requestPath(raw string) string {
	if strings.HasPrefix(raw, "/") {
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Path
}
