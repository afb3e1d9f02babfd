package auth

import (
	"path"
	"strings"
)

// RouteClass is the access posture of a request path.
type RouteClass int

const (
	RouteUnclassified RouteClass = iota
	RoutePublic
	RouteProtected
)

func (c RouteClass) String() string {
	switch c {
	case RoutePublic:
		return "public"
	case RouteProtected:
		return "protected"
	default:
		return "unclassified"
	}
}

// RouteConfig holds the prefix lists the gatekeeper classifies requests
// with. It is built once at startup and never mutated.
type RouteConfig struct {
	Protected []string
	Public    []string
	// Excluded paths never reach the gatekeeper logic (assets, probes, and
	// the auth endpoints that manage their own session semantics, such as
	// logout).
	Excluded []string
}

// DefaultRoutes returns the application's route lists.
func DefaultRoutes() RouteConfig {
	return RouteConfig{
		Protected: []string{"/dashboard", "/settings"},
		Public: []string{
			"/",
			"/login",
			"/signup",
			"/verify-email",
			"/forgot-password",
			"/reset-password",
			"/auth",
		},
		Excluded: []string{"/api/auth", "/logout", "/static", "/healthz", "/readyz", "/metrics"},
	}
}

var staticExtensions = map[string]bool{
	".css": true, ".js": true, ".map": true, ".ico": true, ".png": true,
	".jpg": true, ".jpeg": true, ".gif": true, ".svg": true, ".webp": true,
	".txt": true, ".woff": true, ".woff2": true,
}

// IsProtected reports whether p matches an entry of the protected list.
func (c RouteConfig) IsProtected(p string) bool {
	return longestMatch(c.Protected, p) >= 0
}

// IsPublic reports whether p matches an entry of the public list.
func (c RouteConfig) IsPublic(p string) bool {
	return longestMatch(c.Public, p) >= 0
}

// Classify puts p into exactly one class. When both lists match, the longer
// entry wins; on a tie the path is protected.
func (c RouteConfig) Classify(p string) RouteClass {
	prot := longestMatch(c.Protected, p)
	pub := longestMatch(c.Public, p)
	switch {
	case prot < 0 && pub < 0:
		return RouteUnclassified
	case prot >= pub:
		return RouteProtected
	default:
		return RoutePublic
	}
}

// IsExcluded reports whether p bypasses the gatekeeper entirely.
func (c RouteConfig) IsExcluded(p string) bool {
	if longestMatch(c.Excluded, p) >= 0 {
		return true
	}
	return staticExtensions[strings.ToLower(path.Ext(p))]
}

// longestMatch returns the length of the longest entry matching p, or -1.
// An entry E matches when p == E or p starts with E + "/".
func longestMatch(entries []string, p string) int {
	best := -1
	for _, e := range entries {
		if p == e || strings.HasPrefix(p, e+"/") {
			if len(e) > best {
				best = len(e)
			}
		}
	}
	return best
}
