package auth

import (
	"net/url"
	"strings"
)

// DefaultRedirect is where users land when no safe target was supplied.
const DefaultRedirect = "/dashboard"

// SafeRedirect returns candidate when it is a same-origin relative path and
// DefaultRedirect otherwise. The decoded form is only used for checking; the
// original string is what gets returned.
func SafeRedirect(candidate string) string {
	if candidate == "" {
		return DefaultRedirect
	}

	decoded, err := url.PathUnescape(candidate)
	if err != nil {
		return DefaultRedirect
	}

	for _, s := range []string{candidate, decoded} {
		if !isRelativePath(s) || hasControlChar(s) || hasScriptScheme(s) {
			return DefaultRedirect
		}
	}

	return candidate
}

func isRelativePath(s string) bool {
	if !strings.HasPrefix(s, "/") {
		return false
	}
	// "//host" and "/\host" are both read as protocol-relative by browsers.
	if len(s) > 1 && (s[1] == '/' || s[1] == '\\') {
		return false
	}
	return true
}

// hasControlChar reports ASCII control bytes. Browsers drop tab and newlines
// while parsing, so "/\t/evil.com" would become "//evil.com".
func hasControlChar(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == 0x7f {
			return true
		}
	}
	return false
}

func hasScriptScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "javascript:") || strings.Contains(lower, "data:")
}
