package browser

import "strings"

// restrictedPrefixes are URL schemes the browser refuses to let automation
// touch. Interacting with them fails at the CDP layer with opaque errors, so
// they are detected up front and reported as a permission failure.
var restrictedPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"chrome-untrusted://",
	"devtools://",
	"edge://",
	"view-source:",
	"chrome-error://",
}

// IsRestrictedURL reports whether the given URL belongs to a page that
// refuses automated interaction. about:blank is the designated escape page
// and is never restricted; other about: pages are.
func IsRestrictedURL(url string) bool {
	url = strings.TrimSpace(strings.ToLower(url))
	if url == "" || url == "about:blank" {
		return false
	}
	if strings.HasPrefix(url, "about:") {
		return true
	}
	for _, prefix := range restrictedPrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}
