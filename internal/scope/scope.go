// Package scope decides which URLs belong to a crawl.
package scope

import (
	"net/url"
	"strings"
)

// Normalize standardizes a URL so the visited set never admits the same page
// twice. It lowercases the scheme and host, removes default ports, strips the
// fragment, and trims a trailing slash from non-root paths. Malformed or
// non-absolute input yields ok == false.
func Normalize(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	if u.Path == "" {
		u.Path = "/"
	}
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), true
}

// SameOrigin reports whether two URLs share a scheme and host. Either input
// failing to parse counts as a mismatch.
func SameOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) && strings.EqualFold(ua.Hostname(), ub.Hostname())
}

// Allowed applies include/exclude substring filters to the URL's path.
// Exclude patterns take precedence; an empty include list admits everything.
func Allowed(rawURL string, include, exclude []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	for _, pat := range exclude {
		if pat != "" && strings.Contains(path, pat) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pat := range include {
		if pat != "" && strings.Contains(path, pat) {
			return true
		}
	}
	return false
}

// Resolve turns a possibly relative href into an absolute URL against base.
// Empty results mean the href cannot be followed (javascript:, mailto:, etc).
func Resolve(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return ""
		}
	}
	bu, err := url.Parse(base)
	if err != nil {
		return ""
	}
	hu, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return bu.ResolveReference(hu).String()
}
