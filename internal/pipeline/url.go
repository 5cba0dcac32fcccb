package pipeline

import (
	"net/url"
	"strings"
)

// NormalizeURL reduces a URL to the canonical form used as the extraction
// cache key: scheme and leading "www." stripped, host lowercased, trailing
// slash and fragment dropped. The function is idempotent so already
// normalized values pass through unchanged.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	candidate := s
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" {
		return strings.ToLower(s)
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")

	var b strings.Builder
	b.WriteString(host)
	b.WriteString(strings.TrimSuffix(u.EscapedPath(), "/"))
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	return b.String()
}
