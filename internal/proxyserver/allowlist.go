package proxyserver

import "strings"

// AllowList is the configured set of hostnames to intercept, per spec.md
// §4.8 filtering.target_hosts: exact, case-insensitive match.
type AllowList struct {
	hosts map[string]bool
}

// NewAllowList builds an AllowList from a target_hosts slice.
func NewAllowList(hosts []string) *AllowList {
	m := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		m[strings.ToLower(h)] = true
	}
	return &AllowList{hosts: m}
}

// Allowed reports whether hostname (no port) should be intercepted.
func (a *AllowList) Allowed(hostname string) bool {
	return a.hosts[strings.ToLower(hostname)]
}

// hopByHopHeaders are stripped before forwarding, per spec.md §4.5.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

func stripHopByHop(h interface{ Del(string) }) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}
