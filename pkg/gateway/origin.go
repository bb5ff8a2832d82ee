package gateway

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
)

// OriginPolicy is the allow-list of origins that may open a frame connection.
// Matching is exact on scheme, host and port, where an omitted port is the scheme's default.
// There is no wildcard.
type OriginPolicy struct {
	allowed map[string]struct{}
}

// NewOriginPolicy normalizes origins into an allow-list. "*" and values that are not
// scheme://host[:port] are rejected.
func NewOriginPolicy(origins []string) (*OriginPolicy, error) {
	p := &OriginPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, origin := range origins {
		normalized, err := normalizeOrigin(origin)
		if err != nil {
			return nil, err
		}
		p.allowed[normalized] = struct{}{}
	}
	return p, nil
}

var defaultPorts = map[string]string{
	"http":  "80",
	"ws":    "80",
	"https": "443",
	"wss":   "443",
}

// normalizeOrigin lowercases an origin and drops the default port of its scheme.
func normalizeOrigin(origin string) (string, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" || origin == "*" {
		return "", fmt.Errorf("invalid origin %q", origin)
	}
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("invalid origin %q: %v", origin, err)
	}
	if u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") || u.RawQuery != "" {
		return "", fmt.Errorf("invalid origin %q", origin)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == defaultPorts[scheme] {
		port = ""
	}
	if port != "" {
		return scheme + "://" + net.JoinHostPort(host, port), nil
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host, nil
}

// Allowed reports whether origin is in the allow-list. A missing origin is never allowed.
func (p *OriginPolicy) Allowed(origin string) bool {
	normalized, err := normalizeOrigin(origin)
	if err != nil {
		return false
	}
	_, ok := p.allowed[normalized]
	return ok
}

// Origins returns the allow-list in lexical order.
func (p *OriginPolicy) Origins() []string {
	origins := make([]string, 0, len(p.allowed))
	for origin := range p.allowed {
		origins = append(origins, origin)
	}
	sort.Strings(origins)
	return origins
}
