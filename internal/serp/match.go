package serp

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// DomainMatcher reports whether a result URL belongs to a target domain.
type DomainMatcher struct {
	domain string
}

// NewDomainMatcher normalises target (scheme, path and a leading "www." are
// dropped) and checks that it is a registrable domain or a subdomain of one.
func NewDomainMatcher(target string) (DomainMatcher, error) {
	host := hostOf(target)
	if host == "" {
		return DomainMatcher{}, fmt.Errorf("empty target domain")
	}
	if _, err := publicsuffix.EffectiveTLDPlusOne(host); err != nil {
		return DomainMatcher{}, fmt.Errorf("target domain %q: %w", target, err)
	}
	return DomainMatcher{domain: host}, nil
}

// Domain returns the normalised target.
func (m DomainMatcher) Domain() string { return m.domain }

// Match reports whether rawURL's host is the target domain or a subdomain of it.
func (m DomainMatcher) Match(rawURL string) bool {
	if m.domain == "" {
		return false
	}
	host := hostOf(rawURL)
	return host == m.domain || strings.HasSuffix(host, "."+m.domain)
}

func hostOf(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.TrimSuffix(u.Hostname(), "."), "www.")
}
