package frontier

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/purell"
	"golang.org/x/net/publicsuffix"
)

// URL embeds *url.URL and carries the frontier's parsing and queue-key
// capabilities. All URLs entering the engine should come through ParseURL so
// that we get consistency.
type URL struct {
	*url.URL
}

// ParseURL is the frontier equivalent of url.Parse. It rejects URLs without a
// scheme and host, which is the validation gate in front of key derivation.
func ParseURL(ref string) (*URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("URL %v has no scheme (http:// or https://)", ref)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("URL %v has no host", ref)
	}
	return &URL{URL: u}, nil
}

// ParseAndNormalizeURL parses ref and applies the standard normalization
// rules (lowercased scheme and host, fragment removed, default port
// stripped).
func ParseAndNormalizeURL(ref string) (*URL, error) {
	u, err := ParseURL(ref)
	if err != nil {
		return u, err
	}
	u.Normalize()
	return u, nil
}

// Normalize applies the current normalization rules to this URL in place.
func (u *URL) Normalize() {
	purell.NormalizeURL(u.URL, purell.FlagsSafe|purell.FlagRemoveFragment)
}

// ToplevelDomainPlusOne returns the Effective Toplevel Domain of this host as
// defined by https://publicsuffix.org/, plus one extra domain component.
//
// For example the TLD of http://www.bbc.co.uk/ is 'co.uk', plus one is
// 'bbc.co.uk'. The frontier uses these TLD+1 domains as the default unit of
// queueing.
func (u *URL) ToplevelDomainPlusOne() (string, error) {
	return publicsuffix.EffectiveTLDPlusOne(strings.ToLower(u.Hostname()))
}

// QueueKey derives the queue key for this URL: the registered domain under
// the public-suffix list when available, otherwise the lowercased host,
// otherwise the raw authority. An IP-address host has no registered domain
// and keys by the address. The function is pure; the engine memoizes it.
func (u *URL) QueueKey() string {
	dom, err := u.ToplevelDomainPlusOne()
	if err == nil && dom != "" && net.ParseIP(u.Hostname()) == nil {
		return dom
	}
	if host := strings.ToLower(u.Hostname()); host != "" {
		return host
	}
	return u.Host
}
