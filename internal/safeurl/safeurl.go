// Package safeurl enforces the host admission policy applied to every
// externally supplied URL before any network access.
package safeurl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
)

// ErrBlockedHost marks URLs rejected by the admission policy.
var ErrBlockedHost = errors.New("blocked host")

// Resolver looks up IP addresses for a hostname.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Checker validates URLs against the scheme and private-address policy. The
// zero value is not usable; construct with New.
type Checker struct {
	resolver Resolver

	mu   sync.RWMutex
	memo map[string]bool // host -> all resolved addresses public
}

// New builds a Checker. A nil resolver uses net.DefaultResolver.
func New(resolver Resolver) *Checker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Checker{
		resolver: resolver,
		memo:     make(map[string]bool),
	}
}

// Check admits http/https URLs whose host is neither a literal IPv6 address,
// a private/loopback/link-local literal, nor a name resolving to any such
// address. The error always wraps ErrBlockedHost so callers can surface a
// uniform blocked-host message.
func (c *Checker) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("%w: unparsable url", ErrBlockedHost)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", ErrBlockedHost, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrBlockedHost)
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() == nil {
			return fmt.Errorf("%w: literal IPv6 host", ErrBlockedHost)
		}
		if isPrivate(ip) {
			return fmt.Errorf("%w: private address %s", ErrBlockedHost, ip)
		}
		return nil
	}

	public, cached := c.lookupMemo(host)
	if !cached {
		public, err = c.resolveAndClassify(ctx, host)
		if err != nil {
			return err
		}
		c.storeMemo(host, public)
	}
	if !public {
		return fmt.Errorf("%w: %s resolves to a private address", ErrBlockedHost, host)
	}
	return nil
}

func (c *Checker) resolveAndClassify(ctx context.Context, host string) (bool, error) {
	addrs, err := c.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return false, fmt.Errorf("%w: cannot resolve %s: %v", ErrBlockedHost, host, err)
	}
	if len(addrs) == 0 {
		return false, fmt.Errorf("%w: %s resolves to nothing", ErrBlockedHost, host)
	}
	for _, addr := range addrs {
		if isPrivate(addr.IP) {
			return false, nil
		}
	}
	return true, nil
}

func (c *Checker) lookupMemo(host string) (public, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	public, ok = c.memo[host]
	return public, ok
}

func (c *Checker) storeMemo(host string, public bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memo[host] = public
}

// isPrivate classifies loopback, link-local, and RFC1918 addresses. IPv6 uses
// a deliberately coarse prefix heuristic (fe80*, fc*, fd*) so ambiguous
// addresses err toward rejection.
func isPrivate(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		switch {
		case v4[0] == 10:
			return true
		case v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31:
			return true
		case v4[0] == 192 && v4[1] == 168:
			return true
		case v4[0] == 169 && v4[1] == 254:
			return true
		}
		return false
	}
	s := strings.ToLower(ip.String())
	return strings.HasPrefix(s, "fe80") || strings.HasPrefix(s, "fc") || strings.HasPrefix(s, "fd")
}
