// Package identity resolves a stable client identity for throttling and
// tests it against the bypass allowlist.
package identity

import (
	"net"
	"net/http"
	"strings"
	"sync"
)

// Unknown is returned when no address can be derived from the request.
const Unknown = "unknown"

// Default precedence when no trusted proxy header is configured. The
// forwarding-chain header is attacker-controllable, which is why production
// deployments behind a proxy configure the one header their edge actually
// sets instead of trusting this permissive chain.
var defaultHeaderChain = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"CF-Connecting-IP",
}

type Options struct {
	// TrustedProxyHeader, when set, is the only header consulted before
	// the socket address.
	TrustedProxyHeader string

	// Production disables the automatic loopback bypass.
	Production bool

	// Allowlist holds identities (exact strings) that skip throttling.
	Allowlist []string
}

type Resolver struct {
	trustedHeader string
	production    bool

	mu        sync.RWMutex
	allowlist map[string]struct{}
}

func NewResolver(opts Options) *Resolver {
	r := &Resolver{
		trustedHeader: opts.TrustedProxyHeader,
		production:    opts.Production,
	}
	r.SetAllowlist(opts.Allowlist)
	return r
}

// ClientIP extracts the client address. First non-empty wins: the trusted
// proxy header when configured (otherwise the permissive default chain),
// then the socket address, then Unknown.
func (r *Resolver) ClientIP(req *http.Request) string {
	if r.trustedHeader != "" {
		if ip := headerAddr(req, r.trustedHeader); ip != "" {
			return ip
		}
		return remoteAddr(req)
	}

	for _, h := range defaultHeaderChain {
		if ip := headerAddr(req, h); ip != "" {
			return ip
		}
	}
	return remoteAddr(req)
}

// Bypass reports whether the identity skips throttling entirely: an exact
// allowlist match, or a loopback address outside production.
func (r *Resolver) Bypass(ip string) bool {
	r.mu.RLock()
	_, listed := r.allowlist[ip]
	r.mu.RUnlock()
	if listed {
		return true
	}

	if r.production {
		return false
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}

// SetAllowlist atomically replaces the allowlist. Called from the config
// reload path; safe against concurrent Bypass checks.
func (r *Resolver) SetAllowlist(ips []string) {
	next := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			next[ip] = struct{}{}
		}
	}

	r.mu.Lock()
	r.allowlist = next
	r.mu.Unlock()
}

// headerAddr returns the first address of a possibly comma-separated
// forwarding chain, trimmed, or "".
func headerAddr(req *http.Request, header string) string {
	v := req.Header.Get(header)
	if v == "" {
		return ""
	}
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}

func remoteAddr(req *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if req.RemoteAddr != "" {
		return req.RemoteAddr
	}
	return Unknown
}
