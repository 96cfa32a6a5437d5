// Package clientip resolves the network identity of an inbound request.
//
// Precedence is fixed: the direct peer address wins unless the peer is a
// trusted proxy (or is not a usable address), in which case X-Real-IP and
// then the first hop of X-Forwarded-For are consulted.
package clientip

import (
	"net"
	"net/http"
	"strings"
)

// Unknown is returned when no address can be resolved.
const Unknown = "unknown"

// Resolver resolves client identities against a set of trusted proxy networks.
type Resolver struct {
	trusted []*net.IPNet
}

// NewResolver parses trusted proxy CIDRs. Bare IPs are accepted as /32 or /128.
// Invalid entries are returned in the second value and otherwise ignored.
func NewResolver(cidrs []string) (*Resolver, []string) {
	r := &Resolver{}
	var invalid []string
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			if ip := net.ParseIP(raw); ip != nil {
				if ip.To4() != nil {
					raw += "/32"
				} else {
					raw += "/128"
				}
			}
		}
		_, network, err := net.ParseCIDR(raw)
		if err != nil {
			invalid = append(invalid, raw)
			continue
		}
		r.trusted = append(r.trusted, network)
	}
	return r, invalid
}

// FromRequest resolves the identity of r.
func (r *Resolver) FromRequest(req *http.Request) string {
	return r.Resolve(req.RemoteAddr, req.Header.Get("X-Real-IP"), req.Header.Get("X-Forwarded-For"))
}

// Resolve is the pure form of FromRequest.
func (r *Resolver) Resolve(remoteAddr, realIP, forwardedFor string) string {
	peer := parseIP(remoteAddr)
	if peer != "" && !r.isTrusted(peer) {
		return peer
	}
	if ip := parseIP(realIP); ip != "" {
		return ip
	}
	if first := firstHop(forwardedFor); first != "" {
		return first
	}
	if peer != "" {
		return peer
	}
	return Unknown
}

func (r *Resolver) isTrusted(ip string) bool {
	if r == nil || len(r.trusted) == 0 {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, network := range r.trusted {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

func firstHop(xff string) string {
	xff = strings.TrimSpace(xff)
	if xff == "" {
		return ""
	}
	first, _, _ := strings.Cut(xff, ",")
	return parseIP(first)
}

func parseIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		addr = host
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return ""
	}
	return ip.String()
}
