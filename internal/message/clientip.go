package message

import (
	"encoding/binary"
	"net/netip"
	"strings"
)

// ClientIPExtractor resolves the client address. A non-empty result wins over the
// built-in forwarded-for heuristic; an empty result falls through to it.
type ClientIPExtractor func(r *Request, trustProxy bool) string

// reservedRanges are inclusive IPv4 ranges never taken as the originating client.
var reservedRanges = [...]struct{ lo, hi uint32 }{
	{0x00000000, 0x02FFFFFF}, // 0.0.0.0 - 2.255.255.255
	{0x0A000000, 0x0AFFFFFF}, // 10.0.0.0/8
	{0x7F000000, 0x7FFFFFFF}, // 127.0.0.0/8
	{0xA9FE0000, 0xA9FEFFFF}, // 169.254.0.0/16
	{0xAC100000, 0xAC1FFFFF}, // 172.16.0.0/12
	{0xC0000200, 0xC00002FF}, // 192.0.2.0/24
	{0xC0A80000, 0xC0A8FFFF}, // 192.168.0.0/16
	{0xFFFFFF00, 0xFFFFFFFF}, // 255.255.255.0/24
}

// SetClientIPExtractor installs fn as the first strategy consulted by ClientIP.
// A nil fn restores the built-in behavior.
func (r *Request) SetClientIPExtractor(fn ClientIPExtractor) {
	r.mu.Lock()
	r.extractor = fn
	r.mu.Unlock()
}

// AllowClientProxyIP makes ClientIP consider the forwarded-for chain.
func (r *Request) AllowClientProxyIP() {
	r.mu.Lock()
	r.trustProxy = true
	r.mu.Unlock()
}

// DisallowClientProxyIP makes ClientIP return the direct peer address.
func (r *Request) DisallowClientProxyIP() {
	r.mu.Lock()
	r.trustProxy = false
	r.mu.Unlock()
}

// ClientIP returns the originating client address.
func (r *Request) ClientIP() string {
	r.mu.Lock()
	trust, extractor := r.trustProxy, r.extractor
	r.mu.Unlock()

	if extractor != nil {
		if ip := extractor(r, trust); ip != "" {
			return ip
		}
	}
	return ResolveClientIP(r, trust)
}

// ResolveClientIP is the built-in strategy. Without proxy trust, or without a
// forwarded-for value, it returns the direct peer address. Otherwise it returns
// the left-most public IPv4 address of the chain, falling back to the first
// parsable candidate and then to "0.0.0.0".
func ResolveClientIP(r *Request, trustProxy bool) string {
	forwarded, _ := r.ServerParam(ServerForwardedFor)
	if !trustProxy || forwarded == "" {
		remote, _ := r.ServerParam(ServerRemoteAddr)
		return remote
	}
	return pickForwarded(forwarded)
}

func pickForwarded(chain string) string {
	if !strings.Contains(chain, ",") {
		return chain
	}

	first := ""
	for candidate := range strings.SplitSeq(chain, ",") {
		candidate = strings.TrimSpace(candidate)
		n, ok := parseIPv4(candidate)
		if !ok {
			continue
		}
		if first == "" {
			first = candidate
		}
		if !isReserved(n) {
			return candidate
		}
	}

	if first == "" {
		return "0.0.0.0"
	}
	return first
}

func parseIPv4(s string) (uint32, bool) {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return 0, false
	}
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:]), true
}

func isReserved(n uint32) bool {
	for _, rg := range reservedRanges {
		if n >= rg.lo && n <= rg.hi {
			return true
		}
	}
	return false
}

// HeaderIPExtractor trusts the first value of the first present header among
// names, e.g. a CDN's real-client-IP header.
func HeaderIPExtractor(names ...string) ClientIPExtractor {
	return func(r *Request, _ bool) string {
		for _, name := range names {
			if values := r.Header(name); len(values) > 0 && values[0] != "" {
				return values[0]
			}
		}
		return ""
	}
}
