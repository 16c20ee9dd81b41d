package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type clientIPKey struct{}

// WithClientIP returns a copy of ctx carrying the resolved client address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the address stored by WithClientIP, or the host of the
// request's remote address. Forwarding headers are never read here.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return remoteHost(r)
}

// ClientResolver finds the originating client of a request. X-Forwarded-For
// is only honoured when the direct peer is a trusted proxy.
type ClientResolver struct {
	trusted []netip.Prefix
}

// NewClientResolver accepts IP addresses and CIDR ranges. With no proxies
// the remote address is always used.
func NewClientResolver(proxies []string) (*ClientResolver, error) {
	c := &ClientResolver{}
	for _, value := range proxies {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		prefix, err := ParseProxy(value)
		if err != nil {
			return nil, err
		}
		c.trusted = append(c.trusted, prefix)
	}
	return c, nil
}

// ParseProxy parses a single IP address or CIDR range.
func ParseProxy(value string) (netip.Prefix, error) {
	if strings.Contains(value, "/") {
		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid trusted proxy %q: %w", value, err)
		}
		return prefix.Masked(), nil
	}

	addr, err := netip.ParseAddr(value)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid trusted proxy %q: %w", value, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Resolve returns the remote address unless it is a trusted proxy. Behind
// trusted proxies the X-Forwarded-For chain is walked from the right and the
// first untrusted hop wins. A malformed hop ends the walk.
func (c *ClientResolver) Resolve(r *http.Request) string {
	client := remoteHost(r)
	if c == nil || len(c.trusted) == 0 {
		return client
	}

	addr, err := netip.ParseAddr(client)
	if err != nil || !c.trusts(addr) {
		return client
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		hopAddr, err := netip.ParseAddr(hop)
		if err != nil {
			return client
		}
		client = hopAddr.Unmap().String()
		if !c.trusts(hopAddr) {
			return client
		}
	}
	return client
}

func (c *ClientResolver) trusts(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range c.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
