package providers

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"
)

// cgnat is the shared address space of RFC 6598, reachable only inside
// carrier networks.
var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// BlockedError is returned when the network guard refuses an address.
type BlockedError struct {
	Address string
	Reason  string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("SSRF protection blocked connection to %s: %s", e.Address, e.Reason)
}

// IsBlockedError reports whether err came from the network guard.
func IsBlockedError(err error) bool {
	var b *BlockedError
	return errors.As(err, &b)
}

// guardedDialer resolves a host once, validates the address and dials the
// pinned IP, so a second resolution cannot rebind to a private address.
type guardedDialer struct {
	allowPrivate bool
	timeout      time.Duration
	resolver     *net.Resolver
}

func (d *guardedDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		resolver := d.resolver
		if resolver == nil {
			resolver = net.DefaultResolver
		}
		addrs, err := resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("DNS lookup failed for %q: %w", host, err)
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("no IP addresses found for %q", host)
		}
		ip = addrs[0].IP
		for _, a := range addrs {
			if a.IP.To4() != nil {
				ip = a.IP
				break
			}
		}
	}

	if reason := blockReason(ip); reason != "" && !d.allowPrivate {
		return nil, &BlockedError{Address: net.JoinHostPort(ip.String(), port), Reason: reason}
	}

	dialer := &net.Dialer{Timeout: d.timeout}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
}

// blockReason returns why ip is not a public unicast address, or "".
func blockReason(ip net.IP) string {
	switch {
	case ip.IsLoopback():
		return "loopback address"
	case ip.IsPrivate():
		return "private address"
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return "link-local address"
	case ip.IsUnspecified():
		return "unspecified address"
	case ip.IsMulticast():
		return "multicast address"
	case cgnat.Contains(ip):
		return "shared address space"
	}
	return ""
}

// tlsConfig requires TLS 1.2 or newer with AEAD cipher suites.
func tlsConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		},
	}
}
