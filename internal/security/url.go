// Package security guards outbound requests made on behalf of the model.
//
// Tool inputs are model-controlled, so every URL a tool fetches must be
// screened against private networks, loopback, and cloud metadata endpoints
// before the request leaves the process.
package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxRedirects = 10

// URLGuard validates URLs and resolved addresses for outbound fetches.
//
// Blocked targets: private ranges (RFC 1918), loopback, link-local
// (including the cloud metadata endpoint 169.254.169.254), unspecified
// addresses, and a small set of known-dangerous hostnames.
type URLGuard struct {
	blockedHosts map[string]struct{}
}

// NewURLGuard creates a guard with the default block list.
func NewURLGuard() *URLGuard {
	return &URLGuard{
		blockedHosts: map[string]struct{}{
			"localhost":                {},
			"metadata.google.internal": {},
			"metadata.gce.internal":    {},
			"metadata.internal":        {},
		},
	}
}

// Validate checks the URL statically. The scheme must be http or https and
// the host must not be blocked. Hostnames that resolve to private addresses
// are caught later, at dial time.
func (g *URLGuard) Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("empty hostname")
	}
	if _, blocked := g.blockedHosts[strings.ToLower(host)]; blocked {
		return fmt.Errorf("blocked host %q", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		return g.checkIP(ip)
	}
	return nil
}

func (g *URLGuard) checkIP(ip net.IP) error {
	// Normalize ::ffff:127.0.0.1 to 127.0.0.1.
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback address %s not allowed", ip)
	case ip.IsPrivate():
		return fmt.Errorf("private address %s not allowed", ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local address %s not allowed", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified address %s not allowed", ip)
	}
	return nil
}

// Transport returns an http.Transport whose dialer re-checks the resolved
// addresses, closing the DNS rebinding gap that static validation leaves.
func (g *URLGuard) Transport() *http.Transport {
	return &http.Transport{
		DialContext:         g.dialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

func (g *URLGuard) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, ""
	}

	if ip := net.ParseIP(host); ip != nil {
		if err := g.checkIP(ip); err != nil {
			return nil, fmt.Errorf("request blocked: %w", err)
		}
		return (&net.Dialer{}).DialContext(ctx, network, addr)
	}
	if _, blocked := g.blockedHosts[strings.ToLower(host)]; blocked {
		return nil, fmt.Errorf("request blocked: host %q", host)
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", host, err)
	}
	for _, ip := range ips {
		if err := g.checkIP(ip); err != nil {
			return nil, fmt.Errorf("request blocked (%s resolved to %s): %w", host, ip, err)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses resolved for %s", host)
	}

	// Dial the checked address directly to avoid a second, unchecked lookup.
	target := ips[0].String()
	if port != "" {
		target = net.JoinHostPort(target, port)
	}
	return (&net.Dialer{}).DialContext(ctx, network, target)
}

// CheckRedirect bounds redirect chains and validates each hop. Assign it to
// http.Client.CheckRedirect.
func (g *URLGuard) CheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return g.Validate(req.URL.String())
}
