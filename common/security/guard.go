// Package security screens outbound request targets so workflow-driven
// HTTP calls cannot reach loopback, private, or link-local addresses.
package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Guard vets URLs before the engine dials them. The zero value is not
// usable; construct with NewGuard.
type Guard struct {
	schemes      map[string]bool
	blockedHosts map[string]bool
}

// NewGuard builds a guard that allows only http and https targets on
// public addresses.
func NewGuard() *Guard {
	return &Guard{
		schemes: map[string]bool{
			"http":  true,
			"https": true,
		},
		blockedHosts: map[string]bool{
			"localhost": true,
			"0.0.0.0":   true,
			"::":        true,
		},
	}
}

// Check validates one URL: scheme, host, every address the host
// resolves to, and the path. The first violation is returned.
func (g *Guard) Check(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	if err := g.checkScheme(u.Scheme); err != nil {
		return err
	}
	if err := g.checkHost(u.Hostname()); err != nil {
		return err
	}
	return checkPath(u.Path)
}

func (g *Guard) checkScheme(scheme string) error {
	s := strings.ToLower(scheme)
	if s == "" {
		return fmt.Errorf("url has no scheme")
	}
	if !g.schemes[s] {
		return fmt.Errorf("scheme %q is not allowed, only http and https are", scheme)
	}
	return nil
}

func (g *Guard) checkHost(host string) error {
	if host == "" {
		return fmt.Errorf("url has no host")
	}
	if g.blockedHosts[strings.ToLower(host)] {
		return fmt.Errorf("host %q is blocked", host)
	}

	// A lookup failure is not a block: the dial will fail on its own,
	// and refusing here would turn DNS outages into security errors.
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil
	}
	for _, ip := range ips {
		if err := checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// checkIP refuses every address class that points back into the local
// machine or network: loopback, RFC 1918 / ULA, link-local (including
// cloud metadata endpoints), multicast, and unspecified.
func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("address %s is blocked: loopback", ip)
	case ip.IsPrivate():
		return fmt.Errorf("address %s is blocked: private network", ip)
	case ip.IsLinkLocalUnicast():
		return fmt.Errorf("address %s is blocked: link-local", ip)
	case ip.IsMulticast():
		return fmt.Errorf("address %s is blocked: multicast", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("address %s is blocked: unspecified", ip)
	}
	return nil
}

func checkPath(path string) error {
	p := strings.ToLower(path)
	for _, pattern := range []string{"../", "..\\", "%2e%2e", "..%2f", "..%5c"} {
		if strings.Contains(p, pattern) {
			return fmt.Errorf("path contains traversal pattern %q", pattern)
		}
	}
	return nil
}
