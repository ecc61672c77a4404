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

// URLGuardConfig configures outbound URL checks.
type URLGuardConfig struct {
	// AllowedHosts restricts requests to these hostnames when non-empty.
	AllowedHosts []string
	// AllowedSchemes defaults to http and https.
	AllowedSchemes []string
	// AllowLoopback permits localhost and loopback addresses.
	AllowLoopback bool
	// BlockPrivateIPs blocks RFC1918 ranges.
	BlockPrivateIPs bool
}

// DefaultURLGuardConfig returns the configuration used by the web tools.
func DefaultURLGuardConfig() URLGuardConfig {
	return URLGuardConfig{
		AllowedSchemes:  []string{"http", "https"},
		AllowLoopback:   false,
		BlockPrivateIPs: true,
	}
}

// URLGuard rejects URLs that would make tools reach internal networks.
type URLGuard struct {
	config  URLGuardConfig
	allowed map[string]bool
	lookup  func(host string) ([]net.IP, error)
}

// NewURLGuard creates a guard from config.
func NewURLGuard(config URLGuardConfig) *URLGuard {
	if len(config.AllowedSchemes) == 0 {
		config.AllowedSchemes = []string{"http", "https"}
	}
	allowed := make(map[string]bool, len(config.AllowedHosts))
	for _, h := range config.AllowedHosts {
		allowed[strings.ToLower(h)] = true
	}
	return &URLGuard{config: config, allowed: allowed, lookup: net.LookupIP}
}

// CheckURL validates scheme and host of rawURL.
func (g *URLGuard) CheckURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	schemeOK := false
	for _, s := range g.config.AllowedSchemes {
		if strings.EqualFold(u.Scheme, s) {
			schemeOK = true
			break
		}
	}
	if !schemeOK {
		return fmt.Errorf("invalid URL scheme %q (only %v allowed)", u.Scheme, g.config.AllowedSchemes)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("URL %q has no host", rawURL)
	}
	return g.CheckHost(u.Hostname())
}

// CheckHost validates a hostname against the allowlist and the addresses it
// resolves to.
func (g *URLGuard) CheckHost(host string) error {
	host = strings.ToLower(host)
	if len(g.allowed) > 0 && !g.allowed[host] {
		return fmt.Errorf("host not in allowlist: %s", host)
	}
	if host == "localhost" {
		if g.config.AllowLoopback {
			return nil
		}
		return fmt.Errorf("loopback addresses not allowed: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		return g.CheckIP(ip)
	}
	ips, err := g.lookup(host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if err := g.CheckIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// CheckIP rejects loopback, private, link-local, multicast and unspecified
// addresses according to the configuration.
func (g *URLGuard) CheckIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		if !g.config.AllowLoopback {
			return fmt.Errorf("loopback addresses not allowed: %s", ip)
		}
	case ip.IsPrivate():
		if g.config.BlockPrivateIPs {
			return fmt.Errorf("private IP addresses not allowed: %s", ip)
		}
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		// Covers the 169.254.169.254 cloud metadata endpoint.
		return fmt.Errorf("link-local addresses not allowed: %s", ip)
	case ip.IsMulticast(), ip.IsUnspecified():
		return fmt.Errorf("address not allowed: %s", ip)
	}
	return nil
}

// Transport returns an http.Transport that re-checks every dialed host, so
// redirects and DNS rebinding cannot bypass CheckURL.
func (g *URLGuard) Transport() *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				host = addr
			}
			if err := g.CheckHost(host); err != nil {
				return nil, fmt.Errorf("connection blocked: %w", err)
			}
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
