// Package httpclient provides HTTP clients with built-in protections
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"
)

// SecureClientConfig configures the HTTP client factory
type SecureClientConfig struct {
	Timeout         time.Duration
	BlockPrivateIPs bool // If true, refuses to dial private or loopback IPs
	FollowRedirects bool
	MaxRedirects    int
}

// DefaultConfig returns a secure default configuration
func DefaultConfig() SecureClientConfig {
	return SecureClientConfig{
		Timeout:         30 * time.Second,
		BlockPrivateIPs: true,
		FollowRedirects: true,
		MaxRedirects:    10,
	}
}

// NewSecureClient creates an HTTP client with
//   - Timeout enforcement (prevents hung requests)
//   - Optional private-IP dial blocking
//   - Context-aware dialing
//   - Configurable redirect following
func NewSecureClient(config SecureClientConfig) *http.Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if config.BlockPrivateIPs {
				if err := validateAddress(addr); err != nil {
					return nil, fmt.Errorf("private address blocked: %w", err)
				}
			}

			var dialer net.Dialer
			return dialer.DialContext(ctx, network, addr)
		},

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client := &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}

	if !config.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if config.MaxRedirects > 0 {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= config.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", config.MaxRedirects)
			}

			if config.BlockPrivateIPs {
				if err := validateURL(req.URL); err != nil {
					return fmt.Errorf("private address blocked on redirect: %w", err)
				}
			}

			return nil
		}
	}

	return client
}

// NewExecutorClient creates the client used for payload requests.
// Targets are authorized by scope validation before any request is
// built, and programs may legitimately resolve to internal ranges in
// lab setups, so private-IP blocking stays off here. Redirects are
// followed so open-redirect verification can read Location chains.
func NewExecutorClient(timeout time.Duration, maxRedirects int) *http.Client {
	return NewSecureClient(SecureClientConfig{
		Timeout:         timeout,
		BlockPrivateIPs: false,
		FollowRedirects: true,
		MaxRedirects:    maxRedirects,
	})
}

// NewControlClient creates a hardened client for outbound control-plane
// calls (webhooks, integrations). Private-IP blocking stays on.
func NewControlClient(timeout time.Duration) *http.Client {
	return NewSecureClient(SecureClientConfig{
		Timeout:         timeout,
		BlockPrivateIPs: true,
		FollowRedirects: true,
		MaxRedirects:    5,
	})
}

// validateAddress checks if an address points to a private IP
func validateAddress(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", host, err)
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("blocked private IP: %s (%s)", ip, host)
		}
	}

	return nil
}

// validateURL checks a redirect destination against the same rules as
// the dialer.
func validateURL(u *url.URL) error {
	if u == nil || u.Hostname() == "" {
		return fmt.Errorf("redirect target has no host")
	}
	return validateAddress(u.Hostname())
}

// isPrivateIP checks if an IP address is private, loopback, or link-local
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}

	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}

	if ip.IsPrivate() {
		return true
	}

	if ip.IsUnspecified() {
		return true
	}

	return false
}

// DoWithContext performs an HTTP request with context enforcement
func DoWithContext(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return nil, err
	}

	return resp, nil
}

// CloseBody safely closes an HTTP response body. Unclosed bodies leak
// pooled connections; the drain enables connection reuse.
func CloseBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	if err := resp.Body.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close HTTP response body: %v\n", err)
	}
}
