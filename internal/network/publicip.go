package network

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultIPServices return the caller's address as plain text.
var DefaultIPServices = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://icanhazip.com",
}

// PublicIPResolver knows the lobby host's public IPv4 address. Game
// servers on the lobby's own LAN are advertised with it.
type PublicIPResolver struct {
	mu       sync.RWMutex
	ip       net.IP
	fixed    bool
	services []string
	client   *http.Client
	logger   zerolog.Logger
}

// NewPublicIPResolver creates a resolver. A non-empty configured address
// disables lookups.
func NewPublicIPResolver(configured string, services []string) *PublicIPResolver {
	r := &PublicIPResolver{
		services: services,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   log.With().Str("component", "public_ip").Logger(),
	}
	if ip := net.ParseIP(strings.TrimSpace(configured)).To4(); ip != nil {
		r.ip = ip
		r.fixed = true
	}
	return r
}

// PublicIP returns the last known public address, or nil.
func (r *PublicIPResolver) PublicIP() net.IP {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ip
}

// Refresh queries the lookup services in order and stores the first
// valid IPv4 answer.
func (r *PublicIPResolver) Refresh(ctx context.Context) error {
	if r.fixed {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	var lastErr error
	for _, u := range r.services {
		ip, err := r.fetch(ctx, u)
		if err != nil {
			r.logger.Debug().Err(err).Str("url", u).Msg("public IP fetch failed")
			lastErr = err
			continue
		}

		r.mu.Lock()
		changed := !ip.Equal(r.ip)
		r.ip = ip
		r.mu.Unlock()

		if changed {
			r.logger.Info().Str("ip", ip.String()).Msg("public IP detected")
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errNoIPService
	}
	return lastErr
}

func (r *PublicIPResolver) fetch(ctx context.Context, url string) (net.IP, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ipServiceError{url: url, status: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(strings.TrimSpace(string(body))).To4()
	if ip == nil {
		return nil, &ipServiceError{url: url, status: resp.StatusCode}
	}
	return ip, nil
}

// IsPrivateIP reports whether ip is loopback, link-local or an RFC1918
// address.
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsPrivate()
}

var errNoIPService = &ipServiceError{}

type ipServiceError struct {
	url    string
	status int
}

func (e *ipServiceError) Error() string {
	if e.url == "" {
		return "no public IP service configured"
	}
	return "unusable answer from " + e.url + " (status " + http.StatusText(e.status) + ")"
}
