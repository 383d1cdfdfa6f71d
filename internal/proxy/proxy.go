// Package proxy implements the Proxy Manager: it maintains the set of
// ACTIVE outbound proxies loaded from the metadata store, hands one out
// per proxy_group on request, and periodically health-checks each one.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	netproxy "golang.org/x/net/proxy"

	"newsfeed/internal/repository"
)

const (
	dialTimeout      = 5 * time.Second
	defaultCheckURL  = "https://www.google.com"
	statusActive     = "ACTIVE"
	statusError      = "ERROR"
)

// Manager picks an outbound proxy URL for a request's destination host on
// top of the proxy_configs catalog, plus the refresh/health-check
// operations that keep that catalog current.
type Manager struct {
	repo          repository.ProxyRepository
	checkURL      string
	proxiedHosts  map[string]struct{}
	dial          func(ctx context.Context, network, addr string) (net.Conn, error)

	mu      sync.Mutex
	byGroup map[string][]*repository.ProxyConfig
	next    map[string]int
}

// New builds a Manager. proxiedDomains is the configurable set of hosts
// that require proxying even when a source's own needs_proxy flag is
// false.
func New(repo repository.ProxyRepository, proxiedDomains []string) *Manager {
	hosts := make(map[string]struct{}, len(proxiedDomains))
	for _, d := range proxiedDomains {
		hosts[strings.ToLower(d)] = struct{}{}
	}
	return &Manager{
		repo:         repo,
		checkURL:     defaultCheckURL,
		proxiedHosts: hosts,
		dial:         (&net.Dialer{Timeout: dialTimeout}).DialContext,
		byGroup:      make(map[string][]*repository.ProxyConfig),
		next:         make(map[string]int),
	}
}

// WithCheckURL overrides the health-check probe target; intended for
// tests.
func (m *Manager) WithCheckURL(u string) *Manager {
	m.checkURL = u
	return m
}

// RefreshProxies reloads the ACTIVE proxy set from the metadata store,
// grouped by proxy_group and ordered by ascending priority within each
// group.
func (m *Manager) RefreshProxies(ctx context.Context) error {
	configs, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list proxy configs: %w", err)
	}

	byGroup := make(map[string][]*repository.ProxyConfig)
	for _, cfg := range configs {
		if cfg.Status != statusActive {
			continue
		}
		byGroup[cfg.Group] = append(byGroup[cfg.Group], cfg)
	}
	for _, list := range byGroup {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byGroup = byGroup
	return nil
}

// Pick returns the next proxy URL for group, round-robin among its ACTIVE
// members, preferring lower priority values first (the round-robin cursor
// only advances within the current priority tier's entries as refreshed).
// Reports false when no healthy proxy is configured for group.
func (m *Manager) Pick(group string) (*url.URL, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.byGroup[group]
	if len(list) == 0 {
		return nil, false
	}

	idx := m.next[group] % len(list)
	m.next[group] = (m.next[group] + 1) % len(list)
	cfg := list[idx]

	u := &url.URL{
		Scheme: strings.ToLower(cfg.Protocol),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	return u, true
}

// DomainsRequiringProxy returns the configurable set of hosts that force
// proxy routing regardless of a source's own needs_proxy flag.
func (m *Manager) DomainsRequiringProxy() map[string]struct{} {
	return m.proxiedHosts
}

// hintKey is the context key a fetch's source-level proxy preference is
// carried under, from the Scheduler's doFetch down to the shared
// *http.Client's Transport.Proxy callback.
type hintKey struct{}

// Hint carries one source's needs_proxy/proxy_group catalog fields for the
// duration of a single fetch, since every adapter family shares one
// *http.Client and the outbound Transport.Proxy callback has no other way
// to know which source a given request belongs to.
type Hint struct {
	NeedsProxy bool
	Group      string
}

// WithHint attaches hint to ctx for a fetch about to run.
func WithHint(ctx context.Context, hint Hint) context.Context {
	return context.WithValue(ctx, hintKey{}, hint)
}

// HintFromContext retrieves the Hint attached by WithHint, if any.
func HintFromContext(ctx context.Context) (Hint, bool) {
	hint, ok := ctx.Value(hintKey{}).(Hint)
	return hint, ok
}

// CheckHealth dials every currently loaded proxy's host:port and records
// ACTIVE/ERROR plus the observed round-trip time back to the metadata
// store. A dial success does not guarantee the proxy correctly relays
// traffic to checkURL, only that it accepts connections; it is a
// reachability probe, not a full CONNECT handshake.
func (m *Manager) CheckHealth(ctx context.Context) error {
	m.mu.Lock()
	var all []*repository.ProxyConfig
	for _, list := range m.byGroup {
		all = append(all, list...)
	}
	m.mu.Unlock()

	var firstErr error
	for _, cfg := range all {
		status, elapsed, probeErr := m.probe(ctx, cfg)
		lastError := ""
		if probeErr != nil {
			lastError = probeErr.Error()
		}
		if err := m.repo.UpdateHealth(ctx, cfg.ID, status, elapsed, lastError); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// probe reaches through cfg to the health-check target. SOCKS5 proxies are
// dialed via golang.org/x/net/proxy so the probe exercises the actual relay
// path rather than just the proxy's listening port; other protocols (plain
// HTTP/HTTPS forward proxies) fall back to a direct TCP reachability check
// against the proxy itself, since x/net/proxy has no CONNECT-based dialer.
func (m *Manager) probe(ctx context.Context, cfg *repository.ProxyConfig) (status string, elapsed time.Duration, err error) {
	targetHost := m.checkHost()
	start := time.Now()

	if strings.EqualFold(cfg.Protocol, "socks5") {
		dialer, buildErr := netproxy.SOCKS5("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), proxyAuth(cfg), netproxy.Direct)
		if buildErr != nil {
			return statusError, time.Since(start), buildErr
		}
		contextDialer, ok := dialer.(netproxy.ContextDialer)
		if !ok {
			return statusError, time.Since(start), fmt.Errorf("socks5 dialer does not support context")
		}
		conn, dialErr := contextDialer.DialContext(ctx, "tcp", targetHost)
		elapsed = time.Since(start)
		if dialErr != nil {
			return statusError, elapsed, dialErr
		}
		_ = conn.Close()
		return statusActive, elapsed, nil
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	conn, dialErr := m.dial(ctx, "tcp", addr)
	elapsed = time.Since(start)
	if dialErr != nil {
		return statusError, elapsed, dialErr
	}
	_ = conn.Close()
	return statusActive, elapsed, nil
}

// proxyAuth builds SOCKS5 auth from cfg, or nil when no username is set.
func proxyAuth(cfg *repository.ProxyConfig) *netproxy.Auth {
	if cfg.Username == "" {
		return nil
	}
	return &netproxy.Auth{User: cfg.Username, Password: cfg.Password}
}

// checkHost derives a host:port to dial from the configured health-check
// URL, defaulting to port 443.
func (m *Manager) checkHost() string {
	u, err := url.Parse(m.checkURL)
	if err != nil || u.Host == "" {
		return "www.google.com:443"
	}
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "http" {
		return u.Host + ":80"
	}
	return u.Host + ":443"
}
