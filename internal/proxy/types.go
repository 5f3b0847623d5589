// Package proxy maintains the health-tracked rotating pool of HTTP
// proxies used by the scraping strategies, including background health
// checks, source discovery, persistence, and upstream load-balancer
// publication.
package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrNoProxies is returned by Acquire when the pool is empty or every
// entry is inactive. Acquire never blocks waiting for a proxy.
var ErrNoProxies = errors.New("no healthy proxies available")

// Scheme is the proxy protocol.
type Scheme string

const (
	SchemeHTTP   Scheme = "http"
	SchemeHTTPS  Scheme = "https"
	SchemeSOCKS4 Scheme = "socks4"
	SchemeSOCKS5 Scheme = "socks5"
)

// IsValid checks if the scheme is supported.
func (s Scheme) IsValid() bool {
	switch s {
	case SchemeHTTP, SchemeHTTPS, SchemeSOCKS4, SchemeSOCKS5:
		return true
	}
	return false
}

// Window constants for the success-rate calculation. The rate is a
// genuine sliding-window ratio over the last outcomeWindow outcomes
// rather than an ad-hoc increment scheme; a proxy with no recorded
// outcomes reports its seed rate (0.5 for discovered proxies).
const (
	outcomeWindow   = 50
	latencyAlpha    = 0.1
	defaultSeedRate = 0.5
)

// outcomeRing is a fixed-size ring of recent outcome booleans.
type outcomeRing struct {
	seed     float64
	outcomes [outcomeWindow]bool
	next     int
	filled   int
}

func newOutcomeRing(seed float64) *outcomeRing {
	if seed < 0 {
		seed = 0
	}
	if seed > 1 {
		seed = 1
	}
	return &outcomeRing{seed: seed}
}

func (r *outcomeRing) record(success bool) {
	r.outcomes[r.next] = success
	r.next = (r.next + 1) % outcomeWindow
	if r.filled < outcomeWindow {
		r.filled++
	}
}

// rate returns the windowed success rate, always within [0, 1].
func (r *outcomeRing) rate() float64 {
	if r.filled == 0 {
		return r.seed
	}
	successes := 0
	for i := 0; i < r.filled; i++ {
		if r.outcomes[i] {
			successes++
		}
	}
	return float64(successes) / float64(r.filled)
}

// Entry is one proxy in the pool. All fields are guarded by the pool's
// lock; callers receive snapshots, never live pointers.
type Entry struct {
	URL                 string        `json:"url"`
	Scheme              Scheme        `json:"scheme"`
	Username            string        `json:"username,omitempty"`
	Password            string        `json:"password,omitempty"`
	Country             string        `json:"country,omitempty"`
	LatencyEWMA         time.Duration `json:"latency_ewma"`
	SuccessRate         float64       `json:"success_rate"`
	LastCheckedAt       time.Time     `json:"last_checked_at"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Active              bool          `json:"active"`

	ring *outcomeRing
}

// Score ranks entries for acquisition: successRate / (latencySec + 1).
func (e *Entry) Score() float64 {
	return e.SuccessRate / (e.LatencyEWMA.Seconds() + 1)
}

// snapshot returns a copy without the internal ring.
func (e *Entry) snapshot() *Entry {
	out := *e
	out.ring = nil
	return &out
}

// ParseProxyURL builds an Entry from a proxy URL string. Bare host:port
// values default to the http scheme.
func ParseProxyURL(raw string) (*Entry, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty proxy URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL %q: %w", raw, err)
	}
	scheme := Scheme(u.Scheme)
	if !scheme.IsValid() {
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy URL %q has no host", raw)
	}
	entry := &Entry{
		URL:         raw,
		Scheme:      scheme,
		SuccessRate: defaultSeedRate,
		Active:      true,
		ring:        newOutcomeRing(defaultSeedRate),
	}
	if u.User != nil {
		entry.Username = u.User.Username()
		entry.Password, _ = u.User.Password()
	}
	return entry, nil
}

// Stats summarizes pool health.
type Stats struct {
	Total          int           `json:"total"`
	Healthy        int           `json:"healthy"`
	Unhealthy      int           `json:"unhealthy"`
	AvgLatency     time.Duration `json:"avg_latency"`
	AvgSuccessRate float64       `json:"avg_success_rate"`
	LastHealthRun  time.Time     `json:"last_health_run,omitempty"`
	LastDiscovery  time.Time     `json:"last_discovery,omitempty"`
}

// Options configures the pool.
type Options struct {
	// FMax deactivates a proxy after this many consecutive failures.
	FMax int
	// HealthInterval is the cadence of the health-check loop.
	HealthInterval time.Duration
	// DiscoveryInterval is the cadence of the discovery loop.
	DiscoveryInterval time.Duration
	// HealthCheckURL is the echo endpoint checks hit through the proxy.
	HealthCheckURL string
	// HealthBatchSize bounds per-batch check concurrency.
	HealthBatchSize int
	// HealthBatchDelay is the pause between batches.
	HealthBatchDelay time.Duration
	// HealthTimeout bounds a single check.
	HealthTimeout time.Duration
	// DiscoveryURLs are proxy-list sources for RefreshFromSources.
	DiscoveryURLs []string
	// DiscoveryCap bounds proxies added per discovery cycle.
	DiscoveryCap int
	// BackupThreshold marks upstream entries below it as backup.
	BackupThreshold float64
}

// ApplyDefaults fills unset options with production defaults.
func (o *Options) ApplyDefaults() {
	if o.FMax <= 0 {
		o.FMax = 3
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 60 * time.Second
	}
	if o.DiscoveryInterval <= 0 {
		o.DiscoveryInterval = time.Hour
	}
	if o.HealthCheckURL == "" {
		o.HealthCheckURL = "https://httpbin.org/ip"
	}
	if o.HealthBatchSize <= 0 {
		o.HealthBatchSize = 10
	}
	if o.HealthBatchDelay <= 0 {
		o.HealthBatchDelay = 500 * time.Millisecond
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = 10 * time.Second
	}
	if o.DiscoveryCap <= 0 {
		o.DiscoveryCap = 50
	}
	if o.BackupThreshold <= 0 {
		o.BackupThreshold = 0.7
	}
}
