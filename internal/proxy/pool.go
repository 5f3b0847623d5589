package proxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthGauges receives the pool's healthy/unhealthy counts whenever
// membership or activation state changes. Satisfied by
// metrics.Collector.
type HealthGauges interface {
	SetProxyCounts(healthy, unhealthy int)
}

// Pool is the single owner of proxy state. Every read and write,
// including health-check updates and strategy outcome reports, goes
// through its lock.
type Pool struct {
	opts   Options
	store  Store
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*Entry
	gauges  HealthGauges

	lastHealthRun time.Time
	lastDiscovery time.Time

	// checkProxy is swapped out by tests; defaults to an HTTP GET
	// through the proxy against the configured echo endpoint.
	checkProxy func(ctx context.Context, entry *Entry) (time.Duration, error)
}

// NewPool creates a pool, warm-starting from the store when it holds
// previous state.
func NewPool(opts Options, store Store, logger *zap.Logger) *Pool {
	opts.ApplyDefaults()
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		opts:    opts,
		store:   store,
		logger:  logger,
		entries: make(map[string]*Entry),
	}
	p.checkProxy = p.httpCheck
	p.loadFromStore()
	return p
}

// SetHealthGauges wires a metrics sink and publishes the current
// counts so a warm-started pool reports immediately.
func (p *Pool) SetHealthGauges(g HealthGauges) {
	p.mu.Lock()
	p.gauges = g
	healthy, unhealthy := p.countsLocked()
	p.mu.Unlock()
	if g != nil {
		g.SetProxyCounts(healthy, unhealthy)
	}
}

// countsLocked tallies active and deactivated entries. Callers hold
// the pool lock.
func (p *Pool) countsLocked() (healthy, unhealthy int) {
	for _, entry := range p.entries {
		if entry.Active {
			healthy++
		} else {
			unhealthy++
		}
	}
	return healthy, unhealthy
}

// loadFromStore restores persisted entries; failures are logged, the
// pool just starts cold.
func (p *Pool) loadFromStore() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	urls, err := p.store.SMembers(ctx, storeKeySet)
	if err != nil {
		p.logger.Warn("proxy store unavailable, starting with empty pool", zap.Error(err))
		return
	}
	restored := 0
	for _, u := range urls {
		fields, err := p.store.HGetAll(ctx, storeKeyPrefix+u)
		if err != nil || len(fields) == 0 {
			continue
		}
		entry, err := entryFromFields(fields)
		if err != nil {
			p.logger.Warn("skipping corrupt proxy record", zap.String("url", u), zap.Error(err))
			continue
		}
		p.entries[entry.URL] = entry
		restored++
	}
	if restored > 0 {
		p.logger.Info("restored proxy pool from store", zap.Int("proxies", restored))
	}
}

// persist flushes one entry to the store. Best effort; the in-memory
// view stays authoritative.
func (p *Pool) persist(entry *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.store.SAdd(ctx, storeKeySet, entry.URL); err != nil {
		p.logger.Debug("proxy persist failed", zap.String("url", entry.URL), zap.Error(err))
		return
	}
	if err := p.store.HSet(ctx, storeKeyPrefix+entry.URL, entryFields(entry)); err != nil {
		p.logger.Debug("proxy persist failed", zap.String("url", entry.URL), zap.Error(err))
	}
}

// Acquire returns a snapshot of the healthiest active proxy, scored as
// successRate/(latencySec+1). It never returns an inactive entry and
// never blocks; pool exhaustion is ErrNoProxies.
func (p *Pool) Acquire() (*Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Entry
	for _, entry := range p.entries {
		if !entry.Active {
			continue
		}
		if best == nil || entry.Score() > best.Score() {
			best = entry
		}
	}
	if best == nil {
		return nil, ErrNoProxies
	}
	return best.snapshot(), nil
}

// ReportOutcome records a request outcome for a proxy: windowed success
// rate, latency EWMA, consecutive-failure tracking, and deactivation at
// FMax. A successful health check reactivates the entry.
func (p *Pool) ReportOutcome(proxyURL string, success bool, latency time.Duration) {
	p.mu.Lock()
	entry, ok := p.entries[proxyURL]
	if !ok {
		p.mu.Unlock()
		return
	}

	entry.ring.record(success)
	entry.SuccessRate = entry.ring.rate()
	if latency > 0 {
		if entry.LatencyEWMA == 0 {
			entry.LatencyEWMA = latency
		} else {
			entry.LatencyEWMA = time.Duration(
				(1-latencyAlpha)*float64(entry.LatencyEWMA) + latencyAlpha*float64(latency))
		}
	}
	if success {
		entry.ConsecutiveFailures = 0
		entry.Active = true
	} else {
		entry.ConsecutiveFailures++
		if entry.ConsecutiveFailures >= p.opts.FMax {
			entry.Active = false
		}
	}
	snapshot := entry.snapshot()
	gauges := p.gauges
	healthy, unhealthy := p.countsLocked()
	p.mu.Unlock()

	if gauges != nil {
		gauges.SetProxyCounts(healthy, unhealthy)
	}
	p.persist(snapshot)
}

// Add registers a proxy. Existing entries keep their recorded health.
func (p *Pool) Add(entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("proxy entry cannot be nil")
	}
	if entry.ring == nil {
		entry.ring = newOutcomeRing(entry.SuccessRate)
	}
	p.mu.Lock()
	if _, exists := p.entries[entry.URL]; exists {
		p.mu.Unlock()
		return nil
	}
	p.entries[entry.URL] = entry
	snapshot := entry.snapshot()
	gauges := p.gauges
	healthy, unhealthy := p.countsLocked()
	p.mu.Unlock()

	if gauges != nil {
		gauges.SetProxyCounts(healthy, unhealthy)
	}
	p.persist(snapshot)
	return nil
}

// AddURL parses and registers a proxy URL.
func (p *Pool) AddURL(raw string) error {
	entry, err := ParseProxyURL(raw)
	if err != nil {
		return err
	}
	return p.Add(entry)
}

// Remove evicts a proxy from the pool and the store.
func (p *Pool) Remove(proxyURL string) error {
	p.mu.Lock()
	_, ok := p.entries[proxyURL]
	delete(p.entries, proxyURL)
	gauges := p.gauges
	healthy, unhealthy := p.countsLocked()
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("proxy %s not in pool", proxyURL)
	}
	if gauges != nil {
		gauges.SetProxyCounts(healthy, unhealthy)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.store.SRem(ctx, storeKeySet, proxyURL); err == nil {
		_ = p.store.Del(ctx, storeKeyPrefix+proxyURL)
	}
	return nil
}

// Stats summarizes current pool health.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{
		Total:         len(p.entries),
		LastHealthRun: p.lastHealthRun,
		LastDiscovery: p.lastDiscovery,
	}
	var totalLatency time.Duration
	var totalRate float64
	for _, entry := range p.entries {
		if entry.Active {
			stats.Healthy++
		} else {
			stats.Unhealthy++
		}
		totalLatency += entry.LatencyEWMA
		totalRate += entry.SuccessRate
	}
	if stats.Total > 0 {
		stats.AvgLatency = totalLatency / time.Duration(stats.Total)
		stats.AvgSuccessRate = totalRate / float64(stats.Total)
	}
	return stats
}

// Snapshot returns copies of all entries, healthiest first.
func (p *Pool) Snapshot() []*Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Entry, 0, len(p.entries))
	for _, entry := range p.entries {
		out = append(out, entry.snapshot())
	}
	sortByScore(out)
	return out
}

func sortByScore(entries []*Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Score() > entries[j-1].Score(); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// BackupThreshold is the success rate below which published upstream
// entries are marked backup.
func (p *Pool) BackupThreshold() float64 { return p.opts.BackupThreshold }

// PublishUpstream pushes the current pool snapshot to a load-balancer
// publisher.
func (p *Pool) PublishUpstream(pub UpstreamPublisher) error {
	return pub.Publish(p.Snapshot())
}

// Run drives the health-check and discovery loops until the context is
// cancelled. A failed iteration is logged and never terminates a loop.
func (p *Pool) Run(ctx context.Context) {
	healthTicker := time.NewTicker(p.opts.HealthInterval)
	discoveryTicker := time.NewTicker(p.opts.DiscoveryInterval)
	defer healthTicker.Stop()
	defer discoveryTicker.Stop()

	p.logger.Info("proxy pool loops started",
		zap.Duration("health_interval", p.opts.HealthInterval),
		zap.Duration("discovery_interval", p.opts.DiscoveryInterval))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("proxy pool loops stopped")
			return
		case <-healthTicker.C:
			p.HealthCheckAll(ctx)
		case <-discoveryTicker.C:
			if _, err := p.RefreshFromSources(ctx); err != nil {
				p.logger.Warn("proxy discovery cycle failed", zap.Error(err))
			}
		}
	}
}
