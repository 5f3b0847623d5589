package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthCheckAll probes every pooled proxy in bounded concurrent
// batches. Network calls run outside the pool lock; results come back
// through ReportOutcome so they obey the same FMax and reactivation
// rules as strategy traffic.
func (p *Pool) HealthCheckAll(ctx context.Context) {
	entries := p.Snapshot()
	if len(entries) == 0 {
		return
	}

	checked := 0
	for start := 0; start < len(entries); start += p.opts.HealthBatchSize {
		end := start + p.opts.HealthBatchSize
		if end > len(entries) {
			end = len(entries)
		}

		var wg sync.WaitGroup
		for _, entry := range entries[start:end] {
			wg.Add(1)
			go func(e *Entry) {
				defer wg.Done()
				p.checkOne(ctx, e)
			}(entry)
		}
		wg.Wait()
		checked += end - start

		if end < len(entries) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.opts.HealthBatchDelay):
			}
		}
	}

	p.mu.Lock()
	p.lastHealthRun = time.Now()
	p.mu.Unlock()

	stats := p.Stats()
	p.logger.Info("proxy health sweep complete",
		zap.Int("checked", checked),
		zap.Int("healthy", stats.Healthy),
		zap.Int("unhealthy", stats.Unhealthy))
}

func (p *Pool) checkOne(ctx context.Context, entry *Entry) {
	latency, err := p.checkProxy(ctx, entry)

	p.mu.Lock()
	if live, ok := p.entries[entry.URL]; ok {
		live.LastCheckedAt = time.Now()
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Debug("proxy health check failed",
			zap.String("proxy", entry.URL), zap.Error(err))
		p.ReportOutcome(entry.URL, false, 0)
		return
	}
	p.ReportOutcome(entry.URL, true, latency)
}

// httpCheck is the default probe: a timeboxed GET against the echo
// endpoint routed through the proxy.
func (p *Pool) httpCheck(ctx context.Context, entry *Entry) (time.Duration, error) {
	proxyURL, err := url.Parse(entry.URL)
	if err != nil {
		return 0, err
	}
	client := &http.Client{
		Timeout: p.opts.HealthTimeout,
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(proxyURL),
			DisableKeepAlives: true,
		},
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.opts.HealthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.opts.HealthCheckURL, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return time.Since(start), nil
}
