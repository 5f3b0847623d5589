package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// discoveryClient is package-level so tests can point it at a local
// server.
var discoveryClient = &http.Client{Timeout: 30 * time.Second}

// RefreshFromSources pulls the configured proxy-list sources, parses
// them, and adds previously unknown proxies to the pool up to
// DiscoveryCap per cycle. Already-pooled proxies keep their health
// records. Returns the number of proxies added.
func (p *Pool) RefreshFromSources(ctx context.Context) (int, error) {
	if len(p.opts.DiscoveryURLs) == 0 {
		return 0, nil
	}

	seen := make(map[string]bool)
	added := 0
	var lastErr error

	for _, source := range p.opts.DiscoveryURLs {
		if added >= p.opts.DiscoveryCap {
			break
		}
		candidates, err := fetchProxyList(ctx, source)
		if err != nil {
			p.logger.Warn("proxy source fetch failed",
				zap.String("source", source), zap.Error(err))
			lastErr = err
			continue
		}
		for _, raw := range candidates {
			if added >= p.opts.DiscoveryCap {
				break
			}
			entry, err := ParseProxyURL(raw)
			if err != nil {
				continue
			}
			if seen[entry.URL] {
				continue
			}
			seen[entry.URL] = true

			p.mu.Lock()
			_, exists := p.entries[entry.URL]
			p.mu.Unlock()
			if exists {
				continue
			}
			if err := p.Add(entry); err == nil {
				added++
			}
		}
	}

	p.mu.Lock()
	p.lastDiscovery = time.Now()
	p.mu.Unlock()

	if added > 0 {
		p.logger.Info("proxy discovery complete", zap.Int("added", added))
	}
	if added == 0 && lastErr != nil {
		return 0, fmt.Errorf("all proxy sources failed: %w", lastErr)
	}
	return added, nil
}

// fetchProxyList downloads one source and returns its candidate lines.
// Sources are plain text, one proxy per line, with # comments.
func fetchProxyList(ctx context.Context, source string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := discoveryClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy source returned status %d", resp.StatusCode)
	}
	return parseProxyList(resp.Body), nil
}

func parseProxyList(r io.Reader) []string {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
