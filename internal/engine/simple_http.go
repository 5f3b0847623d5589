package engine

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/pricelens/harvest/internal/browser"
	"github.com/pricelens/harvest/internal/proxy"
	"github.com/pricelens/harvest/pkg/types"
)

// SimpleHTTPStrategy sends a single proxied GET with realistic headers
// and hands the body to the extraction layer. Proxy outcomes feed back
// into the pool.
type SimpleHTTPStrategy struct {
	pool   *proxy.Pool
	logger *zap.Logger
}

// NewSimpleHTTPStrategy builds the tier-2 strategy.
func NewSimpleHTTPStrategy(pool *proxy.Pool, logger *zap.Logger) *SimpleHTTPStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimpleHTTPStrategy{pool: pool, logger: logger}
}

func (s *SimpleHTTPStrategy) Name() types.StrategyName { return types.StrategySimpleHTTP }

func (s *SimpleHTTPStrategy) Timeout() time.Duration { return defaultStrategyTimeout }

func (s *SimpleHTTPStrategy) Execute(ctx context.Context, task *Task) (*fetchResult, error) {
	entry, err := s.pool.Acquire()
	if err != nil && !errors.Is(err, proxy.ErrNoProxies) {
		return nil, err
	}

	var proxyURL string
	transport := &http.Transport{DisableKeepAlives: true}
	if entry != nil {
		proxyURL = entry.URL
		parsed, perr := url.Parse(entry.URL)
		if perr != nil {
			return nil, fmt.Errorf("%w: proxy URL %q", ErrConfiguration, entry.URL)
		}
		transport.Proxy = http.ProxyURL(parsed)
	} else {
		s.logger.Debug("no healthy proxy, sending direct", zap.String("url", task.URL))
	}

	start := time.Now()
	html, err := s.fetch(ctx, transport, task.URL)
	elapsed := time.Since(start)

	if entry != nil {
		s.pool.ReportOutcome(entry.URL, err == nil, elapsed)
	}
	if err != nil {
		return nil, err
	}

	if marker, found := antiBotIndicator(html, task.Retailer.AntiBotMeasures); found {
		return nil, fmt.Errorf("%w: indicator %q", ErrAntiBot, marker)
	}
	return &fetchResult{HTML: html, ProxyURL: proxyURL}, nil
}

func (s *SimpleHTTPStrategy) fetch(ctx context.Context, transport *http.Transport, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}

	fp := browser.RandomFingerprint()
	req.Header.Set("User-Agent", fp.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", fp.Locale+",en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")

	client := &http.Client{Transport: transport}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body := resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, gerr := gzip.NewReader(resp.Body)
		if gerr != nil {
			return "", gerr
		}
		defer gz.Close()
		body = gz
	}
	data, err := io.ReadAll(io.LimitReader(body, 16<<20))
	if err != nil {
		return "", err
	}
	html := string(data)

	switch resp.StatusCode {
	case http.StatusOK:
		return html, nil
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		// Blocking statuses double as anti-bot signals when the body
		// carries an indicator.
		if marker, found := antiBotIndicator(html, nil); found {
			return "", fmt.Errorf("%w: status %d with indicator %q", ErrAntiBot, resp.StatusCode, marker)
		}
		return "", fmt.Errorf("%w: status %d", ErrAntiBot, resp.StatusCode)
	default:
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}
