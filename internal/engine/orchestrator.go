package engine

import (
	"context"
	"errors"
	"fmt"
	mathrand "math/rand"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pricelens/harvest/internal/extract"
	"github.com/pricelens/harvest/internal/metrics"
	"github.com/pricelens/harvest/internal/registry"
	"github.com/pricelens/harvest/pkg/types"
)

// Options tunes the orchestrator.
type Options struct {
	// BatchConcurrency caps concurrent sub-requests in ScrapeBatch.
	BatchConcurrency int
	// JitterMin/JitterMax bound the per-domain request jitter.
	JitterMin time.Duration
	JitterMax time.Duration
	// MinDomainDelay floors each retailer's configured rate limit.
	MinDomainDelay time.Duration
}

func (o *Options) applyDefaults() {
	if o.BatchConcurrency <= 0 {
		o.BatchConcurrency = 10
	}
}

// Engine picks, runs, escalates, and learns from scraping strategies.
// A Scrape call never panics outward and always produces a
// ScrapingResult.
type Engine struct {
	registry   *registry.Registry
	stats      *StatsBook
	limiter    *DomainLimiter
	extractor  *extract.Extractor
	strategies []Strategy
	collector  *metrics.Collector
	logger     *zap.Logger
	opts       Options

	// sleep is swapped out by tests to skip real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New assembles the orchestrator. Strategies must be given in cost
// order, cheapest first.
func New(reg *registry.Registry, strategies []Strategy, opts Options, collector *metrics.Collector, logger *zap.Logger) (*Engine, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrConfiguration)
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("%w: at least one strategy is required", ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()

	return &Engine{
		registry:   reg,
		stats:      NewStatsBook(),
		limiter:    NewDomainLimiter(opts.JitterMin, opts.JitterMax),
		extractor:  extract.New(),
		strategies: strategies,
		collector:  collector,
		logger:     logger,
		opts:       opts,
		sleep:      sleepCtx,
	}, nil
}

// Stats exposes the learned strategy statistics.
func (e *Engine) Stats() *StatsBook { return e.stats }

// Scrape fetches one URL, escalating through strategies as needed. It
// always returns a result; failures are described in result.Error.
func (e *Engine) Scrape(ctx context.Context, rawURL string) *types.ScrapingResult {
	task, err := e.resolveTask(rawURL)
	if err != nil {
		return &types.ScrapingResult{URL: rawURL, Error: err.Error()}
	}
	return e.scrapeTask(ctx, task)
}

// resolveTask maps a URL to its retailer config, falling back to
// generic defaults for unknown domains.
func (e *Engine) resolveTask(rawURL string) (*Task, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("%w: unparseable URL %q", ErrConfiguration, rawURL)
	}
	rc, ok := e.registry.GetByDomain(parsed.Host)
	if !ok {
		rc = genericRetailer(parsed.Host)
	}
	return &Task{Retailer: rc, URL: rawURL}, nil
}

func (e *Engine) scrapeTask(ctx context.Context, task *Task) (result *types.ScrapingResult) {
	start := time.Now()
	result = &types.ScrapingResult{URL: task.URL}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic during scrape",
				zap.String("url", task.URL), zap.Any("panic", r))
			result.Success = false
			result.Error = fmt.Sprintf("internal error: %v", r)
		}
		result.ResponseTime = time.Since(start)
		if e.collector != nil {
			e.collector.ObserveScrape(task.Retailer.Key, string(result.MethodUsed), result.Success, result.ResponseTime)
		}
	}()

	candidates := e.orderStrategies(task.Retailer)
	attempts := 0
	var lastErr error

	for i, strat := range candidates {
		if i > 0 {
			e.logger.Info("escalating strategy",
				zap.String("url", task.URL),
				zap.String("to", string(strat.Name())))
			if e.collector != nil {
				e.collector.Escalations.Inc()
			}
		}
		result.MethodUsed = strat.Name()

		outcome, err := e.runStrategy(ctx, task, strat, &attempts, result)
		if err == nil {
			result.Success = true
			result.Products = outcome
			result.RetryCount = attempts - 1
			return result
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}

	result.Success = false
	result.RetryCount = attempts
	if attempts > 0 {
		result.RetryCount = attempts - 1
	}
	if lastErr == nil {
		lastErr = ErrExhausted
	}
	result.Error = fmt.Errorf("%w: %v", ErrExhausted, lastErr).Error()
	return result
}

// runStrategy drives one strategy through its retry budget. It returns
// the extracted products on success; the error signals whether the
// budget ran out, the site blocked us, or the caller cancelled.
func (e *Engine) runStrategy(ctx context.Context, task *Task, strat Strategy, attempts *int, result *types.ScrapingResult) ([]types.ProductRecord, error) {
	maxRetries := task.Retailer.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	domain := task.Retailer.Domain

	rateLimit := task.Retailer.RateLimit
	if rateLimit < e.opts.MinDomainDelay {
		rateLimit = e.opts.MinDomainDelay
	}

	var lastErr error
	for try := 0; try < maxRetries; try++ {
		if err := e.limiter.Wait(ctx, domain, rateLimit); err != nil {
			return nil, err
		}

		timeout := strat.Timeout()
		if task.Retailer.Timeout > 0 {
			timeout = task.Retailer.Timeout
		}
		tryCtx, cancel := context.WithTimeout(ctx, timeout)

		tryStart := time.Now()
		fetched, err := strat.Execute(tryCtx, task)
		latency := time.Since(tryStart)
		cancel()

		if errors.Is(err, ErrNotSupported) {
			// The strategy cannot serve this domain; escalate without
			// touching the retry budget or the stats.
			return nil, err
		}

		var products []types.ProductRecord
		if err == nil {
			products, err = e.materialize(fetched, task)
		}

		*attempts++
		success := err == nil
		e.stats.RecordOutcome(domain, strat.Name(), success, latency)
		if e.collector != nil && try > 0 {
			e.collector.RetriesTotal.Inc()
		}

		if success {
			if fetched.CaptchaSolved {
				result.CaptchaSolved = true
				if e.collector != nil {
					e.collector.CaptchasSolved.Inc()
				}
			}
			result.ProxyUsed = fetched.ProxyURL
			return products, nil
		}
		lastErr = err
		e.logger.Warn("strategy attempt failed",
			zap.String("url", task.URL),
			zap.String("strategy", string(strat.Name())),
			zap.Int("attempt", try+1),
			zap.Error(err))

		if errors.Is(err, ErrAntiBot) {
			// Blocked outright; retrying the same strategy only burns
			// the proxy. Escalate now.
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if try < maxRetries-1 {
			backoff := time.Duration(1<<uint(try))*time.Second +
				time.Duration(1+mathrand.Intn(3))*time.Second
			if err := e.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// materialize turns a fetch result into product records, running the
// extractor when the strategy returned raw HTML.
func (e *Engine) materialize(fetched *fetchResult, task *Task) ([]types.ProductRecord, error) {
	if len(fetched.Products) > 0 {
		return fetched.Products, nil
	}
	return e.extractor.ExtractProducts(fetched.HTML, task.URL, task.Retailer)
}

// orderStrategies returns the escalation list for a retailer: the
// pinned strategy first if one is declared, otherwise the best-scoring
// strategy, then everything costlier in cost order.
func (e *Engine) orderStrategies(rc *registry.RetailerConfig) []Strategy {
	startIdx := 0
	if rc.RequiredStrategy != "" {
		for i, s := range e.strategies {
			if s.Name() == rc.RequiredStrategy {
				startIdx = i
				break
			}
		}
	} else {
		bestScore := -1.0
		for i, s := range e.strategies {
			if score := e.stats.Score(rc.Domain, s.Name()); score > bestScore {
				bestScore = score
				startIdx = i
			}
		}
	}
	return e.strategies[startIdx:]
}

// ScrapeBatch fetches URLs concurrently up to the batch cap and
// returns results in input order.
func (e *Engine) ScrapeBatch(ctx context.Context, urls []string) []*types.ScrapingResult {
	results := make([]*types.ScrapingResult, len(urls))
	sem := make(chan struct{}, e.opts.BatchConcurrency)
	var wg sync.WaitGroup

	for i, u := range urls {
		wg.Add(1)
		go func(idx int, target string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[idx] = &types.ScrapingResult{URL: target, Error: ctx.Err().Error()}
				return
			}
			defer func() { <-sem }()
			results[idx] = e.Scrape(ctx, target)
		}(i, u)
	}
	wg.Wait()
	return results
}

// Search expands a retailer search query into page URLs and scrapes
// them as a batch.
func (e *Engine) Search(ctx context.Context, retailerKey, query string, pages int) ([]*types.ScrapingResult, error) {
	urls, err := e.registry.BuildSearchURLs(retailerKey, query, pages)
	if err != nil {
		return nil, err
	}
	return e.ScrapeBatch(ctx, urls), nil
}

// genericRetailer covers domains absent from the registry with broad
// selectors and conservative pacing.
func genericRetailer(domain string) *registry.RetailerConfig {
	return &registry.RetailerConfig{
		Key:      domain,
		Name:     domain,
		Domain:   domain,
		Category: types.CategoryGeneral,
		Priority: types.PriorityLow,
		Selectors: map[string][]string{
			"title":        {"h1", ".product-title", ".title", "[itemprop=name]"},
			"price":        {".price", "[itemprop=price]", ".product-price", "span.amount"},
			"rating":       {".rating", "[itemprop=ratingValue]", ".stars"},
			"availability": {".availability", ".stock", "[itemprop=availability]"},
			"image":        {"img.product-image", "[itemprop=image]", "img"},
			"link":         {"a.product-link"},
		},
		RateLimit:  2 * time.Second,
		MaxRetries: defaultMaxRetries,
		Currency:   "USD",
		Status:     types.StatusActive,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
