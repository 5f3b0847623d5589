package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pricelens/harvest/internal/registry"
	"github.com/pricelens/harvest/pkg/types"
)

const productHTML = `<html><body>
  <h2 class="name">USB Hub</h2>
  <span class="price">$17.50</span>
</body></html>`

// scriptedStrategy lets tests dictate each attempt's outcome.
type scriptedStrategy struct {
	name  types.StrategyName
	fn    func(call int, task *Task) (*fetchResult, error)
	calls int32
}

func (s *scriptedStrategy) Name() types.StrategyName { return s.name }
func (s *scriptedStrategy) Timeout() time.Duration   { return time.Second }
func (s *scriptedStrategy) Execute(_ context.Context, task *Task) (*fetchResult, error) {
	call := int(atomic.AddInt32(&s.calls, 1))
	return s.fn(call, task)
}

func okFetch() (*fetchResult, error) {
	return &fetchResult{HTML: productHTML, ProxyURL: "http://p1.example:3128"}, nil
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.NewFromCatalog(&registry.Catalog{Version: "1"})
	if err != nil {
		t.Fatalf("empty registry: %v", err)
	}
	err = reg.Add(&registry.RetailerConfig{
		Key:      "shop",
		Name:     "Shop",
		Domain:   "shop.example",
		Category: types.CategoryGeneral,
		Priority: types.PriorityMedium,
		Selectors: map[string][]string{
			"title": {"h2.name"},
			"price": {"span.price"},
		},
		SearchURLTemplate: "https://shop.example/s?q={query}&page={page}",
		RateLimit:         time.Millisecond,
		MaxRetries:        3,
		Currency:          "USD",
		Country:           "US",
		Status:            types.StatusActive,
	})
	if err != nil {
		t.Fatalf("seeding registry: %v", err)
	}
	return reg
}

func testEngine(t *testing.T, reg *registry.Registry, strategies ...Strategy) *Engine {
	t.Helper()
	e, err := New(reg, strategies, Options{
		JitterMin: time.Microsecond,
		JitterMax: 2 * time.Microsecond,
	}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func TestScrape_HealthyPath(t *testing.T) {
	simple := &scriptedStrategy{name: types.StrategySimpleHTTP, fn: func(int, *Task) (*fetchResult, error) {
		return okFetch()
	}}
	e := testEngine(t, testRegistry(t), simple)

	result := e.Scrape(context.Background(), "https://shop.example/p/1")
	if !result.Success {
		t.Fatalf("scrape failed: %s", result.Error)
	}
	if result.MethodUsed != types.StrategySimpleHTTP {
		t.Errorf("method = %s", result.MethodUsed)
	}
	if result.ProxyUsed != "http://p1.example:3128" {
		t.Errorf("proxy = %s", result.ProxyUsed)
	}
	if result.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", result.RetryCount)
	}
	if p := result.First(); p == nil || p.Title != "USB Hub" || p.Price != 17.50 {
		t.Errorf("unexpected product: %+v", p)
	}

	stat := e.Stats().Get("shop.example", types.StrategySimpleHTTP)
	if stat.Attempts != 1 || stat.Successes != 1 {
		t.Errorf("stat = %+v", stat)
	}
}

func TestScrape_AntiBotEscalatesWithoutConsumingRetries(t *testing.T) {
	simple := &scriptedStrategy{name: types.StrategySimpleHTTP, fn: func(int, *Task) (*fetchResult, error) {
		return nil, fmt.Errorf("%w: indicator %q", ErrAntiBot, "captcha")
	}}
	stealth := &scriptedStrategy{name: types.StrategyStealthBrowser, fn: func(int, *Task) (*fetchResult, error) {
		return &fetchResult{HTML: productHTML, CaptchaSolved: true}, nil
	}}
	e := testEngine(t, testRegistry(t), simple, stealth)

	result := e.Scrape(context.Background(), "https://shop.example/p/2")
	if !result.Success {
		t.Fatalf("scrape failed: %s", result.Error)
	}
	if result.MethodUsed != types.StrategyStealthBrowser {
		t.Errorf("method = %s, want stealth_browser", result.MethodUsed)
	}
	if !result.CaptchaSolved {
		t.Error("captchaSolved not propagated")
	}
	// Anti-bot skips the remaining simple_http retries.
	if simple.calls != 1 {
		t.Errorf("simple_http attempts = %d, want 1", simple.calls)
	}

	simpleStat := e.Stats().Get("shop.example", types.StrategySimpleHTTP)
	if simpleStat.Attempts != 1 || simpleStat.Successes != 0 {
		t.Errorf("simple_http stat = %+v", simpleStat)
	}
	stealthStat := e.Stats().Get("shop.example", types.StrategyStealthBrowser)
	if stealthStat.Attempts != 1 || stealthStat.Successes != 1 {
		t.Errorf("stealth stat = %+v", stealthStat)
	}
}

func TestScrape_NotSupportedSkipsRetryBudgetAndStats(t *testing.T) {
	api := &scriptedStrategy{name: types.StrategyDirectAPI, fn: func(int, *Task) (*fetchResult, error) {
		return nil, ErrNotSupported
	}}
	simple := &scriptedStrategy{name: types.StrategySimpleHTTP, fn: func(int, *Task) (*fetchResult, error) {
		return okFetch()
	}}
	e := testEngine(t, testRegistry(t), api, simple)

	result := e.Scrape(context.Background(), "https://shop.example/p/3")
	if !result.Success {
		t.Fatalf("scrape failed: %s", result.Error)
	}
	if api.calls != 1 {
		t.Errorf("direct_api probes = %d, want 1", api.calls)
	}
	if result.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0 (probe does not consume budget)", result.RetryCount)
	}
	apiStat := e.Stats().Get("shop.example", types.StrategyDirectAPI)
	if apiStat.Attempts != 0 {
		t.Errorf("unsupported probe recorded in stats: %+v", apiStat)
	}
}

func TestScrape_RetriesThenExhausts(t *testing.T) {
	boom := errors.New("connection reset")
	simple := &scriptedStrategy{name: types.StrategySimpleHTTP, fn: func(int, *Task) (*fetchResult, error) {
		return nil, boom
	}}
	stealth := &scriptedStrategy{name: types.StrategyStealthBrowser, fn: func(int, *Task) (*fetchResult, error) {
		return nil, boom
	}}
	e := testEngine(t, testRegistry(t), simple, stealth)

	result := e.Scrape(context.Background(), "https://shop.example/p/4")
	if result.Success {
		t.Fatal("scrape should have failed")
	}
	if simple.calls != 3 || stealth.calls != 3 {
		t.Errorf("attempts = %d/%d, want 3/3", simple.calls, stealth.calls)
	}
	// retryCount ≤ sum of retry budgets over strategies tried.
	if result.RetryCount > 6 {
		t.Errorf("retry count = %d, exceeds total budget", result.RetryCount)
	}
	if !strings.Contains(result.Error, ErrExhausted.Error()) {
		t.Errorf("error = %q, want exhaustion", result.Error)
	}
}

func TestScrape_PinnedStrategySkipsCheaperTiers(t *testing.T) {
	reg := testRegistry(t)
	err := reg.Add(&registry.RetailerConfig{
		Key:      "fortress",
		Name:     "Fortress",
		Domain:   "fortress.example",
		Category: types.CategoryGeneral,
		Priority: types.PriorityHigh,
		Selectors: map[string][]string{
			"title": {"h2.name"},
			"price": {"span.price"},
		},
		SearchURLTemplate: "https://fortress.example/s?q={query}&page={page}",
		RateLimit:         time.Millisecond,
		MaxRetries:        1,
		RequiredStrategy:  types.StrategyStealthBrowser,
		Currency:          "USD",
		Status:            types.StatusActive,
	})
	if err != nil {
		t.Fatalf("seeding registry: %v", err)
	}

	simple := &scriptedStrategy{name: types.StrategySimpleHTTP, fn: func(int, *Task) (*fetchResult, error) {
		return okFetch()
	}}
	stealth := &scriptedStrategy{name: types.StrategyStealthBrowser, fn: func(int, *Task) (*fetchResult, error) {
		return okFetch()
	}}
	e := testEngine(t, reg, simple, stealth)

	result := e.Scrape(context.Background(), "https://fortress.example/p/9")
	if !result.Success {
		t.Fatalf("scrape failed: %s", result.Error)
	}
	if simple.calls != 0 {
		t.Errorf("pinned retailer ran simple_http %d times", simple.calls)
	}
	if result.MethodUsed != types.StrategyStealthBrowser {
		t.Errorf("method = %s", result.MethodUsed)
	}
}

func TestScrape_LearnedScoreSkipsFailingStrategy(t *testing.T) {
	simple := &scriptedStrategy{name: types.StrategySimpleHTTP, fn: func(int, *Task) (*fetchResult, error) {
		return nil, errors.New("blocked")
	}}
	stealth := &scriptedStrategy{name: types.StrategyStealthBrowser, fn: func(int, *Task) (*fetchResult, error) {
		return okFetch()
	}}
	e := testEngine(t, testRegistry(t), simple, stealth)

	// Teach the book that simple_http never works on this domain.
	for i := 0; i < 10; i++ {
		e.Stats().RecordOutcome("shop.example", types.StrategySimpleHTTP, false, time.Millisecond)
		e.Stats().RecordOutcome("shop.example", types.StrategyStealthBrowser, true, time.Millisecond)
	}

	result := e.Scrape(context.Background(), "https://shop.example/p/5")
	if !result.Success {
		t.Fatalf("scrape failed: %s", result.Error)
	}
	if simple.calls != 0 {
		t.Errorf("scored-out strategy still ran %d times", simple.calls)
	}
}

func TestScrape_NeverPanics(t *testing.T) {
	simple := &scriptedStrategy{name: types.StrategySimpleHTTP, fn: func(int, *Task) (*fetchResult, error) {
		panic("selector engine blew up")
	}}
	e := testEngine(t, testRegistry(t), simple)

	result := e.Scrape(context.Background(), "https://shop.example/p/6")
	if result.Success {
		t.Fatal("panicking scrape reported success")
	}
	if !strings.Contains(result.Error, "internal error") {
		t.Errorf("error = %q, want internal error wrapper", result.Error)
	}
}

func TestScrape_UnknownDomainUsesGenericConfig(t *testing.T) {
	var seenKey string
	simple := &scriptedStrategy{name: types.StrategySimpleHTTP, fn: func(_ int, task *Task) (*fetchResult, error) {
		seenKey = task.Retailer.Key
		return &fetchResult{HTML: `<h1>Thing</h1><span class="price">$3</span>`}, nil
	}}
	e := testEngine(t, testRegistry(t), simple)

	result := e.Scrape(context.Background(), "https://unknown-shop.example/p/1")
	if !result.Success {
		t.Fatalf("scrape failed: %s", result.Error)
	}
	if seenKey != "unknown-shop.example" {
		t.Errorf("generic config key = %q", seenKey)
	}
}

func TestScrapeBatch_OrderAndCap(t *testing.T) {
	var inFlight, peak int32
	simple := &scriptedStrategy{name: types.StrategySimpleHTTP, fn: func(int, *Task) (*fetchResult, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return okFetch()
	}}

	reg := testRegistry(t)
	e, err := New(reg, []Strategy{simple}, Options{
		BatchConcurrency: 2,
		JitterMin:        time.Microsecond,
		JitterMax:        2 * time.Microsecond,
	}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	e.sleep = func(context.Context, time.Duration) error { return nil }

	urls := []string{
		"https://a.example/1", "https://b.example/2", "https://c.example/3",
		"https://d.example/4", "https://e.example/5",
	}
	results := e.ScrapeBatch(context.Background(), urls)

	if len(results) != len(urls) {
		t.Fatalf("got %d results", len(results))
	}
	for i, r := range results {
		if r == nil || r.URL != urls[i] {
			t.Errorf("result %d out of order: %+v", i, r)
		}
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, cap is 2", peak)
	}
}

func TestSearch_BuildsPagedURLs(t *testing.T) {
	var mu sync.Mutex
	var urls []string
	simple := &scriptedStrategy{name: types.StrategySimpleHTTP, fn: func(_ int, task *Task) (*fetchResult, error) {
		mu.Lock()
		urls = append(urls, task.URL)
		mu.Unlock()
		return okFetch()
	}}
	e := testEngine(t, testRegistry(t), simple)

	results, err := e.Search(context.Background(), "shop", "usb hub", 2)
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if len(urls) != 2 || urls[0] == urls[1] {
		t.Errorf("page URLs not distinct: %v", urls)
	}
	for _, u := range urls {
		if !strings.Contains(u, "q=usb+hub") {
			t.Errorf("sanitized query missing from %q", u)
		}
	}
}

func TestSearch_UnknownRetailer(t *testing.T) {
	simple := &scriptedStrategy{name: types.StrategySimpleHTTP, fn: func(int, *Task) (*fetchResult, error) {
		return okFetch()
	}}
	e := testEngine(t, testRegistry(t), simple)
	if _, err := e.Search(context.Background(), "nope", "q", 1); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
