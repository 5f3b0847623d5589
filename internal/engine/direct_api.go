package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pricelens/harvest/pkg/types"
)

// apiProbePaths are the well-known product search endpoints tried in
// order. Most retailers expose none of them publicly, so this strategy
// usually reports ErrNotSupported and the orchestrator escalates
// without burning retries.
var apiProbePaths = []string{
	"/api/products/search",
	"/api/v1/search",
	"/search.json",
}

// DirectAPIStrategy probes JSON search endpoints before any HTML
// scraping is attempted.
type DirectAPIStrategy struct {
	client *http.Client

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDirectAPIStrategy builds the tier-1 strategy.
func NewDirectAPIStrategy() *DirectAPIStrategy {
	return &DirectAPIStrategy{
		client: &http.Client{Timeout: defaultStrategyTimeout},
		sleep:  sleepCtx,
	}
}

func (s *DirectAPIStrategy) Name() types.StrategyName { return types.StrategyDirectAPI }

func (s *DirectAPIStrategy) Timeout() time.Duration { return defaultStrategyTimeout }

func (s *DirectAPIStrategy) Execute(ctx context.Context, task *Task) (*fetchResult, error) {
	target, err := url.Parse(task.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: bad URL %q", ErrConfiguration, task.URL)
	}
	query := target.Query().Get("k")
	if query == "" {
		query = target.Query().Get("q")
	}

	for i, path := range apiProbePaths {
		// Consecutive probes hit the same domain, so they honor its
		// rate limit just like full page fetches.
		if i > 0 && task.Retailer.RateLimit > 0 {
			if err := s.sleep(ctx, task.Retailer.RateLimit); err != nil {
				return nil, err
			}
		}
		probe := fmt.Sprintf("%s://%s%s", target.Scheme, target.Host, path)
		if query != "" {
			probe += "?q=" + url.QueryEscape(query)
		}
		products, ok := s.probe(ctx, probe, task)
		if ok {
			return &fetchResult{Products: products}, nil
		}
	}
	return nil, ErrNotSupported
}

// probe hits one candidate endpoint. Success requires a 200 JSON
// response whose payload yields at least one usable product.
func (s *DirectAPIStrategy) probe(ctx context.Context, probeURL string, task *Task) ([]types.ProductRecord, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return nil, false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "json") {
		return nil, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, false
	}

	products := productsFromJSON(body, task)
	return products, len(products) > 0
}

// productsFromJSON walks common API response shapes: a top-level
// array, or an object with a products/results/items array. Entries
// need at least a recognizable title or price.
func productsFromJSON(body []byte, task *Task) []types.ProductRecord {
	var root interface{}
	if err := json.Unmarshal(body, &root); err != nil {
		return nil
	}

	items, ok := root.([]interface{})
	if !ok {
		obj, isObj := root.(map[string]interface{})
		if !isObj {
			return nil
		}
		for _, key := range []string{"products", "results", "items", "data"} {
			if arr, found := obj[key].([]interface{}); found {
				items = arr
				break
			}
		}
	}

	var out []types.ProductRecord
	now := time.Now()
	for _, item := range items {
		fields, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		rec := types.ProductRecord{
			RetailerKey: task.Retailer.Key,
			SourceURL:   task.URL,
			Currency:    task.Retailer.Currency,
			ExtractedAt: now,
		}
		rec.Title = firstString(fields, "title", "name", "product_name")
		rec.Price = firstNumber(fields, "price", "current_price", "sale_price")
		rec.Availability = firstString(fields, "availability", "stock_status")
		if link := firstString(fields, "url", "link", "product_url"); link != "" {
			rec.SourceURL = link
		}
		if img := firstString(fields, "image", "image_url", "thumbnail"); img != "" {
			rec.ImageURLs = []string{img}
		}
		if err := rec.Validate(); err == nil {
			out = append(out, rec)
		}
	}
	return out
}

func firstString(fields map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := fields[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func firstNumber(fields map[string]interface{}, keys ...string) float64 {
	for _, key := range keys {
		switch v := fields[key].(type) {
		case float64:
			return v
		case string:
			if f, err := strconv.ParseFloat(strings.TrimLeft(v, "$€£"), 64); err == nil {
				return f
			}
		}
	}
	return 0
}
