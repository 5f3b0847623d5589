// Package engine orchestrates scraping strategies per URL: selection
// by learned score, retry with backoff, escalation through the cost
// ordering, and outcome bookkeeping.
package engine

import (
	"context"
	"time"

	"github.com/pricelens/harvest/internal/registry"
	"github.com/pricelens/harvest/pkg/types"
)

// Task is one URL to fetch together with its resolved retailer
// configuration.
type Task struct {
	Retailer *registry.RetailerConfig
	URL      string
}

// fetchResult is what a successful strategy attempt yields. Either
// HTML for the extraction layer or, for API strategies, ready
// products.
type fetchResult struct {
	HTML          string
	Products      []types.ProductRecord
	ProxyURL      string
	CaptchaSolved bool
}

// Strategy is one way of fetching a page. Implementations must honor
// the context deadline and return typed errors so the orchestrator can
// distinguish blocks from breakage.
type Strategy interface {
	Name() types.StrategyName
	Timeout() time.Duration
	Execute(ctx context.Context, task *Task) (*fetchResult, error)
}

// strategy defaults per the cost table. The full-browser variant waits
// longer for the page to go network-quiet before reading it.
const (
	defaultStrategyTimeout = 30 * time.Second
	fullBrowserTimeout     = 60 * time.Second
	defaultMaxRetries      = 3

	stealthNetworkIdleWait = 10 * time.Second
	fullNetworkIdleWait    = 30 * time.Second
)
