// Package types defines the public domain types shared across the
// harvest engine: retailer classification, scraping strategies, and the
// normalized records produced by extraction.
package types

import (
	"fmt"
	"time"
)

// Category classifies a retailer by its primary merchandise.
type Category string

const (
	CategoryGeneral         Category = "general"
	CategoryElectronics     Category = "electronics"
	CategoryFashion         Category = "fashion"
	CategoryHomeImprovement Category = "home-improvement"
	CategoryWholesale       Category = "wholesale"
	CategorySpecialty       Category = "specialty"
)

// ValidCategories returns all valid retailer categories.
func ValidCategories() []Category {
	return []Category{
		CategoryGeneral, CategoryElectronics, CategoryFashion,
		CategoryHomeImprovement, CategoryWholesale, CategorySpecialty,
	}
}

// IsValid checks if the category is a known value.
func (c Category) IsValid() bool {
	for _, valid := range ValidCategories() {
		if c == valid {
			return true
		}
	}
	return false
}

// Priority controls scheduling order across retailers.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the numeric rank of a priority; lower sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// IsValid checks if the priority is a known value.
func (p Priority) IsValid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// RetailerStatus represents the operational state of a retailer entry.
type RetailerStatus string

const (
	StatusActive      RetailerStatus = "active"
	StatusInactive    RetailerStatus = "inactive"
	StatusMaintenance RetailerStatus = "maintenance"
)

// IsValid checks if the status is a known value.
func (s RetailerStatus) IsValid() bool {
	return s == StatusActive || s == StatusInactive || s == StatusMaintenance
}

// StrategyName identifies one of the fixed set of scraping tactics,
// ordered by increasing cost tier.
type StrategyName string

const (
	StrategyDirectAPI      StrategyName = "direct_api"
	StrategySimpleHTTP     StrategyName = "simple_http"
	StrategyStealthBrowser StrategyName = "stealth_browser"
	StrategyFullBrowser    StrategyName = "full_browser"
)

// StrategyOrder returns the strategies in escalation (cost) order.
func StrategyOrder() []StrategyName {
	return []StrategyName{
		StrategyDirectAPI, StrategySimpleHTTP,
		StrategyStealthBrowser, StrategyFullBrowser,
	}
}

// Tier returns the cost tier of the strategy (1 is cheapest).
func (s StrategyName) Tier() int {
	switch s {
	case StrategyDirectAPI:
		return 1
	case StrategySimpleHTTP:
		return 2
	case StrategyStealthBrowser:
		return 3
	case StrategyFullBrowser:
		return 4
	default:
		return 0
	}
}

// IsValid checks if the strategy name is a known value.
func (s StrategyName) IsValid() bool {
	return s.Tier() > 0
}

// ProductRecord is the normalized output of extracting one product
// listing from a retailer page.
type ProductRecord struct {
	Title        string    `json:"title" yaml:"title"`
	Price        float64   `json:"price" yaml:"price"`
	Currency     string    `json:"currency" yaml:"currency"`
	Rating       *float64  `json:"rating,omitempty" yaml:"rating,omitempty"`
	Availability string    `json:"availability,omitempty" yaml:"availability,omitempty"`
	Description  string    `json:"description,omitempty" yaml:"description,omitempty"`
	ImageURLs    []string  `json:"image_urls,omitempty" yaml:"image_urls,omitempty"`
	SourceURL    string    `json:"source_url" yaml:"source_url"`
	RetailerKey  string    `json:"retailer_key" yaml:"retailer_key"`
	ExtractedAt  time.Time `json:"extracted_at" yaml:"extracted_at"`
}

// Validate checks the minimum contract for an extracted record: a record
// is usable when at least one of title or price is present.
func (p *ProductRecord) Validate() error {
	if p.Title == "" && p.Price == 0 {
		return fmt.Errorf("record from %s has neither title nor price", p.SourceURL)
	}
	return nil
}

// ScrapingResult describes the terminal outcome of scraping one URL.
// Success is false when every strategy was exhausted; Error then carries
// the terminal condition.
type ScrapingResult struct {
	Success       bool            `json:"success"`
	URL           string          `json:"url"`
	MethodUsed    StrategyName    `json:"method_used,omitempty"`
	ProxyUsed     string          `json:"proxy_used,omitempty"`
	CaptchaSolved bool            `json:"captcha_solved"`
	ResponseTime  time.Duration   `json:"response_time"`
	RetryCount    int             `json:"retry_count"`
	Error         string          `json:"error,omitempty"`
	Products      []ProductRecord `json:"products,omitempty"`
}

// First returns the first extracted product, or nil when none were found.
func (r *ScrapingResult) First() *ProductRecord {
	if len(r.Products) == 0 {
		return nil
	}
	return &r.Products[0]
}
