// Package registry is the typed source of truth for retailer
// configuration: per-site selectors, search URL templates, rate limits,
// and anti-bot hints consumed by the scraping strategies.
package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/pricelens/harvest/pkg/types"
)

// RetailerConfig describes one target e-commerce site. Instances are
// immutable once registered; status changes go through the registry.
type RetailerConfig struct {
	Key      string         `yaml:"key" json:"key"`
	Name     string         `yaml:"name" json:"name"`
	Domain   string         `yaml:"domain" json:"domain"`
	Category types.Category `yaml:"category" json:"category"`
	Priority types.Priority `yaml:"priority" json:"priority"`

	// Selectors maps a field name (title, price, rating, availability,
	// image, link, container) to an ordered fallback list; the first
	// selector that matches a non-empty value wins during extraction.
	Selectors map[string][]string `yaml:"selectors" json:"selectors"`

	// SearchURLTemplate carries {query} and {page} placeholders.
	SearchURLTemplate string `yaml:"search_url_template" json:"search_url_template"`
	BaseURL           string `yaml:"base_url" json:"base_url"`

	// RateLimit is the minimum spacing between requests to this domain.
	RateLimit  time.Duration `yaml:"rate_limit" json:"rate_limit"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`

	RequiresJS      bool     `yaml:"requires_js" json:"requires_js"`
	AntiBotMeasures []string `yaml:"anti_bot_measures,omitempty" json:"anti_bot_measures,omitempty"`

	// RequiredStrategy pins the orchestrator to a single strategy for
	// this site regardless of recorded success rates.
	RequiredStrategy types.StrategyName `yaml:"required_strategy,omitempty" json:"required_strategy,omitempty"`

	Currency string               `yaml:"currency" json:"currency"`
	Country  string               `yaml:"country" json:"country"`
	Status   types.RetailerStatus `yaml:"status" json:"status"`
}

// Validate checks a retailer configuration at registration time.
// Template and enum problems are configuration errors, surfaced here
// rather than at scrape time.
func (rc *RetailerConfig) Validate() error {
	if strings.TrimSpace(rc.Key) == "" {
		return fmt.Errorf("retailer key cannot be empty")
	}
	if strings.TrimSpace(rc.Domain) == "" {
		return fmt.Errorf("retailer %s: domain cannot be empty", rc.Key)
	}
	if !rc.Category.IsValid() {
		return fmt.Errorf("retailer %s: invalid category %q", rc.Key, rc.Category)
	}
	if !rc.Priority.IsValid() {
		return fmt.Errorf("retailer %s: invalid priority %q", rc.Key, rc.Priority)
	}
	if !rc.Status.IsValid() {
		return fmt.Errorf("retailer %s: invalid status %q", rc.Key, rc.Status)
	}
	if rc.SearchURLTemplate == "" {
		return fmt.Errorf("retailer %s: search_url_template is required", rc.Key)
	}
	if !strings.Contains(rc.SearchURLTemplate, "{query}") {
		return fmt.Errorf("retailer %s: search_url_template missing {query} placeholder", rc.Key)
	}
	if rc.RequiredStrategy != "" && !rc.RequiredStrategy.IsValid() {
		return fmt.Errorf("retailer %s: unknown required_strategy %q", rc.Key, rc.RequiredStrategy)
	}
	if len(rc.Selectors) == 0 {
		return fmt.Errorf("retailer %s: at least one selector list is required", rc.Key)
	}
	return nil
}

// clone returns a deep copy so registry internals never alias caller maps.
func (rc *RetailerConfig) clone() *RetailerConfig {
	out := *rc
	out.Selectors = make(map[string][]string, len(rc.Selectors))
	for field, list := range rc.Selectors {
		out.Selectors[field] = append([]string(nil), list...)
	}
	out.AntiBotMeasures = append([]string(nil), rc.AntiBotMeasures...)
	return &out
}

// Catalog is the serializable form of a registry, used for export,
// import, and the optional catalog override file.
type Catalog struct {
	Version   string            `yaml:"version" json:"version"`
	Retailers []*RetailerConfig `yaml:"retailers" json:"retailers"`
}
