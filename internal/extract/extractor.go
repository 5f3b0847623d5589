// Package extract applies a retailer's ordered fallback selectors to
// raw HTML and produces normalized product records.
package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pricelens/harvest/internal/registry"
	"github.com/pricelens/harvest/pkg/types"
)

// MaxImageURLs bounds the image list collected per record.
const MaxImageURLs = 5

// Extractor turns retailer pages into ProductRecords.
type Extractor struct {
	maxImages int
}

// New creates an extractor with default bounds.
func New() *Extractor {
	return &Extractor{maxImages: MaxImageURLs}
}

// ExtractProducts parses the HTML and extracts one record per product
// card matched by the retailer's container selectors. When no container
// selector matches, the whole document is treated as a single listing.
func (e *Extractor) ExtractProducts(html, pageURL string, rc *registry.RetailerConfig) ([]types.ProductRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	containers := e.findContainers(doc, rc)
	records := make([]types.ProductRecord, 0, len(containers))
	for _, sel := range containers {
		record := e.extractRecord(sel, pageURL, rc)
		if record.Validate() != nil {
			continue
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no product records extracted from %s", pageURL)
	}
	return records, nil
}

// findContainers returns the matched product card selections, or the
// document root when no container selector hits.
func (e *Extractor) findContainers(doc *goquery.Document, rc *registry.RetailerConfig) []*goquery.Selection {
	for _, selector := range rc.Selectors["container"] {
		matched := doc.Find(selector)
		if matched.Length() == 0 {
			continue
		}
		out := make([]*goquery.Selection, 0, matched.Length())
		matched.Each(func(_ int, s *goquery.Selection) {
			out = append(out, s)
		})
		return out
	}
	return []*goquery.Selection{doc.Selection}
}

func (e *Extractor) extractRecord(root *goquery.Selection, pageURL string, rc *registry.RetailerConfig) types.ProductRecord {
	record := types.ProductRecord{
		Currency:    rc.Currency,
		SourceURL:   pageURL,
		RetailerKey: rc.Key,
		ExtractedAt: time.Now().UTC(),
	}

	record.Title = firstText(root, rc.Selectors["title"])
	record.Description = firstText(root, rc.Selectors["description"])
	record.Availability = firstText(root, rc.Selectors["availability"])

	if priceText := firstText(root, rc.Selectors["price"]); priceText != "" {
		if amount, code, ok := NormalizePrice(priceText, rc.Currency); ok {
			record.Price = amount
			record.Currency = code
		}
	}
	if ratingText := firstText(root, rc.Selectors["rating"]); ratingText != "" {
		record.Rating = NormalizeRating(ratingText)
	}

	record.ImageURLs = e.collectImages(root, pageURL, rc.Selectors["image"])

	if link := firstAttr(root, rc.Selectors["link"], "href"); link != "" {
		if resolved := ResolveURL(pageURL, link); resolved != "" {
			record.SourceURL = resolved
		}
	}
	return record
}

// collectImages gathers up to maxImages absolute image URLs, skipping
// data: URIs and duplicates.
func (e *Extractor) collectImages(root *goquery.Selection, pageURL string, selectors []string) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, selector := range selectors {
		root.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			src, ok := s.Attr("src")
			if !ok || src == "" {
				src, _ = s.Attr("content")
			}
			if resolved := ResolveURL(pageURL, src); resolved != "" && !seen[resolved] {
				seen[resolved] = true
				urls = append(urls, resolved)
			}
			return len(urls) < e.maxImages
		})
		if len(urls) >= e.maxImages {
			break
		}
	}
	return urls
}

// firstText tries each selector in order and returns the first
// non-empty trimmed text.
func firstText(root *goquery.Selection, selectors []string) string {
	for _, selector := range selectors {
		found := root.Find(selector)
		if found.Length() == 0 {
			continue
		}
		if text := strings.TrimSpace(found.First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// firstAttr tries each selector in order and returns the first
// non-empty attribute value.
func firstAttr(root *goquery.Selection, selectors []string, attr string) string {
	for _, selector := range selectors {
		found := root.Find(selector)
		if found.Length() == 0 {
			continue
		}
		if val, ok := found.First().Attr(attr); ok && strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
