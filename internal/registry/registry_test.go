package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/pricelens/harvest/pkg/types"
)

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "laptop", "laptop"},
		{"spaces become plus", "iPhone 15 Pro", "iPhone+15+Pro"},
		{"punctuation stripped", "iPhone 15 Pro!!", "iPhone+15+Pro"},
		{"whitespace collapsed", "  4k   tv  ", "4k+tv"},
		{"dashes kept", "usb-c hub", "usb-c+hub"},
		{"symbols stripped", "sony a7 (mark iv) @ $2,499", "sony+a7+mark+iv+2499"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeQuery(tt.input); got != tt.want {
				t.Errorf("SanitizeQuery(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestBuildSearchURLs_Amazon(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	urls, err := r.BuildSearchURLs("amazon", "iPhone 15 Pro!!", 2)
	if err != nil {
		t.Fatalf("BuildSearchURLs() failed: %v", err)
	}

	want := []string{
		"https://www.amazon.com/s?k=iPhone+15+Pro&ref=sr_pg_1",
		"https://www.amazon.com/s?k=iPhone+15+Pro&ref=sr_pg_2",
	}
	if len(urls) != len(want) {
		t.Fatalf("expected %d URLs, got %d", len(want), len(urls))
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("url[%d] = %q, want %q", i, urls[i], want[i])
		}
	}
}

func TestBuildSearchURLs_DistinctPages(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	urls, err := r.BuildSearchURLs("ebay", "ssd", 5)
	if err != nil {
		t.Fatalf("BuildSearchURLs() failed: %v", err)
	}
	if len(urls) != 5 {
		t.Fatalf("expected 5 URLs, got %d", len(urls))
	}
	seen := make(map[string]bool)
	for _, u := range urls {
		if seen[u] {
			t.Errorf("duplicate URL generated: %s", u)
		}
		seen[u] = true
	}
}

func TestBuildSearchURLs_UnknownKey(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	_, err = r.BuildSearchURLs("no-such-retailer", "tv", 1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListActive_PriorityOrdering(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	active := r.ListActive("", "")
	if len(active) != 15 {
		t.Fatalf("expected 15 active retailers, got %d", len(active))
	}

	lastRank := -1
	for _, rc := range active {
		rank := rc.Priority.Rank()
		if rank < lastRank {
			t.Errorf("retailer %s out of priority order", rc.Key)
		}
		lastRank = rank
	}
	if active[0].Priority != types.PriorityHigh {
		t.Errorf("first retailer should be high priority, got %s", active[0].Priority)
	}
}

func TestListActive_Filters(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	electronics := r.ListActive(types.CategoryElectronics, "")
	for _, rc := range electronics {
		if rc.Category != types.CategoryElectronics {
			t.Errorf("retailer %s has category %s, want electronics", rc.Key, rc.Category)
		}
	}
	if len(electronics) == 0 {
		t.Error("expected at least one electronics retailer")
	}

	high := r.ListActive("", types.PriorityHigh)
	if len(high) != 5 {
		t.Errorf("expected 5 high priority retailers, got %d", len(high))
	}
}

func TestSetStatus_ExcludesFromActive(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := r.SetStatus("ebay", types.StatusMaintenance); err != nil {
		t.Fatalf("SetStatus() failed: %v", err)
	}
	for _, rc := range r.ListActive("", "") {
		if rc.Key == "ebay" {
			t.Error("retailer in maintenance should not be listed active")
		}
	}

	rc, err := r.Get("ebay")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if rc.Status != types.StatusMaintenance {
		t.Errorf("status = %s, want maintenance", rc.Status)
	}
}

func TestAdd_InvalidTemplate(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	err = r.Add(&RetailerConfig{
		Key:               "broken",
		Name:              "Broken",
		Domain:            "broken.example",
		Category:          types.CategoryGeneral,
		Priority:          types.PriorityLow,
		Selectors:         map[string][]string{"title": {"h1"}},
		SearchURLTemplate: "https://broken.example/search?q=missing-placeholder",
		RateLimit:         time.Second,
		Status:            types.StatusActive,
	})
	if err == nil {
		t.Error("expected validation error for template without {query}")
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := r.SetStatus("nordstrom", types.StatusInactive); err != nil {
		t.Fatalf("SetStatus() failed: %v", err)
	}

	restored, err := NewFromCatalog(r.ExportAll())
	if err != nil {
		t.Fatalf("NewFromCatalog() failed: %v", err)
	}
	if restored.Len() != r.Len() {
		t.Fatalf("restored %d retailers, want %d", restored.Len(), r.Len())
	}

	for _, orig := range r.ExportAll().Retailers {
		got, err := restored.Get(orig.Key)
		if err != nil {
			t.Fatalf("restored registry missing %s", orig.Key)
		}
		if got.Status != orig.Status || got.Domain != orig.Domain ||
			got.SearchURLTemplate != orig.SearchURLTemplate ||
			got.Priority != orig.Priority || got.RateLimit != orig.RateLimit {
			t.Errorf("retailer %s not equivalent after round trip", orig.Key)
		}
		if len(got.Selectors) != len(orig.Selectors) {
			t.Errorf("retailer %s selector count changed after round trip", orig.Key)
		}
	}
}

func TestGetByDomain(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	tests := []struct {
		host    string
		wantKey string
		found   bool
	}{
		{"www.amazon.com", "amazon", true},
		{"amazon.com", "amazon", true},
		{"smile.amazon.com", "amazon", true},
		{"www.bhphotovideo.com", "bhphoto", true},
		{"example.org", "", false},
	}
	for _, tt := range tests {
		rc, ok := r.GetByDomain(tt.host)
		if ok != tt.found {
			t.Errorf("GetByDomain(%q) found = %v, want %v", tt.host, ok, tt.found)
			continue
		}
		if ok && rc.Key != tt.wantKey {
			t.Errorf("GetByDomain(%q) = %s, want %s", tt.host, rc.Key, tt.wantKey)
		}
	}
}
