package registry

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pricelens/harvest/pkg/types"
)

// ErrNotFound is returned when a retailer key is unknown.
var ErrNotFound = errors.New("retailer not found")

var (
	queryStripRe    = regexp.MustCompile(`[^\w\s-]`)
	queryCollapseRe = regexp.MustCompile(`\s+`)
)

// Registry holds the retailer catalog. All access goes through its
// methods; configs handed out are deep copies.
type Registry struct {
	mu        sync.RWMutex
	retailers map[string]*RetailerConfig
	byDomain  map[string]string
}

// New creates a registry seeded with the built-in catalog.
func New() (*Registry, error) {
	return NewFromCatalog(&Catalog{Version: "1", Retailers: builtinCatalog()})
}

// NewFromCatalog creates a registry from an explicit catalog. Invalid
// entries fail construction; a bad template is a startup error, never a
// runtime panic.
func NewFromCatalog(catalog *Catalog) (*Registry, error) {
	r := &Registry{
		retailers: make(map[string]*RetailerConfig, len(catalog.Retailers)),
		byDomain:  make(map[string]string, len(catalog.Retailers)),
	}
	for _, rc := range catalog.Retailers {
		if err := r.Add(rc); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LoadFile creates a registry from a YAML catalog file, used when
// RETAILER_CATALOG_PATH overrides the built-in catalog.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read retailer catalog: %w", err)
	}
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse retailer catalog %s: %w", path, err)
	}
	return NewFromCatalog(&catalog)
}

// Add registers a retailer. Adding an existing key replaces it.
func (r *Registry) Add(rc *RetailerConfig) error {
	if rc == nil {
		return fmt.Errorf("retailer config cannot be nil")
	}
	if err := rc.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retailers[rc.Key] = rc.clone()
	r.byDomain[rc.Domain] = rc.Key
	return nil
}

// Get returns the retailer for a key.
func (r *Registry) Get(key string) (*RetailerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.retailers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return rc.clone(), nil
}

// GetByDomain resolves a retailer from a request host. Subdomains match
// their registered parent domain (www.amazon.com -> amazon.com).
func (r *Registry) GetByDomain(host string) (*RetailerConfig, bool) {
	host = strings.ToLower(host)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for domain, key := range r.byDomain {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return r.retailers[key].clone(), true
		}
	}
	return nil, false
}

// ListActive returns active retailers, optionally filtered by category
// and priority, sorted high priority first with a stable key order
// within a tier.
func (r *Registry) ListActive(category types.Category, priority types.Priority) []*RetailerConfig {
	r.mu.RLock()
	var out []*RetailerConfig
	for _, rc := range r.retailers {
		if rc.Status != types.StatusActive {
			continue
		}
		if category != "" && rc.Category != category {
			continue
		}
		if priority != "" && rc.Priority != priority {
			continue
		}
		out = append(out, rc.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank(); ri != rj {
			return ri < rj
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// SetStatus changes a retailer's operational status.
func (r *Registry) SetStatus(key string, status types.RetailerStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid status %q", status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.retailers[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	rc.Status = status
	return nil
}

// Remove deletes a retailer from the registry.
func (r *Registry) Remove(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.retailers[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(r.byDomain, rc.Domain)
	delete(r.retailers, key)
	return nil
}

// BuildSearchURLs expands the retailer's search template for pages
// 1..pageCount with the sanitized query substituted.
func (r *Registry) BuildSearchURLs(key, query string, pageCount int) ([]string, error) {
	rc, err := r.Get(key)
	if err != nil {
		return nil, err
	}
	if pageCount < 1 {
		pageCount = 1
	}
	sanitized := SanitizeQuery(query)
	urls := make([]string, 0, pageCount)
	for page := 1; page <= pageCount; page++ {
		u := strings.ReplaceAll(rc.SearchURLTemplate, "{query}", sanitized)
		u = strings.ReplaceAll(u, "{page}", strconv.Itoa(page))
		urls = append(urls, u)
	}
	return urls, nil
}

// SanitizeQuery strips characters outside word/space/dash, collapses
// whitespace, and encodes spaces as '+'.
func SanitizeQuery(query string) string {
	q := queryStripRe.ReplaceAllString(query, "")
	q = queryCollapseRe.ReplaceAllString(strings.TrimSpace(q), " ")
	return strings.ReplaceAll(q, " ", "+")
}

// ExportAll returns the full catalog in serializable form. The export
// round-trips through NewFromCatalog to an equivalent registry.
func (r *Registry) ExportAll() *Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := &Catalog{Version: "1", Retailers: make([]*RetailerConfig, 0, len(r.retailers))}
	keys := make([]string, 0, len(r.retailers))
	for key := range r.retailers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		out.Retailers = append(out.Retailers, r.retailers[key].clone())
	}
	return out
}

// Len returns the number of registered retailers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.retailers)
}
