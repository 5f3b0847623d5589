// Package config provides the engine's configuration: a single Settings
// object loaded from YAML with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the single configuration object consumed by the
// composition root. Zero values are replaced by production defaults in
// ApplyDefaults.
type Settings struct {
	// Browser session management
	MaxConcurrentSessions int           `yaml:"max_concurrent_sessions" json:"max_concurrent_sessions"`
	BrowserHeadless       *bool         `yaml:"browser_headless,omitempty" json:"browser_headless,omitempty"`
	BrowserTimeout        time.Duration `yaml:"browser_timeout" json:"browser_timeout"`

	// Proxy pool
	HealthInterval     time.Duration `yaml:"health_interval" json:"health_interval"`
	DiscoveryInterval  time.Duration `yaml:"discovery_interval" json:"discovery_interval"`
	FMax               int           `yaml:"f_max" json:"f_max"`
	ProxyDiscoveryURLs []string      `yaml:"proxy_discovery_urls,omitempty" json:"proxy_discovery_urls,omitempty"`
	HealthCheckURL     string        `yaml:"health_check_url,omitempty" json:"health_check_url,omitempty"`

	// Pacing
	PerDomainMinDelay time.Duration `yaml:"per_domain_min_delay" json:"per_domain_min_delay"`
	JitterMin         time.Duration `yaml:"jitter_min" json:"jitter_min"`
	JitterMax         time.Duration `yaml:"jitter_max" json:"jitter_max"`

	// Batch scraping
	BatchConcurrency int `yaml:"batch_concurrency" json:"batch_concurrency"`

	// Retailer catalog override; empty uses the built-in catalog.
	RetailerCatalogPath string `yaml:"retailer_catalog_path,omitempty" json:"retailer_catalog_path,omitempty"`

	// External collaborators
	RedisAddr         string `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
	RedisPassword     string `yaml:"redis_password,omitempty" json:"redis_password,omitempty"`
	RedisDB           int    `yaml:"redis_db" json:"redis_db"`
	UpstreamConfPath  string `yaml:"upstream_conf_path,omitempty" json:"upstream_conf_path,omitempty"`
	CaptchaServiceURL string `yaml:"captcha_service_url,omitempty" json:"captcha_service_url,omitempty"`

	// Admin surface
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// Logging: "debug", "info", "warn", "error"
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// Default configuration values.
const (
	DefaultMaxConcurrentSessions = 3
	DefaultBrowserTimeout        = 30 * time.Second
	DefaultHealthInterval        = 60 * time.Second
	DefaultDiscoveryInterval     = time.Hour
	DefaultFMax                  = 3
	DefaultPerDomainMinDelay     = 2 * time.Second
	DefaultJitterMin             = 500 * time.Millisecond
	DefaultJitterMax             = 3 * time.Second
	DefaultBatchConcurrency      = 10
	DefaultHealthCheckURL        = "https://httpbin.org/ip"
	DefaultListenAddr            = ":8080"
)

// Default returns a Settings populated with production defaults.
func Default() *Settings {
	s := &Settings{}
	s.ApplyDefaults()
	return s
}

// ApplyDefaults fills unset fields with production defaults.
func (s *Settings) ApplyDefaults() {
	if s.MaxConcurrentSessions <= 0 {
		s.MaxConcurrentSessions = DefaultMaxConcurrentSessions
	}
	if s.BrowserHeadless == nil {
		headless := true
		s.BrowserHeadless = &headless
	}
	if s.BrowserTimeout <= 0 {
		s.BrowserTimeout = DefaultBrowserTimeout
	}
	if s.HealthInterval <= 0 {
		s.HealthInterval = DefaultHealthInterval
	}
	if s.DiscoveryInterval <= 0 {
		s.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if s.FMax <= 0 {
		s.FMax = DefaultFMax
	}
	if s.PerDomainMinDelay <= 0 {
		s.PerDomainMinDelay = DefaultPerDomainMinDelay
	}
	if s.JitterMin <= 0 {
		s.JitterMin = DefaultJitterMin
	}
	if s.JitterMax <= 0 {
		s.JitterMax = DefaultJitterMax
	}
	if s.BatchConcurrency <= 0 {
		s.BatchConcurrency = DefaultBatchConcurrency
	}
	if s.HealthCheckURL == "" {
		s.HealthCheckURL = DefaultHealthCheckURL
	}
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
}

// Validate checks cross-field consistency. Validation errors are
// configuration errors: surfaced synchronously, never retried.
func (s *Settings) Validate() error {
	if s.MaxConcurrentSessions < 1 {
		return fmt.Errorf("max_concurrent_sessions must be >= 1, got %d", s.MaxConcurrentSessions)
	}
	if s.FMax < 1 {
		return fmt.Errorf("f_max must be >= 1, got %d", s.FMax)
	}
	if s.JitterMax < s.JitterMin {
		return fmt.Errorf("jitter_max (%v) must be >= jitter_min (%v)", s.JitterMax, s.JitterMin)
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", s.LogLevel)
	}
	return nil
}

// LoadFromFile loads settings from a YAML file, then applies environment
// overrides and defaults.
func LoadFromFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	s.applyEnv()
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &s, nil
}

// LoadFromEnv builds settings from environment variables alone.
func LoadFromEnv() (*Settings, error) {
	var s Settings
	s.applyEnv()
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &s, nil
}

// applyEnv overrides fields from HARVEST_* environment variables.
func (s *Settings) applyEnv() {
	if v := os.Getenv("HARVEST_MAX_CONCURRENT_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.MaxConcurrentSessions = n
		}
	}
	if v := os.Getenv("HARVEST_HEALTH_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.HealthInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("HARVEST_DISCOVERY_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.DiscoveryInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("HARVEST_F_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.FMax = n
		}
	}
	if v := os.Getenv("HARVEST_PER_DOMAIN_MIN_DELAY_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.PerDomainMinDelay = time.Duration(f * float64(time.Second))
		}
	}
	if v := os.Getenv("HARVEST_BROWSER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			s.BrowserHeadless = &b
		}
	}
	if v := os.Getenv("HARVEST_BROWSER_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.BrowserTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("HARVEST_RETAILER_CATALOG_PATH"); v != "" {
		s.RetailerCatalogPath = v
	}
	if v := os.Getenv("HARVEST_PROXY_DISCOVERY_URLS"); v != "" {
		urls := strings.Split(v, ",")
		s.ProxyDiscoveryURLs = s.ProxyDiscoveryURLs[:0]
		for _, u := range urls {
			if u = strings.TrimSpace(u); u != "" {
				s.ProxyDiscoveryURLs = append(s.ProxyDiscoveryURLs, u)
			}
		}
	}
	if v := os.Getenv("HARVEST_REDIS_ADDR"); v != "" {
		s.RedisAddr = v
	}
	if v := os.Getenv("HARVEST_REDIS_PASSWORD"); v != "" {
		s.RedisPassword = v
	}
	if v := os.Getenv("HARVEST_UPSTREAM_CONF_PATH"); v != "" {
		s.UpstreamConfPath = v
	}
	if v := os.Getenv("HARVEST_CAPTCHA_SERVICE_URL"); v != "" {
		s.CaptchaServiceURL = v
	}
	if v := os.Getenv("HARVEST_LISTEN_ADDR"); v != "" {
		s.ListenAddr = v
	}
	if v := os.Getenv("HARVEST_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
}

// Headless reports the effective headless setting.
func (s *Settings) Headless() bool {
	return s.BrowserHeadless == nil || *s.BrowserHeadless
}
