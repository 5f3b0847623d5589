package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	s := Default()
	if s.MaxConcurrentSessions != 3 {
		t.Errorf("max sessions = %d, want 3", s.MaxConcurrentSessions)
	}
	if s.FMax != 3 {
		t.Errorf("f_max = %d, want 3", s.FMax)
	}
	if s.HealthInterval != 60*time.Second {
		t.Errorf("health interval = %v", s.HealthInterval)
	}
	if !s.Headless() {
		t.Error("headless should default to true")
	}
	if err := s.Validate(); err != nil {
		t.Errorf("defaults fail validation: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.yaml")
	content := `
max_concurrent_sessions: 5
f_max: 2
browser_headless: false
health_interval: 30s
listen_addr: ":9090"
log_level: debug
proxy_discovery_urls:
  - https://proxies.example/list.txt
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	s, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}
	if s.MaxConcurrentSessions != 5 || s.FMax != 2 {
		t.Errorf("overrides not applied: %+v", s)
	}
	if s.Headless() {
		t.Error("headless false not honored")
	}
	if s.HealthInterval != 30*time.Second {
		t.Errorf("health interval = %v", s.HealthInterval)
	}
	if s.ListenAddr != ":9090" || s.LogLevel != "debug" {
		t.Errorf("addr/level = %s/%s", s.ListenAddr, s.LogLevel)
	}
	if len(s.ProxyDiscoveryURLs) != 1 {
		t.Errorf("discovery URLs = %v", s.ProxyDiscoveryURLs)
	}
	// Unset fields still get defaults.
	if s.BatchConcurrency != DefaultBatchConcurrency {
		t.Errorf("batch concurrency = %d", s.BatchConcurrency)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HARVEST_MAX_CONCURRENT_SESSIONS", "7")
	t.Setenv("HARVEST_F_MAX", "4")
	t.Setenv("HARVEST_BROWSER_HEADLESS", "false")
	t.Setenv("HARVEST_PER_DOMAIN_MIN_DELAY_SECONDS", "1.5")
	t.Setenv("HARVEST_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("HARVEST_PROXY_DISCOVERY_URLS", "https://a.example/p.txt, https://b.example/p.txt")

	s, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}
	if s.MaxConcurrentSessions != 7 || s.FMax != 4 {
		t.Errorf("env ints not applied: %+v", s)
	}
	if s.Headless() {
		t.Error("env headless=false not applied")
	}
	if s.PerDomainMinDelay != 1500*time.Millisecond {
		t.Errorf("min delay = %v", s.PerDomainMinDelay)
	}
	if s.RedisAddr != "redis.internal:6379" {
		t.Errorf("redis addr = %q", s.RedisAddr)
	}
	if len(s.ProxyDiscoveryURLs) != 2 {
		t.Errorf("discovery URLs = %v", s.ProxyDiscoveryURLs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero sessions", func(s *Settings) { s.MaxConcurrentSessions = 0 }},
		{"zero f_max", func(s *Settings) { s.FMax = 0 }},
		{"jitter inverted", func(s *Settings) { s.JitterMin = 5 * time.Second; s.JitterMax = time.Second }},
		{"bad log level", func(s *Settings) { s.LogLevel = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/harvest.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
