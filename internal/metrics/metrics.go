// Package metrics exposes Prometheus collectors for the scraping
// engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector bundles the engine's Prometheus metrics.
type Collector struct {
	ScrapesTotal   *prometheus.CounterVec
	ScrapeDuration *prometheus.HistogramVec
	RetriesTotal   prometheus.Counter
	Escalations    prometheus.Counter
	CaptchasSolved prometheus.Counter

	ProxiesHealthy   prometheus.Gauge
	ProxiesUnhealthy prometheus.Gauge
	ActiveSessions   prometheus.Gauge
}

// NewCollector registers the collectors on the given registerer (nil
// for the default registry).
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		ScrapesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harvest",
			Name:      "scrapes_total",
			Help:      "Scrape calls by retailer, strategy, and outcome.",
		}, []string{"retailer", "strategy", "outcome"}),
		ScrapeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "harvest",
			Name:      "scrape_duration_seconds",
			Help:      "End-to-end scrape latency.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"strategy"}),
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "harvest",
			Name:      "retries_total",
			Help:      "Retry attempts across all scrapes.",
		}),
		Escalations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "harvest",
			Name:      "strategy_escalations_total",
			Help:      "Times a scrape escalated to a costlier strategy.",
		}),
		CaptchasSolved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "harvest",
			Name:      "captchas_solved_total",
			Help:      "Challenges cleared during browser scrapes.",
		}),
		ProxiesHealthy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "harvest",
			Name:      "proxies_healthy",
			Help:      "Active proxies in the pool.",
		}),
		ProxiesUnhealthy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "harvest",
			Name:      "proxies_unhealthy",
			Help:      "Deactivated proxies in the pool.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "harvest",
			Name:      "browser_sessions_active",
			Help:      "Currently open browser sessions.",
		}),
	}
}

// SetProxyCounts updates the pool health gauges. Implements the proxy
// package's HealthGauges.
func (c *Collector) SetProxyCounts(healthy, unhealthy int) {
	c.ProxiesHealthy.Set(float64(healthy))
	c.ProxiesUnhealthy.Set(float64(unhealthy))
}

// SetActiveSessions updates the open-session gauge. Implements the
// browser package's SessionGauge.
func (c *Collector) SetActiveSessions(n int) {
	c.ActiveSessions.Set(float64(n))
}

// ObserveScrape records one terminal scrape outcome.
func (c *Collector) ObserveScrape(retailer, strategy string, success bool, elapsed time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.ScrapesTotal.WithLabelValues(retailer, strategy, outcome).Inc()
	c.ScrapeDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}
