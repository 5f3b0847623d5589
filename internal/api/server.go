// Package api exposes the admin and scrape HTTP surface: pool and
// strategy introspection, retailer management, and on-demand scrapes.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pricelens/harvest/internal/engine"
	"github.com/pricelens/harvest/internal/proxy"
	"github.com/pricelens/harvest/internal/registry"
	"github.com/pricelens/harvest/pkg/types"
)

// Scraper is the slice of the engine the API needs.
type Scraper interface {
	Scrape(ctx context.Context, url string) *types.ScrapingResult
	Search(ctx context.Context, retailerKey, query string, pages int) ([]*types.ScrapingResult, error)
}

// StatsSource yields the learned strategy statistics.
type StatsSource interface {
	Snapshot() []engine.StrategyStat
}

// Server wires the HTTP routes to the engine, pool, and registry.
type Server struct {
	scraper  Scraper
	stats    StatsSource
	pool     *proxy.Pool
	registry *registry.Registry
	logger   *zap.Logger
	router   *mux.Router
}

// NewServer builds the router. Any of scraper, stats, or pool may be
// nil; the corresponding routes then answer 503.
func NewServer(scraper Scraper, stats StatsSource, pool *proxy.Pool, reg *registry.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scraper:  scraper,
		stats:    stats,
		pool:     pool,
		registry: reg,
		logger:   logger,
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/proxies/stats", s.handleProxyStats).Methods(http.MethodGet)
	api.HandleFunc("/proxies/refresh", s.handleProxyRefresh).Methods(http.MethodPost)
	api.HandleFunc("/proxies", s.handleProxyList).Methods(http.MethodGet)
	api.HandleFunc("/retailers", s.handleRetailerList).Methods(http.MethodGet)
	api.HandleFunc("/retailers/{key}/status", s.handleRetailerStatus).Methods(http.MethodPut)
	api.HandleFunc("/strategies/stats", s.handleStrategyStats).Methods(http.MethodGet)
	api.HandleFunc("/scrape", s.handleScrape).Methods(http.MethodPost)
}

// Handler returns the root handler for mounting or serving.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin API listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProxyStats(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		s.writeError(w, http.StatusServiceUnavailable, "proxy pool not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.pool.Stats())
}

func (s *Server) handleProxyList(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		s.writeError(w, http.StatusServiceUnavailable, "proxy pool not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.pool.Snapshot())
}

func (s *Server) handleProxyRefresh(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		s.writeError(w, http.StatusServiceUnavailable, "proxy pool not configured")
		return
	}
	added, err := s.pool.RefreshFromSources(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

func (s *Server) handleRetailerList(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.ExportAll())
}

type statusRequest struct {
	Status types.RetailerStatus `json:"status"`
}

func (s *Server) handleRetailerStatus(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !req.Status.IsValid() {
		s.writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if err := s.registry.SetStatus(key, req.Status); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"key": key, "status": string(req.Status)})
}

func (s *Server) handleStrategyStats(w http.ResponseWriter, _ *http.Request) {
	if s.stats == nil {
		s.writeError(w, http.StatusServiceUnavailable, "engine not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

type scrapeRequest struct {
	URL      string `json:"url,omitempty"`
	Retailer string `json:"retailer,omitempty"`
	Query    string `json:"query,omitempty"`
	Pages    int    `json:"pages,omitempty"`
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	if s.scraper == nil {
		s.writeError(w, http.StatusServiceUnavailable, "engine not configured")
		return
	}
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch {
	case req.URL != "":
		s.writeJSON(w, http.StatusOK, s.scraper.Scrape(r.Context(), req.URL))
	case req.Retailer != "" && req.Query != "":
		pages := req.Pages
		if pages <= 0 {
			pages = 1
		}
		results, err := s.scraper.Search(r.Context(), req.Retailer, req.Query, pages)
		if err != nil {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, results)
	default:
		s.writeError(w, http.StatusBadRequest, "either url or retailer+query is required")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
