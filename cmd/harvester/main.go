package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pricelens/harvest/internal/api"
	"github.com/pricelens/harvest/internal/browser"
	"github.com/pricelens/harvest/internal/captcha"
	"github.com/pricelens/harvest/internal/config"
	"github.com/pricelens/harvest/internal/engine"
	"github.com/pricelens/harvest/internal/logging"
	"github.com/pricelens/harvest/internal/metrics"
	"github.com/pricelens/harvest/internal/proxy"
	"github.com/pricelens/harvest/internal/registry"
	"github.com/pricelens/harvest/pkg/types"
)

// Version information (set by build flags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// .env is optional; explicit environment always wins.
	_ = godotenv.Load()

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "search":
		runSearch(args)
	case "scrape":
		runScrape(args)
	case "retailers":
		runRetailers(args)
	case "proxies":
		runProxies(args)
	case "serve":
		runServe(args)
	case "version", "--version":
		fmt.Printf("harvester %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`harvester - resilient retail price scraping engine

Usage:
  harvester search <retailer> <query> [pages]   scrape search results for a query
  harvester scrape <url>                        scrape a single product or listing URL
  harvester retailers                           list the configured retailer catalog
  harvester proxies [refresh]                   show pool stats or pull discovery sources
  harvester serve                               run the admin API and background loops
  harvester version                             print version information

Configuration comes from HARVEST_* environment variables, an optional
.env file, and -config <file> where accepted.`)
}

// bootstrap loads settings and builds the shared collaborators.
type app struct {
	settings *config.Settings
	logger   *zap.Logger
	registry *registry.Registry
	store    proxy.Store
	pool     *proxy.Pool
	engine   *engine.Engine
	browsers *browser.Manager
}

// loadStats warm-starts learned strategy scores from the KV store.
func (a *app) loadStats(ctx context.Context) {
	if err := a.engine.Stats().LoadFrom(ctx, a.store); err != nil {
		a.logger.Warn("loading strategy stats failed", zap.Error(err))
	}
}

// saveStats persists the current scores so the next run starts warm.
func (a *app) saveStats(ctx context.Context) {
	if err := a.engine.Stats().SaveTo(ctx, a.store); err != nil {
		a.logger.Warn("saving strategy stats failed", zap.Error(err))
	}
}

func bootstrap(configPath string) (*app, error) {
	var settings *config.Settings
	var err error
	if configPath != "" {
		settings, err = config.LoadFromFile(configPath)
	} else {
		settings, err = config.LoadFromEnv()
	}
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(settings.LogLevel)
	if err != nil {
		return nil, err
	}

	var reg *registry.Registry
	if settings.RetailerCatalogPath != "" {
		reg, err = registry.LoadFile(settings.RetailerCatalogPath)
		if err != nil {
			return nil, fmt.Errorf("loading retailer catalog: %w", err)
		}
	} else {
		reg, err = registry.New()
		if err != nil {
			return nil, fmt.Errorf("building retailer catalog: %w", err)
		}
	}

	var store proxy.Store
	if settings.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     settings.RedisAddr,
			Password: settings.RedisPassword,
			DB:       settings.RedisDB,
		})
		store = proxy.NewRedisStore(client)
	} else {
		store = proxy.NewMemoryStore()
	}

	pool := proxy.NewPool(proxy.Options{
		FMax:              settings.FMax,
		HealthInterval:    settings.HealthInterval,
		DiscoveryInterval: settings.DiscoveryInterval,
		HealthCheckURL:    settings.HealthCheckURL,
		DiscoveryURLs:     settings.ProxyDiscoveryURLs,
	}, store, logger.Named("proxy"))

	browsers := browser.NewManager(browser.Config{
		MaxSessions: settings.MaxConcurrentSessions,
		Headless:    settings.Headless(),
		Timeout:     settings.BrowserTimeout,
	}, logger.Named("browser"))

	var solver captcha.Solver
	if settings.CaptchaServiceURL != "" {
		solver = captcha.NewChain(logger.Named("captcha"),
			captcha.NewHTTPSolver(settings.CaptchaServiceURL, os.Getenv("HARVEST_CAPTCHA_API_KEY")))
	} else {
		solver = captcha.NewChain(logger.Named("captcha"))
	}

	strategies := []engine.Strategy{
		engine.NewDirectAPIStrategy(),
		engine.NewSimpleHTTPStrategy(pool, logger.Named("simple_http")),
		engine.NewStealthBrowserStrategy(browsers, pool, solver, logger.Named("stealth")),
		engine.NewFullBrowserStrategy(browsers, pool, solver, logger.Named("full_browser")),
	}

	collector := metrics.NewCollector(nil)
	pool.SetHealthGauges(collector)
	browsers.SetSessionGauge(collector)
	eng, err := engine.New(reg, strategies, engine.Options{
		BatchConcurrency: settings.BatchConcurrency,
		JitterMin:        settings.JitterMin,
		JitterMax:        settings.JitterMax,
		MinDomainDelay:   settings.PerDomainMinDelay,
	}, collector, logger.Named("engine"))
	if err != nil {
		return nil, err
	}

	return &app{
		settings: settings,
		logger:   logger,
		registry: reg,
		store:    store,
		pool:     pool,
		engine:   eng,
		browsers: browsers,
	}, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "harvester: %v\n", err)
	os.Exit(1)
}

func parseFlags(name string, args []string, positional int) (string, []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML configuration file")
	_ = fs.Parse(args)
	rest := fs.Args()
	if len(rest) < positional {
		printUsage()
		os.Exit(1)
	}
	return *configPath, rest
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runSearch(args []string) {
	configPath, rest := parseFlags("search", args, 2)
	retailerKey, query := rest[0], rest[1]
	pages := 1
	if len(rest) > 2 {
		n, err := strconv.Atoi(rest[2])
		if err != nil || n < 1 {
			fatal(fmt.Errorf("pages must be a positive integer, got %q", rest[2]))
		}
		pages = n
	}

	a, err := bootstrap(configPath)
	if err != nil {
		fatal(err)
	}
	defer a.logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	a.loadStats(ctx)
	results, err := a.engine.Search(ctx, retailerKey, query, pages)
	if err != nil {
		fatal(err)
	}
	a.saveStats(ctx)

	var products []types.ProductRecord
	failures := 0
	for _, r := range results {
		if r.Success {
			products = append(products, r.Products...)
		} else {
			failures++
		}
	}
	a.logger.Info("search complete",
		zap.String("retailer", retailerKey),
		zap.Int("pages", pages),
		zap.Int("products", len(products)),
		zap.Int("failed_pages", failures))
	printJSON(products)
}

func runScrape(args []string) {
	configPath, rest := parseFlags("scrape", args, 1)

	a, err := bootstrap(configPath)
	if err != nil {
		fatal(err)
	}
	defer a.logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	a.loadStats(ctx)
	result := a.engine.Scrape(ctx, rest[0])
	a.saveStats(ctx)
	printJSON(result)
}

func runRetailers(args []string) {
	configPath, _ := parseFlags("retailers", args, 0)
	a, err := bootstrap(configPath)
	if err != nil {
		fatal(err)
	}
	defer a.logger.Sync()
	printJSON(a.registry.ExportAll())
}

func runProxies(args []string) {
	configPath, rest := parseFlags("proxies", args, 0)
	a, err := bootstrap(configPath)
	if err != nil {
		fatal(err)
	}
	defer a.logger.Sync()

	if len(rest) > 0 && rest[0] == "refresh" {
		ctx, cancel := signalContext()
		defer cancel()
		added, err := a.pool.RefreshFromSources(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("added %d proxies\n", added)
	}
	printJSON(a.pool.Stats())
}

func runServe(args []string) {
	configPath, _ := parseFlags("serve", args, 0)
	a, err := bootstrap(configPath)
	if err != nil {
		fatal(err)
	}
	defer a.logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	a.loadStats(ctx)

	// Background pool maintenance.
	go a.pool.Run(ctx)

	// Periodic stat snapshots keep learned scores across restarts.
	go func() {
		ticker := time.NewTicker(a.settings.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.saveStats(ctx)
			}
		}
	}()

	// Periodic upstream publication when a conf path is configured.
	if a.settings.UpstreamConfPath != "" {
		publisher := proxy.NewFilePublisher(a.settings.UpstreamConfPath, a.pool.BackupThreshold(), a.logger.Named("upstream"))
		go func() {
			ticker := time.NewTicker(a.settings.HealthInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := a.pool.PublishUpstream(publisher); err != nil {
						a.logger.Warn("upstream publish failed", zap.Error(err))
					}
				}
			}
		}()
	}

	server := api.NewServer(a.engine, a.engine.Stats(), a.pool, a.registry, a.logger.Named("api"))
	if err := server.ListenAndServe(ctx, a.settings.ListenAddr); err != nil {
		fatal(err)
	}

	// Final snapshot; the serve context is already cancelled.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer saveCancel()
	a.saveStats(saveCtx)
}
