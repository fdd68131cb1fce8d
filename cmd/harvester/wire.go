package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/user/maps-harvester/internal/api"
	"github.com/user/maps-harvester/internal/config"
	"github.com/user/maps-harvester/internal/crawler"
	"github.com/user/maps-harvester/internal/enrich"
	"github.com/user/maps-harvester/internal/export"
	"github.com/user/maps-harvester/internal/monitoring"
	"github.com/user/maps-harvester/internal/proxy"
	"github.com/user/maps-harvester/internal/render"
	"github.com/user/maps-harvester/internal/storage"
)

// app is the wired process: browser, proxies, storage and the run service.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *monitoring.Metrics

	browser    *render.Browser
	pool       *proxy.Pool
	discoverer *proxy.Discoverer
	store      storage.RecordStore
	tracker    *storage.RedisTracker

	orchestrator *crawler.Orchestrator
	service      *crawler.Service
}

func crawlerOptions(cfg *config.Config) crawler.Options {
	return crawler.Options{
		Timeouts: crawler.Timeouts{
			Navigation: cfg.NavigationTimeout,
			FeedWait:   cfg.FeedTimeout,
			Detail:     cfg.DetailTimeout,
			Candidate:  cfg.CandidateTimeout,
			Run:        cfg.RunTimeout,
		},
		Retry: crawler.RetryPolicy{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.RetryBaseDelay},
		Paginator: crawler.PaginatorConfig{
			PollInterval:     cfg.PollInterval,
			StabilizeTimeout: cfg.StabilizeTimeout,
			MaxAttempts:      cfg.PaginationMaxAttempts,
			NoGrowthLimit:    cfg.PaginationNoGrowth,
			TotalTimeout:     cfg.PaginationTimeout,
			ScrollAmount:     cfg.ScrollAmount,
		},
		Filters: crawler.FilterConfig{
			CityMatch: cfg.CityFilter,
			GeoRadius: cfg.GeoFilter,
			GeoSlack:  cfg.GeoSlack,
		},
		FeedAttempts:  cfg.FeedAttempts,
		CountryPrefix: cfg.CountryPrefix,
		PreviewMax:    cfg.PreviewMax,
	}
}

// newProxies builds the pool from the configured list and the discoverer
// for public lists.
func newProxies(cfg *config.Config, logger *zap.Logger) (*proxy.Pool, *proxy.Discoverer) {
	pool := proxy.NewPool(proxy.Config{
		MaxFailures:  cfg.ProxyMaxFailures,
		RotateOnFail: cfg.ProxyRotateOnFail,
	}, logger.Named("proxy"))
	for _, raw := range cfg.Proxies {
		e, err := proxy.Parse(raw)
		if err != nil {
			logger.Warn("skipping configured proxy", zap.Error(err))
			continue
		}
		pool.Add(e)
	}
	d := proxy.NewDiscoverer(proxy.DiscoveryConfig{
		Sources:      cfg.ProxySources,
		ProbeURL:     cfg.ProxyProbeURL,
		ProbeTimeout: cfg.ProxyProbeTimeout,
		Concurrency:  cfg.ProxyProbeConcurrency,
	}, logger.Named("proxy"))
	return pool, d
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = monitoring.NewMetrics(a.registry)

	var err error
	a.browser, err = render.NewBrowser(render.Options{
		Headless: cfg.ChromeHeadless,
		ExecPath: cfg.ChromePath,
	}, logger.Named("render"))
	if err != nil {
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	a.store, err = storage.Open(ctx, strings.ToLower(cfg.StoreDriver), cfg.StoreDSN, logger.Named("storage"))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if cfg.RedisAddr != "" {
		client := storage.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		a.tracker = storage.NewRedisTracker(client, cfg.RedisPrefix, cfg.SeenTTL, cfg.ProgressTTL)
		if err := a.tracker.Ping(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
	}

	a.pool, a.discoverer = newProxies(cfg, logger)

	deps := crawler.Deps{
		Renderer: a.browser,
		Proxies:  a.pool,
		Pacer:    crawler.RandomPacer{Min: cfg.PaceMin, Max: cfg.PaceMax},
		Metrics:  a.metrics,
		Logger:   logger.Named("crawler"),
	}
	if cfg.EnrichEnabled {
		var mx enrich.MXVerifier
		if cfg.MXCheck {
			mx = enrich.NewMXChecker(cfg.DNSResolvers, cfg.EnrichTimeout/2, logger.Named("mx"))
		}
		deps.Enricher = enrich.NewFetcher(a.browser, enrich.Config{
			Timeout:       cfg.EnrichTimeout,
			FollowContact: cfg.EnrichFollowContact,
		}, mx, logger.Named("enrich"))
	}
	a.orchestrator = crawler.NewOrchestrator(deps, crawlerOptions(cfg))

	sdeps := crawler.ServiceDeps{
		Runner:   a.orchestrator,
		Store:    a.store,
		Exporter: export.NewWriter(cfg.OutputDir),
		Metrics:  a.metrics,
		Logger:   logger.Named("service"),
	}
	if a.tracker != nil {
		sdeps.Seen, sdeps.Tracker = a.tracker, a.tracker
	}
	a.service = crawler.NewService(sdeps, crawler.ServiceConfig{
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
		MaxQueuedRuns:     cfg.MaxQueuedRuns,
		JobRetention:      cfg.JobRetention,
	})
	return a, nil
}

func (a *app) server() *api.Server {
	deps := api.Deps{
		Jobs:       a.service,
		Proxies:    a.pool,
		Discoverer: a.discoverer,
		Checks:     map[string]api.Pinger{},
		Metrics:    a.metrics,
		Gatherer:   a.registry,
		Logger:     a.logger.Named("api"),
	}
	if a.store != nil {
		deps.Checks["store"] = a.store
	}
	if a.tracker != nil {
		deps.Checks["redis"] = a.tracker
		deps.Progress = a.tracker
	}
	return api.NewServer(a.cfg.ServerPort, deps)
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing store", zap.Error(err))
		}
	}
	if a.tracker != nil {
		if err := a.tracker.Close(); err != nil {
			a.logger.Warn("closing redis", zap.Error(err))
		}
	}
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.logger.Warn("closing browser", zap.Error(err))
		}
	}
}
