package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/user/maps-harvester/internal/config"
	"github.com/user/maps-harvester/internal/domain"
	"github.com/user/maps-harvester/internal/proxy"
	"github.com/user/maps-harvester/pkg/logger"
)

const usage = `usage: harvester <command> [flags]

commands:
  serve     run the HTTP API
  scrape    run one search and print the result as JSON
  preview   count what a search would return
  proxies   discover or test proxies
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, log)
	case "scrape":
		err = scrape(ctx, cfg, log, args)
	case "preview":
		err = preview(ctx, cfg, log, args)
	case "proxies":
		err = proxies(ctx, cfg, log, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Error("command failed", zap.String("command", cmd), zap.Error(err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	server := a.server()
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("server started", zap.String("port", cfg.ServerPort), zap.Int("proxies", a.pool.Len()))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// runs first, so requests waiting on a sync run return before the drain
	if err := a.service.Shutdown(shutdownCtx); err != nil {
		log.Warn("runs still active at shutdown", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("server exiting")
	return nil
}

// queryFlags registers the search flags shared by scrape and preview.
func queryFlags(fs *flag.FlagSet) func() domain.SearchQuery {
	var (
		q         domain.SearchQuery
		lat, lng  float64
		noEmails  bool
		noSocials bool
	)
	fs.StringVar(&q.BusinessType, "type", "", "business type to search for")
	fs.StringVar(&q.City, "city", "", "city to search in")
	fs.StringVar(&q.Country, "country", "", "country of the city")
	fs.Float64Var(&lat, "lat", 0, "latitude of the search centre")
	fs.Float64Var(&lng, "lng", 0, "longitude of the search centre")
	fs.Float64Var(&q.RadiusKm, "radius", 0, "search radius in km (coordinate mode)")
	fs.IntVar(&q.MaxResults, "max", domain.DefaultResults, "maximum number of results")
	fs.BoolVar(&noEmails, "no-emails", false, "skip email enrichment")
	fs.BoolVar(&noSocials, "no-social", false, "skip social media enrichment")
	fs.Float64Var(&q.Filters.MinRating, "min-rating", 0, "drop places rated below this")
	fs.IntVar(&q.Filters.MinReviews, "min-reviews", 0, "drop places with fewer reviews")
	fs.BoolVar(&q.Filters.RequirePhone, "require-phone", false, "keep only places with a phone")
	fs.BoolVar(&q.Filters.RequireWebsite, "require-website", false, "keep only places with a website")
	fs.BoolVar(&q.Filters.RequireDelivery, "require-delivery", false, "keep only places that deliver")

	return func() domain.SearchQuery {
		if q.RadiusKm > 0 || lat != 0 || lng != 0 {
			q.Coordinates = &domain.Coordinates{Lat: lat, Lng: lng}
		}
		q.ExtractEmails = !noEmails
		q.ExtractSocialMedia = !noSocials
		return q
	}
}

func scrape(ctx context.Context, cfg *config.Config, log *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("scrape", flag.ExitOnError)
	query := queryFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	job, err := a.service.RunSync(ctx, query(), func(p domain.Progress) {
		log.Info("progress", zap.Int("current", p.Current), zap.Int("total", p.Total), zap.String("name", p.Label))
	})
	if job != nil && job.Result != nil {
		for _, art := range job.Exports {
			log.Info("export written", zap.String("path", art.Path), zap.Int64("bytes", art.Size))
		}
		if perr := printJSON(job.Result); perr != nil {
			return perr
		}
	}
	if errors.Is(err, domain.ErrBlocked) {
		return fmt.Errorf("%w; partial results printed, retry in about 30 minutes", err)
	}
	return err
}

func preview(ctx context.Context, cfg *config.Config, log *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	query := queryFlags(fs)
	limit := fs.Int("limit", 0, "pagination cap (default PREVIEW_MAX)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	p, err := a.service.Preview(ctx, query(), *limit)
	if err != nil {
		return err
	}
	return printJSON(p)
}

func proxies(ctx context.Context, cfg *config.Config, log *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("proxies", flag.ExitOnError)
	limit := fs.Int("limit", 20, "how many working proxies to find")
	test := fs.String("test", "", "test a single proxy instead of discovering")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, d := newProxies(cfg, log)

	if *test != "" {
		e, err := proxy.Parse(*test)
		if err != nil {
			return err
		}
		latency, err := d.Test(ctx, e)
		if err != nil {
			return err
		}
		log.Info("proxy works", zap.String("proxy", e.Server()), zap.Duration("latency", latency))
		return nil
	}

	found, err := d.Discover(ctx, *limit)
	if err != nil {
		return err
	}
	for _, e := range found {
		fmt.Println(e.Server())
	}
	log.Info("discovery finished", zap.Int("working", len(found)))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
