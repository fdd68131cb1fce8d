// Package api is the HTTP surface: job submission and polling, previews,
// proxy administration, health and metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/user/maps-harvester/internal/crawler"
	"github.com/user/maps-harvester/internal/domain"
	"github.com/user/maps-harvester/internal/monitoring"
	"github.com/user/maps-harvester/internal/proxy"
)

// Jobs is the run service the handlers drive.
type Jobs interface {
	Submit(q domain.SearchQuery) (string, error)
	RunSync(ctx context.Context, q domain.SearchQuery, observe crawler.Observer) (*crawler.Job, error)
	Job(id string) (crawler.Job, bool)
	Preview(ctx context.Context, q domain.SearchQuery, max int) (*domain.Preview, error)
	Running() int
}

// ProgressReader looks up progress of jobs this process no longer holds.
type ProgressReader interface {
	Progress(ctx context.Context, jobID string) (domain.Progress, bool, error)
}

type ProxyPool interface {
	Stats() []proxy.Stat
	Reset()
	Add(entries ...proxy.Entry) int
	Len() int
}

type ProxyDiscoverer interface {
	Discover(ctx context.Context, limit int) ([]proxy.Entry, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Jobs       Jobs
	Progress   ProgressReader
	Proxies    ProxyPool
	Discoverer ProxyDiscoverer
	// Checks are pinged by the health endpoint, keyed by component name.
	Checks   map[string]Pinger
	Metrics  *monitoring.Metrics
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	port       string
	router     http.Handler
	httpServer *http.Server
	jobs       Jobs
	progress   ProgressReader
	proxies    ProxyPool
	discoverer ProxyDiscoverer
	checks     map[string]Pinger
	metrics    *monitoring.Metrics
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
}

func NewServer(port string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		port:       port,
		jobs:       deps.Jobs,
		progress:   deps.Progress,
		proxies:    deps.Proxies,
		discoverer: deps.Discoverer,
		checks:     deps.Checks,
		metrics:    deps.Metrics,
		gatherer:   deps.Gatherer,
		logger:     deps.Logger,
	}
	s.router = s.setupRouter()
	return s
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Synchronous scrapes hold the connection for the whole run.
		WriteTimeout: 35 * time.Minute,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
