package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.requestMetrics)
	r.Use(middleware.Recoverer)

	r.Get("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	r.Get("/api/health", s.handleHealthCheck)

	// kept for clients of the first API version
	r.Post("/api/scrape", s.handleScrape)

	r.Route("/api/v2", func(r chi.Router) {
		r.Post("/scrape", s.handleScrape)
		r.Get("/scrape/progress/{id}", s.handleProgress)
		r.Get("/jobs/{id}", s.handleJob)
		r.Post("/preview", s.handlePreview)

		r.Route("/proxies", func(r chi.Router) {
			r.Get("/status", s.handleProxyStatus)
			r.Post("/init", s.handleProxyInit)
			r.Post("/reset", s.handleProxyReset)
		})
	})

	return r
}
