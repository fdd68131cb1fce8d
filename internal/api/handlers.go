package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/maps-harvester/internal/crawler"
	"github.com/user/maps-harvester/internal/domain"
	"github.com/user/maps-harvester/internal/proxy"
)

const (
	blockedRetryAfter   = 30 * time.Minute
	defaultDiscoverSize = 20
	maxBodyBytes        = 1 << 20
)

// scrapeRequest is the wire form of a search. The extract flags default to
// true when absent.
type scrapeRequest struct {
	BusinessType       string              `json:"businessType"`
	City               string              `json:"city"`
	Country            string              `json:"country"`
	Coordinates        *domain.Coordinates `json:"coordinates"`
	Radius             float64             `json:"radius"`
	MaxResults         int                 `json:"maxResults"`
	ExtractEmails      *bool               `json:"extractEmails"`
	ExtractSocialMedia *bool               `json:"extractSocialMedia"`
	Filters            domain.Filters      `json:"filters"`
}

func (req scrapeRequest) query() domain.SearchQuery {
	flag := func(b *bool) bool { return b == nil || *b }
	return domain.SearchQuery{
		BusinessType:       req.BusinessType,
		City:               req.City,
		Country:            req.Country,
		Coordinates:        req.Coordinates,
		RadiusKm:           req.Radius,
		MaxResults:         req.MaxResults,
		ExtractEmails:      flag(req.ExtractEmails),
		ExtractSocialMedia: flag(req.ExtractSocialMedia),
		Filters:            req.Filters,
	}
}

type previewRequest struct {
	scrapeRequest
	Limit int `json:"limit"`
}

type submitResponse struct {
	JobID   string `json:"jobId"`
	State   string `json:"state"`
	Message string `json:"message"`
}

// handleScrape queues a run and answers 202, or with ?wait=true runs it
// inside the request and answers with the result.
func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if !s.decode(w, r, &req) {
		return
	}
	q := req.query()

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		job, err := s.jobs.RunSync(r.Context(), q, nil)
		if err != nil {
			if job == nil {
				s.respondWithRunError(w, err)
				return
			}
			s.respondWithJobError(w, job, err)
			return
		}
		s.respondWithJSON(w, http.StatusOK, jobView(job))
		return
	}

	id, err := s.jobs.Submit(q)
	if err != nil {
		s.respondWithRunError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusAccepted, submitResponse{
		JobID:   id,
		State:   string(crawler.JobQueued),
		Message: "scrape accepted",
	})
}

// jobResponse adds the outcome message clients show for empty runs.
type jobResponse struct {
	crawler.Job
	Message string `json:"message,omitempty"`
}

func jobView(j *crawler.Job) jobResponse {
	out := jobResponse{Job: *j}
	if j.Result != nil && j.Result.Outcome == domain.OutcomeNoResults {
		out.Message = "no results found"
	}
	return out
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.jobs.Job(id)
	if !ok {
		s.respondWithError(w, http.StatusNotFound, "job not found")
		return
	}
	s.respondWithJSON(w, http.StatusOK, jobView(&job))
}

type progressResponse struct {
	JobID    string          `json:"jobId"`
	State    string          `json:"state,omitempty"`
	Progress domain.Progress `json:"progress"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if job, ok := s.jobs.Job(id); ok {
		s.respondWithJSON(w, http.StatusOK, progressResponse{JobID: id, State: string(job.State), Progress: job.Progress})
		return
	}
	if s.progress != nil {
		p, ok, err := s.progress.Progress(r.Context(), id)
		if err != nil {
			s.logger.Error("progress lookup failed", zap.String("job_id", id), zap.Error(err))
			s.respondWithError(w, http.StatusInternalServerError, "could not read progress")
			return
		}
		if ok {
			s.respondWithJSON(w, http.StatusOK, progressResponse{JobID: id, Progress: p})
			return
		}
	}
	s.respondWithError(w, http.StatusNotFound, "job not found")
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.jobs.Preview(r.Context(), req.query(), req.Limit)
	if err != nil {
		s.respondWithRunError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, p)
}

type proxyStatusResponse struct {
	Total   int          `json:"total"`
	Proxies []proxy.Stat `json:"proxies"`
}

func (s *Server) handleProxyStatus(w http.ResponseWriter, r *http.Request) {
	if s.proxies == nil {
		s.respondWithJSON(w, http.StatusOK, proxyStatusResponse{Proxies: []proxy.Stat{}})
		return
	}
	s.respondWithJSON(w, http.StatusOK, proxyStatusResponse{Total: s.proxies.Len(), Proxies: s.proxies.Stats()})
}

type proxyInitRequest struct {
	// Proxies are added as given; without them public lists are searched.
	Proxies []string `json:"proxies"`
	Limit   int      `json:"limit"`
}

type proxyInitResponse struct {
	Added   int      `json:"added"`
	Total   int      `json:"total"`
	Invalid []string `json:"invalid,omitempty"`
}

func (s *Server) handleProxyInit(w http.ResponseWriter, r *http.Request) {
	if s.proxies == nil {
		s.respondWithError(w, http.StatusNotImplemented, "proxy pool not configured")
		return
	}
	var req proxyInitRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}

	var entries []proxy.Entry
	var invalid []string
	if len(req.Proxies) > 0 {
		for _, raw := range req.Proxies {
			e, err := proxy.Parse(raw)
			if err != nil {
				invalid = append(invalid, err.Error())
				continue
			}
			entries = append(entries, e)
		}
	} else {
		if s.discoverer == nil {
			s.respondWithError(w, http.StatusNotImplemented, "proxy discovery not configured")
			return
		}
		limit := req.Limit
		if limit <= 0 {
			limit = defaultDiscoverSize
		}
		found, err := s.discoverer.Discover(r.Context(), limit)
		if err != nil {
			s.logger.Error("proxy discovery failed", zap.Error(err))
			s.respondWithError(w, http.StatusBadGateway, "proxy discovery failed")
			return
		}
		entries = found
	}

	added := s.proxies.Add(entries...)
	s.logger.Info("proxies added", zap.Int("added", added), zap.Int("total", s.proxies.Len()))
	s.respondWithJSON(w, http.StatusOK, proxyInitResponse{Added: added, Total: s.proxies.Len(), Invalid: invalid})
}

func (s *Server) handleProxyReset(w http.ResponseWriter, r *http.Request) {
	if s.proxies == nil {
		s.respondWithError(w, http.StatusNotImplemented, "proxy pool not configured")
		return
	}
	s.proxies.Reset()
	s.respondWithJSON(w, http.StatusOK, map[string]any{"message": "proxy pool reset", "total": s.proxies.Len()})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := make(map[string]string, len(s.checks))
	healthy := true
	for name, c := range s.checks {
		if err := c.Ping(ctx); err != nil {
			components[name] = "unhealthy"
			healthy = false
			s.logger.Error("health check failed", zap.String("component", name), zap.Error(err))
			continue
		}
		components[name] = "healthy"
	}

	body := map[string]any{
		"status":      "healthy",
		"components":  components,
		"runningJobs": s.jobs.Running(),
	}
	if !healthy {
		body["status"] = "unhealthy"
		s.respondWithJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	s.respondWithJSON(w, http.StatusOK, body)
}

// --- Helper Functions ---

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// errorStatus maps a run error to its HTTP status and a stable kind label.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest, "invalid_query"
	case errors.Is(err, domain.ErrAdmission):
		return http.StatusTooManyRequests, "busy"
	case errors.Is(err, domain.ErrBlocked):
		return http.StatusServiceUnavailable, "blocked"
	case errors.Is(err, domain.ErrRunTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "cancelled"
	case errors.Is(err, domain.ErrFeedNotFound), errors.Is(err, domain.ErrNavigation):
		return http.StatusBadGateway, "upstream"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) respondWithRunError(w http.ResponseWriter, err error) {
	code, kind := errorStatus(err)
	if code == http.StatusServiceUnavailable && kind == "blocked" {
		w.Header().Set("Retry-After", strconv.Itoa(int(blockedRetryAfter.Seconds())))
	}
	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		msg = "internal server error"
	}
	s.respondWithJSON(w, code, errorResponse{Error: msg, Kind: kind})
}

// respondWithJobError keeps the partial result of a run that ended early.
func (s *Server) respondWithJobError(w http.ResponseWriter, job *crawler.Job, err error) {
	code, kind := errorStatus(err)
	if kind == "blocked" {
		w.Header().Set("Retry-After", strconv.Itoa(int(blockedRetryAfter.Seconds())))
	}
	s.respondWithJSON(w, code, struct {
		jobResponse
		Kind string `json:"kind"`
	}{jobView(job), kind})
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, errorResponse{Error: message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encoding response failed", zap.Error(err))
		code, response = http.StatusInternalServerError, []byte(`{"error":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
