package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/maps-harvester/internal/domain"
	"github.com/user/maps-harvester/internal/export"
	"github.com/user/maps-harvester/internal/monitoring"
	"github.com/user/maps-harvester/internal/storage"
)

const persistTimeout = 30 * time.Second

// Runner is what the service schedules; *Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, runID string, q domain.SearchQuery, observe Observer) (*domain.RunResult, error)
	Preview(ctx context.Context, q domain.SearchQuery, max int) (*domain.Preview, error)
}

// SeenSet remembers places across runs.
type SeenSet interface {
	MarkSeen(ctx context.Context, keys []string) (int, error)
}

// ProgressTracker mirrors job progress outside the process.
type ProgressTracker interface {
	SetProgress(ctx context.Context, jobID string, p domain.Progress) error
	SetState(ctx context.Context, jobID, state, message string) error
}

// Exporter writes result artifacts.
type Exporter interface {
	Write(res *domain.RunResult) ([]export.Artifact, error)
}

type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// Job is a snapshot of a submitted run.
type Job struct {
	ID        string              `json:"jobId"`
	State     JobState            `json:"state"`
	Query     domain.SearchQuery  `json:"query"`
	Progress  domain.Progress     `json:"progress"`
	Result    *domain.RunResult   `json:"result,omitempty"`
	Saved     *storage.SaveResult `json:"saved,omitempty"`
	Exports   []export.Artifact   `json:"exports,omitempty"`
	Error     string              `json:"error,omitempty"`
	Err       error               `json:"-"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

type ServiceConfig struct {
	// MaxConcurrentRuns bounds runs executing at once.
	MaxConcurrentRuns int
	// MaxQueuedRuns bounds jobs waiting for a slot; beyond it Submit fails
	// with domain.ErrAdmission.
	MaxQueuedRuns int
	// JobRetention is how long finished jobs stay queryable.
	JobRetention time.Duration
}

type ServiceDeps struct {
	Runner   Runner
	Store    storage.RecordStore
	Seen     SeenSet
	Tracker  ProgressTracker
	Exporter Exporter
	// Metrics is optional; it counts persisted records.
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
}

// Service admits runs, tracks them as jobs and persists their results.
type Service struct {
	runner   Runner
	store    storage.RecordStore
	seen     SeenSet
	tracker  ProgressTracker
	exporter Exporter
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	cfg      ServiceConfig

	slots chan struct{}

	mu      sync.RWMutex
	jobs    map[string]*Job
	pending int

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

func NewService(deps ServiceDeps, cfg ServiceConfig) *Service {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 2
	}
	if cfg.MaxQueuedRuns < 0 {
		cfg.MaxQueuedRuns = 0
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = 24 * time.Hour
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		runner:   deps.Runner,
		store:    deps.Store,
		seen:     deps.Seen,
		tracker:  deps.Tracker,
		exporter: deps.Exporter,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		cfg:      cfg,
		slots:    make(chan struct{}, cfg.MaxConcurrentRuns),
		jobs:     map[string]*Job{},
		baseCtx:  ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Submit validates q and schedules it in the background.
func (s *Service) Submit(q domain.SearchQuery) (string, error) {
	job, err := s.admit(q)
	if err != nil {
		return "", err
	}
	go func() {
		defer s.done()
		s.execute(s.baseCtx, job.ID, job.Query, nil)
	}()
	return job.ID, nil
}

// RunSync runs q in the caller's goroutine, waiting for a slot first. It
// counts against the same admission bound as Submit and is cancelled by
// Shutdown.
func (s *Service) RunSync(ctx context.Context, q domain.SearchQuery, observe Observer) (*Job, error) {
	job, err := s.admit(q)
	if err != nil {
		return nil, err
	}
	defer s.done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.baseCtx, cancel)
	defer stop()

	s.execute(ctx, job.ID, job.Query, observe)
	snap, _ := s.Job(job.ID)
	return &snap, snap.Err
}

// admit registers a queued job if the service is running and the admission
// bound allows it. Every admitted job must call done.
func (s *Service) admit(q domain.SearchQuery) (*Job, error) {
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.baseCtx.Err(); err != nil {
		return nil, fmt.Errorf("service stopped: %w", err)
	}
	if s.pending >= s.cfg.MaxConcurrentRuns+s.cfg.MaxQueuedRuns {
		return nil, domain.ErrAdmission
	}
	s.pending++
	s.wg.Add(1)
	s.evictLocked()
	now := s.now()
	job := &Job{ID: uuid.NewString(), State: JobQueued, Query: q, CreatedAt: now, UpdatedAt: now}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *Service) done() {
	s.mu.Lock()
	s.pending--
	s.mu.Unlock()
	s.wg.Done()
}

// Preview runs a count-only search inside an admission slot.
func (s *Service) Preview(ctx context.Context, q domain.SearchQuery, max int) (*domain.Preview, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.runner.Preview(ctx, q, max)
}

func (s *Service) execute(ctx context.Context, id string, q domain.SearchQuery, observe Observer) {
	log := s.logger.With(zap.String("job_id", id))
	release, err := s.acquire(ctx)
	if err != nil {
		s.finish(id, nil, err, log)
		return
	}
	defer release()

	s.update(id, func(j *Job) { j.State = JobRunning })
	s.track(id, func(ctx context.Context) error { return s.tracker.SetState(ctx, id, string(JobRunning), "") })

	pump := s.progressPump(id)
	res, err := s.runner.Run(ctx, id, q, func(p domain.Progress) {
		s.update(id, func(j *Job) { j.Progress = p })
		pump.push(p)
		if observe != nil {
			observe(p)
		}
	})
	pump.stop()

	if res != nil {
		s.persist(id, res, log)
	}
	s.finish(id, res, err, log)
}

func (s *Service) acquire(ctx context.Context) (func(), error) {
	select {
	case s.slots <- struct{}{}:
		return func() { <-s.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// persist stores, de-duplicates against earlier runs and exports a result.
// Failures are logged; the run result stands either way.
func (s *Service) persist(id string, res *domain.RunResult, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if s.seen != nil && len(res.Records) > 0 {
		keys := make([]string, len(res.Records))
		for i, r := range res.Records {
			keys[i] = storage.IdentityKey(r)
		}
		if n, err := s.seen.MarkSeen(ctx, keys); err != nil {
			log.Warn("seen-set update failed", zap.Error(err))
		} else {
			res.Stats.NewSinceLast = n
		}
	}

	var saved *storage.SaveResult
	if s.store != nil {
		sr, err := s.store.SaveRecords(ctx, id, res.Records)
		if err != nil {
			log.Error("saving records failed", zap.Error(err))
		} else {
			saved = &sr
			if s.metrics != nil {
				s.metrics.AddSaved(sr.Inserted, sr.Updated, sr.Errors)
			}
			log.Info("records saved", zap.Int("inserted", sr.Inserted), zap.Int("updated", sr.Updated), zap.Int("errors", sr.Errors))
		}
		run := storage.RunSummary{
			RunID:      id,
			Query:      res.Query.Label(),
			Outcome:    string(res.Outcome),
			Found:      len(res.Records),
			New:        res.Stats.NewSinceLast,
			Duplicates: res.Stats.Duplicates,
			StartedAt:  res.StartedAt,
			Duration:   res.Duration(),
		}
		if saved != nil {
			run.Updated = saved.Updated
			if s.seen == nil {
				run.New = saved.Inserted
			}
		}
		if err := s.store.SaveRun(ctx, run); err != nil {
			log.Error("saving run history failed", zap.Error(err))
		}
	}

	var arts []export.Artifact
	if s.exporter != nil && len(res.Records) > 0 {
		var err error
		if arts, err = s.exporter.Write(res); err != nil {
			log.Error("export failed", zap.Error(err))
		}
	}
	s.update(id, func(j *Job) {
		j.Saved = saved
		j.Exports = arts
	})
}

func (s *Service) finish(id string, res *domain.RunResult, err error, log *zap.Logger) {
	state := JobDone
	msg := ""
	if err != nil {
		state, msg = JobFailed, err.Error()
		if !errors.Is(err, domain.ErrBlocked) {
			log.Warn("job failed", zap.Error(err))
		}
	}
	s.update(id, func(j *Job) {
		j.State = state
		j.Result = res
		j.Err = err
		j.Error = msg
	})
	s.track(id, func(ctx context.Context) error { return s.tracker.SetState(ctx, id, string(state), msg) })
}

func (s *Service) update(id string, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		fn(j)
		j.UpdatedAt = s.now()
	}
}

func (s *Service) track(id string, fn func(context.Context) error) {
	if s.tracker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.logger.Debug("progress tracker update failed", zap.String("job_id", id), zap.Error(err))
	}
}

// Job returns a snapshot of a job.
func (s *Service) Job(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Running counts jobs queued or executing.
func (s *Service) Running() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, j := range s.jobs {
		if j.State == JobQueued || j.State == JobRunning {
			n++
		}
	}
	return n
}

func (s *Service) evictLocked() {
	cutoff := s.now().Add(-s.cfg.JobRetention)
	for id, j := range s.jobs {
		if (j.State == JobDone || j.State == JobFailed) && j.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}

// Shutdown cancels running jobs and waits for them, or for ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	// under mu so no job is admitted after the wait starts
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pump forwards progress to the tracker off the run's goroutine, dropping
// updates when the tracker falls behind.
type pump struct {
	ch   chan domain.Progress
	done chan struct{}
}

func (s *Service) progressPump(id string) *pump {
	p := &pump{ch: make(chan domain.Progress, 8), done: make(chan struct{})}
	go func() {
		defer close(p.done)
		for prog := range p.ch {
			if s.tracker != nil {
				s.track(id, func(ctx context.Context) error { return s.tracker.SetProgress(ctx, id, prog) })
			}
		}
	}()
	return p
}

func (p *pump) push(prog domain.Progress) {
	select {
	case p.ch <- prog:
	default:
	}
}

func (p *pump) stop() {
	close(p.ch)
	<-p.done
}
