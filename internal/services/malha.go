package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexconsult/malha-fiscal/internal/config"
	"github.com/nexconsult/malha-fiscal/internal/malha"
	"github.com/nexconsult/malha-fiscal/internal/models"
	"github.com/nexconsult/malha-fiscal/internal/retry"
	"github.com/sirupsen/logrus"
)

var (
	// ErrJobNotFound is returned for unknown job IDs
	ErrJobNotFound = errors.New("job not found")
	// ErrResultNotReady is returned while a job has not completed
	ErrResultNotReady = errors.New("job result not ready")
	// ErrQueueFull is returned when the intake queue cannot take a job
	ErrQueueFull = errors.New("job queue is full")
	// ErrServiceClosed is returned after Close
	ErrServiceClosed = errors.New("malha service is closed")
)

// MalhaService queues jobs and runs them on pooled browser pages
type MalhaService struct {
	config config.MalhaConfig
	pages  *PageRunner
	sink   ResultSink
	cache  CacheServiceInterface
	logger *logrus.Logger

	queue   chan models.Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	records map[string]*models.JobRecord
	order   []string
	closed  bool

	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	failed    atomic.Int64

	cellsProcessed   atomic.Int64
	cellsResumed     atomic.Int64
	cellsFailed      atomic.Int64
	documents        atomic.Int64
	documentFailures atomic.Int64
}

// NewMalhaService creates the service and starts its workers. cache may be
// nil, in which case records only live in memory.
func NewMalhaService(cfg config.MalhaConfig, runner JobRunner, browser BrowserServiceInterface, cache CacheServiceInterface, logger *logrus.Logger) *MalhaService {
	ctx, cancel := context.WithCancel(context.Background())

	s := &MalhaService{
		config:  cfg,
		pages:   NewPageRunner(browser, runner, cfg.ActionsPerMinute, logger),
		cache:   cache,
		logger:  logger,
		queue:   make(chan models.Job, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		records: make(map[string]*models.JobRecord),
	}
	if cache != nil {
		s.sink = NewCacheSink(cache)
	}

	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	logger.WithFields(logrus.Fields{
		"workers":    cfg.Workers,
		"queue_size": cfg.QueueSize,
	}).Info("Malha service initialized")
	return s
}

// Submit resolves the batch into jobs and queues them. Jobs that do not
// validate are recorded as failed without being queued.
func (s *MalhaService) Submit(ctx context.Context, input models.BatchInput) ([]models.JobRecord, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrServiceClosed
	}

	jobs := input.Jobs(s.config.BaseURL, s.config.Years, s.config.MeshTypes)
	records := make([]models.JobRecord, 0, len(jobs))

	for _, job := range jobs {
		record := models.JobRecord{
			ID:          job.ID,
			AccountName: job.AccountName,
			Status:      models.JobStatusQueued,
			Stats:       models.JobStats{CellsTotal: len(job.Cells())},
			CreatedAt:   time.Now(),
		}
		s.submitted.Add(1)

		if err := job.Validate(); err != nil {
			record.Status = models.JobStatusFailed
			record.Error = err.Error()
			now := time.Now()
			record.FinishedAt = &now
			s.failed.Add(1)
			s.store(ctx, record)
			records = append(records, record)
			continue
		}

		s.store(ctx, record)

		select {
		case s.queue <- job:
			s.logger.WithFields(logrus.Fields{
				"job_id":  job.ID,
				"account": job.AccountName,
			}).Info("Job queued")
		default:
			record.Status = models.JobStatusFailed
			record.Error = ErrQueueFull.Error()
			now := time.Now()
			record.FinishedAt = &now
			s.failed.Add(1)
			s.store(ctx, record)
		}
		records = append(records, record)
	}

	return records, nil
}

// GetJob returns the current record of a job
func (s *MalhaService) GetJob(ctx context.Context, id string) (*models.JobRecord, error) {
	s.mu.RLock()
	record, ok := s.records[id]
	if ok {
		copied := *record
		s.mu.RUnlock()
		return &copied, nil
	}
	s.mu.RUnlock()

	// Records of a previous process only survive in the cache
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, JobCacheKey(id))
		if err == nil {
			var record models.JobRecord
			if err := json.Unmarshal([]byte(raw), &record); err != nil {
				return nil, fmt.Errorf("failed to decode job record: %w", err)
			}
			return &record, nil
		}
	}
	return nil, ErrJobNotFound
}

// ListJobs returns every job submitted to this process, oldest first
func (s *MalhaService) ListJobs(ctx context.Context) ([]models.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.JobRecord, 0, len(s.order))
	for _, id := range s.order {
		record := *s.records[id]
		record.Result = nil
		out = append(out, record)
	}
	return out, nil
}

// GetResult returns the company result of a completed job
func (s *MalhaService) GetResult(ctx context.Context, id string) (*models.CompanyResult, error) {
	record, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != models.JobStatusCompleted || record.Result == nil {
		return nil, ErrResultNotReady
	}
	return record.Result, nil
}

// Metrics returns job and cell counters
func (s *MalhaService) Metrics() (models.JobsMetrics, models.CellsMetrics) {
	jobs := models.JobsMetrics{
		Submitted: s.submitted.Load(),
		Completed: s.completed.Load(),
		Rejected:  s.rejected.Load(),
		Failed:    s.failed.Load(),
		Queued:    len(s.queue),
	}
	cells := models.CellsMetrics{
		Processed:        s.cellsProcessed.Load(),
		Resumed:          s.cellsResumed.Load(),
		Failed:           s.cellsFailed.Load(),
		Documents:        s.documents.Load(),
		DocumentFailures: s.documentFailures.Load(),
	}
	return jobs, cells
}

// Health returns service health status
func (s *MalhaService) Health() map[string]interface{} {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	status := "healthy"
	if closed {
		status = "unhealthy"
	} else if len(s.queue) == cap(s.queue) {
		status = "degraded"
	}

	return map[string]interface{}{
		"status":  status,
		"workers": s.config.Workers,
		"queued":  len(s.queue),
	}
}

// Close stops accepting jobs, cancels running ones and waits for workers
func (s *MalhaService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.logger.Info("Malha service closed")
	return nil
}

func (s *MalhaService) worker(id int) {
	defer s.wg.Done()
	log := s.logger.WithField("worker", id)

	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.queue:
			s.execute(job, log.WithFields(logrus.Fields{
				"job_id":  job.ID,
				"account": job.AccountName,
			}))
		}
	}
}

// execute runs a job with job-level retries and records how it ended
func (s *MalhaService) execute(job models.Job, log *logrus.Entry) {
	started := time.Now()
	s.update(job.ID, func(r *models.JobRecord) {
		r.Status = models.JobStatusRunning
		r.StartedAt = &started
	})

	ctx := s.ctx
	if s.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.JobTimeout)
		defer cancel()
	}

	outcome, attempts, err := s.pages.Execute(ctx, job, retry.Policy{
		MaxAttempts: s.config.MaxJobAttempts,
		Delay:       s.config.JobRetryDelay,
		OnRetry: func(attempt int, err error) {
			log.WithError(err).WithField("attempt", attempt).Warn("Job attempt failed, retrying")
		},
	}, func(attempt int) {
		s.update(job.ID, func(r *models.JobRecord) { r.Attempts = attempt })
	})

	finished := time.Now()
	record := s.update(job.ID, func(r *models.JobRecord) {
		ApplyOutcome(r, outcome, attempts, err)
		r.FinishedAt = &finished
		s.count(*r, outcome)
	})

	log.WithFields(logrus.Fields{
		"status":   record.Status,
		"attempts": attempts,
		"duration": finished.Sub(started).String(),
	}).Info("Job finished")

	if s.sink != nil {
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.sink.Push(pushCtx, record); err != nil {
			log.WithError(err).Warn("Failed to push job result")
		}
	}
}

func (s *MalhaService) count(record models.JobRecord, outcome *malha.Outcome) {
	switch record.Status {
	case models.JobStatusCompleted:
		s.completed.Add(1)
	case models.JobStatusRejected:
		s.rejected.Add(1)
	default:
		s.failed.Add(1)
	}
	if outcome == nil {
		return
	}
	s.cellsProcessed.Add(int64(outcome.Stats.CellsProcessed))
	s.cellsResumed.Add(int64(outcome.Stats.CellsResumed))
	s.cellsFailed.Add(int64(outcome.Stats.CellsFailed))
	s.documents.Add(int64(outcome.Stats.Documents))
	s.documentFailures.Add(int64(outcome.Stats.DocumentFailures))
}

// store records a new job and writes it through to the sink
func (s *MalhaService) store(ctx context.Context, record models.JobRecord) {
	s.mu.Lock()
	if _, ok := s.records[record.ID]; !ok {
		s.order = append(s.order, record.ID)
	}
	copied := record
	s.records[record.ID] = &copied
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.Push(ctx, record); err != nil {
			s.logger.WithError(err).WithField("job_id", record.ID).Warn("Failed to store job record")
		}
	}
}

// update applies fn to the record of id and returns a copy of the result
func (s *MalhaService) update(id string, fn func(*models.JobRecord)) models.JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		record = &models.JobRecord{ID: id}
		s.records[id] = record
		s.order = append(s.order, id)
	}
	fn(record)
	return *record
}

// ApplyOutcome records how a job ended on r
func ApplyOutcome(r *models.JobRecord, outcome *malha.Outcome, attempts int, err error) {
	r.Attempts = attempts
	if outcome != nil {
		r.Stats = outcome.Stats
	}

	switch {
	case err != nil:
		r.Status = models.JobStatusFailed
		r.Error = err.Error()
	case outcome == nil:
		r.Status = models.JobStatusFailed
		r.Error = "job produced no outcome"
	case outcome.Auth == malha.Rejected:
		r.Status = models.JobStatusRejected
		r.Error = "credentials rejected by the portal"
	default:
		r.Status = models.JobStatusCompleted
		r.Result = outcome.Result
	}
}
