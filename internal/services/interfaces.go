package services

import (
	"context"

	"github.com/nexconsult/malha-fiscal/internal/malha"
	"github.com/nexconsult/malha-fiscal/internal/models"
)

// MalhaServiceInterface defines the job intake and result sink
type MalhaServiceInterface interface {
	// Submit resolves a batch into jobs and queues them
	Submit(ctx context.Context, input models.BatchInput) ([]models.JobRecord, error)

	// GetJob returns the current record of a job
	GetJob(ctx context.Context, id string) (*models.JobRecord, error)

	// ListJobs returns every job known to this process, oldest first
	ListJobs(ctx context.Context) ([]models.JobRecord, error)

	// GetResult returns the company result of a completed job
	GetResult(ctx context.Context, id string) (*models.CompanyResult, error)

	// Metrics returns job and cell counters
	Metrics() (models.JobsMetrics, models.CellsMetrics)

	// Health returns service health status
	Health() map[string]interface{}

	// Close stops the workers and waits for running jobs
	Close() error
}

// JobRunner runs one job on a page
type JobRunner interface {
	Run(ctx context.Context, page malha.Page, job models.Job) (*malha.Outcome, error)
}

// ResultSink receives the record of every finished job
type ResultSink interface {
	Push(ctx context.Context, record models.JobRecord) error
}

// CacheServiceInterface defines the interface for cache service
type CacheServiceInterface interface {
	// Get retrieves a value from cache
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value in cache with TTL
	Set(ctx context.Context, key string, value string) error

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// Clear clears all cache entries
	Clear(ctx context.Context) error

	// Exists checks if a key exists in cache
	Exists(ctx context.Context, key string) (bool, error)

	// GetStats returns cache statistics
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Health returns cache service health status
	Health() map[string]interface{}
}

// BrowserServiceInterface defines the interface for browser service
type BrowserServiceInterface interface {
	// AcquirePage opens an isolated page on a pooled browser, leased to job
	AcquirePage(ctx context.Context, job models.Job) (malha.Page, error)

	// ReleasePage closes the page and returns its browser to the pool
	ReleasePage(page malha.Page) error

	// Leases returns the pages currently held by jobs
	Leases() []models.PageLease

	// GetStats returns browser pool statistics
	GetStats() map[string]interface{}

	// Health returns browser service health status
	Health() map[string]interface{}

	// Restart restarts the browser pool
	Restart() error

	// Close closes all browsers and releases resources
	Close() error
}
