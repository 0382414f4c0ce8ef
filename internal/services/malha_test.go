package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nexconsult/malha-fiscal/internal/config"
	"github.com/nexconsult/malha-fiscal/internal/logger"
	"github.com/nexconsult/malha-fiscal/internal/malha"
	"github.com/nexconsult/malha-fiscal/internal/models"
	"github.com/nexconsult/malha-fiscal/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPage struct {
	malha.Page
}

type fakeBrowser struct {
	mu       sync.Mutex
	acquired int
	released int
	jobs     []string
	err      error
}

func (b *fakeBrowser) AcquirePage(ctx context.Context, job models.Job) (malha.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.acquired++
	b.jobs = append(b.jobs, job.ID)
	return &stubPage{}, nil
}

func (b *fakeBrowser) ReleasePage(page malha.Page) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released++
	return nil
}

func (b *fakeBrowser) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acquired, b.released
}

func (b *fakeBrowser) Leases() []models.PageLease       { return nil }
func (b *fakeBrowser) GetStats() map[string]interface{} { return map[string]interface{}{} }
func (b *fakeBrowser) Health() map[string]interface{}   { return map[string]interface{}{"status": "healthy"} }
func (b *fakeBrowser) Restart() error                   { return nil }
func (b *fakeBrowser) Close() error                     { return nil }

type fakeRunner struct {
	calls atomic.Int32
	run   func(ctx context.Context, job models.Job) (*malha.Outcome, error)
}

func (r *fakeRunner) Run(ctx context.Context, page malha.Page, job models.Job) (*malha.Outcome, error) {
	r.calls.Add(1)
	return r.run(ctx, job)
}

func completedOutcome(job models.Job) *malha.Outcome {
	result := models.NewCompanyResult(job.AccountName)
	result.Append(models.Cell{Account: job.AccountName, Year: "2023", MeshType: "02"}, nil)
	return &malha.Outcome{
		JobID:   job.ID,
		Account: job.AccountName,
		State:   malha.StateDone,
		Auth:    malha.Authenticated,
		Result:  result,
		Stats:   models.JobStats{CellsTotal: 1, CellsProcessed: 1, Documents: 2},
	}
}

func testMalhaConfig() config.MalhaConfig {
	return config.MalhaConfig{
		BaseURL:        "https://portal.test/malhafiscal",
		Years:          []string{"2023"},
		MeshTypes:      []string{"02"},
		Workers:        1,
		QueueSize:      10,
		MaxJobAttempts: 3,
	}
}

func oneCompany(name string) models.BatchInput {
	return models.BatchInput{Companies: []models.Company{{Name: name, Login: "123", Password: "secret"}}}
}

func waitTerminal(t *testing.T, svc *MalhaService, id string) *models.JobRecord {
	t.Helper()
	var record *models.JobRecord
	require.Eventually(t, func() bool {
		r, err := svc.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		record = r
		return r.Status.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return record
}

func TestMalhaService_CompletesJob(t *testing.T) {
	cache := NewCacheService(nil, time.Hour, logger.Discard())
	browser := &fakeBrowser{}
	runner := &fakeRunner{run: func(ctx context.Context, job models.Job) (*malha.Outcome, error) {
		return completedOutcome(job), nil
	}}

	svc := NewMalhaService(testMalhaConfig(), runner, browser, cache, logger.Discard())
	defer svc.Close()

	records, err := svc.Submit(context.Background(), oneCompany("ACME"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.JobStatusQueued, records[0].Status)
	assert.Equal(t, 1, records[0].Stats.CellsTotal)

	record := waitTerminal(t, svc, records[0].ID)
	assert.Equal(t, models.JobStatusCompleted, record.Status)
	assert.Equal(t, 1, record.Attempts)
	assert.Equal(t, 2, record.Stats.Documents)
	require.NotNil(t, record.StartedAt)
	require.NotNil(t, record.FinishedAt)

	result, err := svc.GetResult(context.Background(), records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "ACME", result.Name)

	acquired, released := browser.counts()
	assert.Equal(t, 1, acquired)
	assert.Equal(t, 1, released)

	jobs, cells := svc.Metrics()
	assert.Equal(t, int64(1), jobs.Submitted)
	assert.Equal(t, int64(1), jobs.Completed)
	assert.Equal(t, int64(1), cells.Processed)
	assert.Equal(t, int64(2), cells.Documents)

	// The sink wrote the final record through to the cache
	require.Eventually(t, func() bool {
		raw, err := cache.Get(context.Background(), JobCacheKey(records[0].ID))
		if err != nil {
			return false
		}
		var cached models.JobRecord
		return json.Unmarshal([]byte(raw), &cached) == nil && cached.Status == models.JobStatusCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestMalhaService_RejectedJobIsNotRetried(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, job models.Job) (*malha.Outcome, error) {
		return &malha.Outcome{JobID: job.ID, Account: job.AccountName, State: malha.StateRejected, Auth: malha.Rejected}, nil
	}}

	svc := NewMalhaService(testMalhaConfig(), runner, &fakeBrowser{}, nil, logger.Discard())
	defer svc.Close()

	records, err := svc.Submit(context.Background(), oneCompany("ACME"))
	require.NoError(t, err)

	record := waitTerminal(t, svc, records[0].ID)
	assert.Equal(t, models.JobStatusRejected, record.Status)
	assert.Nil(t, record.Result)
	assert.Equal(t, int32(1), runner.calls.Load())

	_, err = svc.GetResult(context.Background(), records[0].ID)
	assert.ErrorIs(t, err, ErrResultNotReady)
}

func TestMalhaService_RetriesTransientFailures(t *testing.T) {
	runner := &fakeRunner{}
	runner.run = func(ctx context.Context, job models.Job) (*malha.Outcome, error) {
		if runner.calls.Load() < 3 {
			return nil, errors.New("browser crashed")
		}
		return completedOutcome(job), nil
	}

	svc := NewMalhaService(testMalhaConfig(), runner, &fakeBrowser{}, nil, logger.Discard())
	defer svc.Close()

	records, err := svc.Submit(context.Background(), oneCompany("ACME"))
	require.NoError(t, err)

	record := waitTerminal(t, svc, records[0].ID)
	assert.Equal(t, models.JobStatusCompleted, record.Status)
	assert.Equal(t, 3, record.Attempts)
}

func TestMalhaService_ExhaustedAttemptsFail(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, job models.Job) (*malha.Outcome, error) {
		return nil, errors.New("portal down")
	}}

	svc := NewMalhaService(testMalhaConfig(), runner, &fakeBrowser{}, nil, logger.Discard())
	defer svc.Close()

	records, err := svc.Submit(context.Background(), oneCompany("ACME"))
	require.NoError(t, err)

	record := waitTerminal(t, svc, records[0].ID)
	assert.Equal(t, models.JobStatusFailed, record.Status)
	assert.Equal(t, 3, record.Attempts)
	assert.Contains(t, record.Error, "portal down")

	jobs, _ := svc.Metrics()
	assert.Equal(t, int64(1), jobs.Failed)
}

func TestMalhaService_PermanentFailureStopsRetries(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, job models.Job) (*malha.Outcome, error) {
		return nil, retry.Permanent(malha.ErrLoginEntryMissing)
	}}

	svc := NewMalhaService(testMalhaConfig(), runner, &fakeBrowser{}, nil, logger.Discard())
	defer svc.Close()

	records, err := svc.Submit(context.Background(), oneCompany("ACME"))
	require.NoError(t, err)

	record := waitTerminal(t, svc, records[0].ID)
	assert.Equal(t, models.JobStatusFailed, record.Status)
	assert.Equal(t, 1, record.Attempts)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestMalhaService_BrowserUnavailable(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, job models.Job) (*malha.Outcome, error) {
		return completedOutcome(job), nil
	}}
	cfg := testMalhaConfig()
	cfg.MaxJobAttempts = 2

	svc := NewMalhaService(cfg, runner, &fakeBrowser{err: errors.New("no browser available")}, nil, logger.Discard())
	defer svc.Close()

	records, err := svc.Submit(context.Background(), oneCompany("ACME"))
	require.NoError(t, err)

	record := waitTerminal(t, svc, records[0].ID)
	assert.Equal(t, models.JobStatusFailed, record.Status)
	assert.Equal(t, 2, record.Attempts)
	assert.Equal(t, int32(0), runner.calls.Load())
}

func TestMalhaService_InvalidJobIsNotQueued(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, job models.Job) (*malha.Outcome, error) {
		return completedOutcome(job), nil
	}}

	svc := NewMalhaService(testMalhaConfig(), runner, &fakeBrowser{}, nil, logger.Discard())
	defer svc.Close()

	records, err := svc.Submit(context.Background(), models.BatchInput{
		Companies: []models.Company{{Name: "ACME", Login: "123"}},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.JobStatusFailed, records[0].Status)
	assert.Contains(t, records[0].Error, "password")
	assert.Equal(t, int32(0), runner.calls.Load())
}

func TestMalhaService_QueueFull(t *testing.T) {
	cfg := testMalhaConfig()
	cfg.Workers = 0
	cfg.QueueSize = 1

	svc := NewMalhaService(cfg, &fakeRunner{}, &fakeBrowser{}, nil, logger.Discard())
	defer svc.Close()

	records, err := svc.Submit(context.Background(), models.BatchInput{
		Companies: []models.Company{
			{Name: "ACME", Login: "1", Password: "a"},
			{Name: "BETA", Login: "2", Password: "b"},
		},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.JobStatusQueued, records[0].Status)
	assert.Equal(t, models.JobStatusFailed, records[1].Status)
	assert.Equal(t, ErrQueueFull.Error(), records[1].Error)

	listed, err := svc.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "ACME", listed[0].AccountName)
	assert.Equal(t, "BETA", listed[1].AccountName)

	jobs, _ := svc.Metrics()
	assert.Equal(t, 1, jobs.Queued)
}

func TestMalhaService_UnknownJob(t *testing.T) {
	svc := NewMalhaService(testMalhaConfig(), &fakeRunner{}, &fakeBrowser{}, NewCacheService(nil, time.Hour, logger.Discard()), logger.Discard())
	defer svc.Close()

	_, err := svc.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMalhaService_GetJobFromCache(t *testing.T) {
	cache := NewCacheService(nil, time.Hour, logger.Discard())
	require.NoError(t, NewCacheSink(cache).Push(context.Background(), models.JobRecord{
		ID:          "old-job",
		AccountName: "ACME",
		Status:      models.JobStatusCompleted,
	}))

	svc := NewMalhaService(testMalhaConfig(), &fakeRunner{}, &fakeBrowser{}, cache, logger.Discard())
	defer svc.Close()

	record, err := svc.GetJob(context.Background(), "old-job")
	require.NoError(t, err)
	assert.Equal(t, "ACME", record.AccountName)
	assert.Equal(t, models.JobStatusCompleted, record.Status)
}

func TestMalhaService_SubmitAfterClose(t *testing.T) {
	svc := NewMalhaService(testMalhaConfig(), &fakeRunner{}, &fakeBrowser{}, nil, logger.Discard())
	require.NoError(t, svc.Close())

	_, err := svc.Submit(context.Background(), oneCompany("ACME"))
	assert.ErrorIs(t, err, ErrServiceClosed)
	assert.Equal(t, "unhealthy", svc.Health()["status"])
}
