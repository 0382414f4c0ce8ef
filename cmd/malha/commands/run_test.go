package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nexconsult/malha-fiscal/internal/config"
	"github.com/nexconsult/malha-fiscal/internal/logger"
	"github.com/nexconsult/malha-fiscal/internal/malha"
	"github.com/nexconsult/malha-fiscal/internal/models"
	"github.com/nexconsult/malha-fiscal/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopPage struct {
	malha.Page
}

type poolStub struct{}

func (poolStub) AcquirePage(ctx context.Context, job models.Job) (malha.Page, error) {
	return nopPage{}, nil
}

func (poolStub) ReleasePage(page malha.Page) error { return nil }
func (poolStub) Leases() []models.PageLease        { return nil }
func (poolStub) GetStats() map[string]interface{}  { return nil }
func (poolStub) Health() map[string]interface{}    { return nil }
func (poolStub) Restart() error                    { return nil }
func (poolStub) Close() error                      { return nil }

type scriptedRunner struct {
	mu      sync.Mutex
	running int
	peak    int
}

func (r *scriptedRunner) Run(ctx context.Context, page malha.Page, job models.Job) (*malha.Outcome, error) {
	r.mu.Lock()
	r.running++
	if r.running > r.peak {
		r.peak = r.running
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running--
		r.mu.Unlock()
	}()

	switch job.AccountName {
	case "BROKEN":
		return nil, errors.New("portal unavailable")
	case "WRONG":
		return &malha.Outcome{JobID: job.ID, Auth: malha.Rejected, State: malha.StateRejected}, nil
	}
	return &malha.Outcome{
		JobID:  job.ID,
		Auth:   malha.Authenticated,
		State:  malha.StateDone,
		Result: models.NewCompanyResult(job.AccountName),
		Stats:  models.JobStats{CellsTotal: 1, CellsProcessed: 1},
	}, nil
}

func newBatch(out *bytes.Buffer, runner services.JobRunner, limit int) *batchRun {
	cfg := &config.Config{Malha: config.MalhaConfig{MaxJobAttempts: 2}}
	return &batchRun{
		cfg:    cfg,
		pages:  services.NewPageRunner(poolStub{}, runner, 0, logger.Discard()),
		sink:   services.NewJSONLinesSink(out),
		logger: logger.Discard(),
		limit:  limit,
	}
}

func jobsFor(names ...string) []models.Job {
	input := models.BatchInput{Years: []string{"2023"}, MeshTypes: []string{"02"}}
	for _, name := range names {
		input.Companies = append(input.Companies, models.Company{Name: name, Login: name, Password: "p"})
	}
	return input.Jobs("https://portal.test/malhafiscal", nil, nil)
}

func decodeLines(t *testing.T, out *bytes.Buffer) map[string]models.JobRecord {
	t.Helper()
	records := make(map[string]models.JobRecord)
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var record models.JobRecord
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		records[record.AccountName] = record
	}
	return records
}

func TestBatchRun_WritesOneLinePerJob(t *testing.T) {
	var out bytes.Buffer
	b := newBatch(&out, &scriptedRunner{}, 2)

	require.NoError(t, b.run(context.Background(), jobsFor("ACME", "WRONG")))

	records := decodeLines(t, &out)
	require.Len(t, records, 2)
	assert.Equal(t, models.JobStatusCompleted, records["ACME"].Status)
	require.NotNil(t, records["ACME"].Result)
	assert.Equal(t, "ACME", records["ACME"].Result.Name)
	assert.Equal(t, models.JobStatusRejected, records["WRONG"].Status)
}

func TestBatchRun_FailedJobsAreReported(t *testing.T) {
	var out bytes.Buffer
	b := newBatch(&out, &scriptedRunner{}, 1)

	err := b.run(context.Background(), jobsFor("ACME", "BROKEN"))
	assert.EqualError(t, err, "1 of 2 jobs failed")

	records := decodeLines(t, &out)
	assert.Equal(t, models.JobStatusFailed, records["BROKEN"].Status)
	assert.Equal(t, 2, records["BROKEN"].Attempts)
	assert.Contains(t, records["BROKEN"].Error, "portal unavailable")
	assert.Equal(t, models.JobStatusCompleted, records["ACME"].Status)
}

func TestBatchRun_RespectsConcurrencyLimit(t *testing.T) {
	var out bytes.Buffer
	runner := &scriptedRunner{}
	b := newBatch(&out, runner, 1)

	require.NoError(t, b.run(context.Background(), jobsFor("A", "B", "C")))
	assert.Equal(t, 1, runner.peak)
	assert.Len(t, decodeLines(t, &out), 3)
}
