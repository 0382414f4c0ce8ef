package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexconsult/malha-fiscal/internal/config"
	"github.com/nexconsult/malha-fiscal/internal/logger"
	"github.com/nexconsult/malha-fiscal/internal/malha"
	"github.com/nexconsult/malha-fiscal/internal/models"
	"github.com/nexconsult/malha-fiscal/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMalhaService struct {
	records map[string]models.JobRecord
	closed  bool
}

func (f *fakeMalhaService) Submit(ctx context.Context, input models.BatchInput) ([]models.JobRecord, error) {
	if f.closed {
		return nil, services.ErrServiceClosed
	}
	out := make([]models.JobRecord, 0, len(input.Companies))
	for i, company := range input.Companies {
		status := models.JobStatusQueued
		if company.Name == "FULL" {
			status = models.JobStatusFailed
		}
		record := models.JobRecord{ID: company.Name + "-" + string(rune('0'+i)), AccountName: company.Name, Status: status}
		f.records[record.ID] = record
		out = append(out, record)
	}
	return out, nil
}

func (f *fakeMalhaService) GetJob(ctx context.Context, id string) (*models.JobRecord, error) {
	record, ok := f.records[id]
	if !ok {
		return nil, services.ErrJobNotFound
	}
	return &record, nil
}

func (f *fakeMalhaService) ListJobs(ctx context.Context) ([]models.JobRecord, error) {
	out := make([]models.JobRecord, 0, len(f.records))
	for _, record := range f.records {
		out = append(out, record)
	}
	return out, nil
}

func (f *fakeMalhaService) GetResult(ctx context.Context, id string) (*models.CompanyResult, error) {
	record, err := f.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Result == nil {
		return nil, services.ErrResultNotReady
	}
	return record.Result, nil
}

func (f *fakeMalhaService) Metrics() (models.JobsMetrics, models.CellsMetrics) {
	return models.JobsMetrics{Submitted: int64(len(f.records)), Completed: 1}, models.CellsMetrics{Processed: 4, Documents: 7}
}

func (f *fakeMalhaService) Health() map[string]interface{} {
	return map[string]interface{}{"status": "healthy"}
}

func (f *fakeMalhaService) Close() error { return nil }

type fakeBrowserService struct {
	status   string
	restarts int
	leases   []models.PageLease
}

func (f *fakeBrowserService) AcquirePage(ctx context.Context, job models.Job) (malha.Page, error) {
	return nil, nil
}

func (f *fakeBrowserService) ReleasePage(page malha.Page) error { return nil }
func (f *fakeBrowserService) Leases() []models.PageLease        { return f.leases }
func (f *fakeBrowserService) Close() error                      { return nil }

func (f *fakeBrowserService) Restart() error {
	f.restarts++
	f.leases = nil
	return nil
}

func (f *fakeBrowserService) GetStats() map[string]interface{} {
	return map[string]interface{}{"total_browsers": 2, "healthy_browsers": 1, "available": 1}
}

func (f *fakeBrowserService) Health() map[string]interface{} {
	return map[string]interface{}{"status": f.status}
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Environment: "test"},
		Security: config.SecurityConfig{
			RateLimit: config.RateLimitConfig{RequestsPerMinute: 6000, BurstSize: 100},
			CORS: config.CORSConfig{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"*"},
			},
		},
	}
}

type testServer struct {
	server  *Server
	malha   *fakeMalhaService
	browser *fakeBrowserService
	cache   *services.CacheService
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		malha:   &fakeMalhaService{records: map[string]models.JobRecord{}},
		browser: &fakeBrowserService{status: "healthy"},
		cache:   services.NewCacheService(nil, time.Hour, logger.Discard()),
	}
	container := &services.Container{
		MalhaService:   ts.malha,
		CacheService:   ts.cache,
		BrowserService: ts.browser,
	}
	ts.server = NewServer(cfg, logger.Discard(), container)
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.server.Router.ServeHTTP(w, req)
	return w
}

func TestSubmitJobs(t *testing.T) {
	ts := newTestServer(t, testConfig())

	w := ts.do(http.MethodPost, "/api/v1/jobs", models.BatchInput{
		Companies: []models.Company{
			{Name: "ACME", Login: "1", Password: "a"},
			{Name: "FULL", Login: "2", Password: "b"},
		},
		Years: []string{"2023"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var response models.SubmitJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Len(t, response.Jobs, 2)
	assert.Equal(t, 1, response.Queued)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestSubmitJobs_Invalid(t *testing.T) {
	ts := newTestServer(t, testConfig())

	tests := []struct {
		name string
		body interface{}
	}{
		{"no companies", models.BatchInput{}},
		{"missing password", models.BatchInput{Companies: []models.Company{{Name: "ACME", Login: "1"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(http.MethodPost, "/api/v1/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var response models.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, "INVALID_REQUEST", response.Code)
			assert.Equal(t, "/api/v1/jobs", response.Path)
		})
	}
}

func TestSubmitJobs_ServiceClosed(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.malha.closed = true

	w := ts.do(http.MethodPost, "/api/v1/jobs", models.BatchInput{
		Companies: []models.Company{{Name: "ACME", Login: "1", Password: "a"}},
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetJobAndResult(t *testing.T) {
	ts := newTestServer(t, testConfig())
	result := models.NewCompanyResult("ACME")
	result.Append(models.Cell{Account: "ACME", Year: "2023", MeshType: "02"}, nil)
	ts.malha.records["done"] = models.JobRecord{ID: "done", AccountName: "ACME", Status: models.JobStatusCompleted, Result: result}
	ts.malha.records["running"] = models.JobRecord{ID: "running", AccountName: "BETA", Status: models.JobStatusRunning}

	w := ts.do(http.MethodGet, "/api/v1/jobs/done", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var record models.JobRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, models.JobStatusCompleted, record.Status)

	w = ts.do(http.MethodGet, "/api/v1/jobs/done/result", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"name":"ACME","data":[{"Ano":"2023","Tipo de malha":"MFIC02","Tabela":[]}]}`, w.Body.String())

	w = ts.do(http.MethodGet, "/api/v1/jobs/running/result", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/jobs/missing/result", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.malha.records["a"] = models.JobRecord{ID: "a", Status: models.JobStatusQueued}

	w := ts.do(http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var response models.JobListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 1, response.Total)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, testConfig())

	w := ts.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Contains(t, health.Services, "browser")
	assert.Contains(t, health.Services, "malha")

	w = ts.do(http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	ts.browser.status = "unhealthy"

	w = ts.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = ts.do(http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "browser service is unhealthy")
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t, testConfig())

	w := ts.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var metrics models.MetricsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &metrics))
	assert.Equal(t, int64(1), metrics.Jobs.Completed)
	assert.Equal(t, int64(7), metrics.Cells.Documents)
	assert.Equal(t, 2, metrics.Browser.TotalBrowsers)
	assert.Equal(t, 1, metrics.Browser.ActiveBrowsers)
	assert.Positive(t, metrics.System.Goroutines)
}

func TestCacheEndpoints(t *testing.T) {
	ts := newTestServer(t, testConfig())

	w := ts.do(http.MethodDelete, "/api/v1/cache/jobs/abc", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, ts.cache.Set(context.Background(), services.JobCacheKey("abc"), "{}"))

	w = ts.do(http.MethodDelete, "/api/v1/cache/jobs/abc", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/cache/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodDelete, "/api/v1/cache/clear", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBrowserPoolListsLeasedPages(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.browser.leases = []models.PageLease{
		{PageID: "page-1", BrowserID: "browser-1", JobID: "job-1", Account: "ACME", AcquiredAt: time.Now()},
	}

	w := ts.do(http.MethodGet, "/api/v1/browser", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var pool models.BrowserPoolResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pool))
	assert.Equal(t, "healthy", pool.Status)
	require.Len(t, pool.Pages, 1)
	assert.Equal(t, "job-1", pool.Pages[0].JobID)
	assert.Equal(t, "ACME", pool.Pages[0].Account)

	w = ts.do(http.MethodGet, "/api/v1/browser/pages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pages []models.PageLease
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pages))
	assert.Len(t, pages, 1)
}

func TestBrowserRestartRefusesToInterruptJobs(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.browser.leases = []models.PageLease{{PageID: "page-1", JobID: "job-1", Account: "ACME"}}

	w := ts.do(http.MethodPost, "/api/v1/browser/restart", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "BROWSER_BUSY")
	assert.Zero(t, ts.browser.restarts)

	w = ts.do(http.MethodPost, "/api/v1/browser/restart?force=yes", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/browser/restart?force=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ts.browser.restarts)

	var restart models.BrowserRestartResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &restart))
	require.Len(t, restart.Interrupted, 1)
	assert.Equal(t, "job-1", restart.Interrupted[0].JobID)
}

func TestBrowserRestartWhenIdleAndHealth(t *testing.T) {
	ts := newTestServer(t, testConfig())

	w := ts.do(http.MethodPost, "/api/v1/browser/restart", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ts.browser.restarts)
	assert.Contains(t, w.Body.String(), `"interrupted":[]`)

	w = ts.do(http.MethodGet, "/api/v1/browser/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pages":[]`)

	ts.browser.status = "unhealthy"
	w = ts.do(http.MethodGet, "/api/v1/browser/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, testConfig())

	w := ts.do(http.MethodGet, "/api/v1/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodPut, "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RateLimit = config.RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1}
	ts := newTestServer(t, cfg)

	w := ts.do(http.MethodGet, "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Health checks are not limited
	w = ts.do(http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
