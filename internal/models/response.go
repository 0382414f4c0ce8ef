package models

import (
	"time"
)

// SubmitJobsResponse is returned after a batch has been queued
type SubmitJobsResponse struct {
	Jobs      []JobRecord `json:"jobs"`
	Queued    int         `json:"queued" example:"2"`
	Timestamp time.Time   `json:"timestamp" example:"2024-01-15T10:30:00Z"`
}

// JobListResponse lists known jobs
type JobListResponse struct {
	Jobs      []JobRecord `json:"jobs"`
	Total     int         `json:"total" example:"2"`
	Timestamp time.Time   `json:"timestamp" example:"2024-01-15T10:30:00Z"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string    `json:"error" example:"Invalid request"`
	Message   string    `json:"message" example:"companies must not be empty"`
	Code      string    `json:"code,omitempty" example:"INVALID_REQUEST"`
	Timestamp time.Time `json:"timestamp" example:"2024-01-15T10:30:00Z"`
	Path      string    `json:"path" example:"/api/v1/jobs"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status" example:"healthy"`
	Timestamp time.Time              `json:"timestamp" example:"2024-01-15T10:30:00Z"`
	Version   string                 `json:"version" example:"1.0.0"`
	Services  map[string]ServiceInfo `json:"services"`
	Uptime    string                 `json:"uptime" example:"2h30m45s"`
}

// ServiceInfo represents individual service health
type ServiceInfo struct {
	Status    string    `json:"status" example:"healthy"`
	LastCheck time.Time `json:"last_check" example:"2024-01-15T10:30:00Z"`
	Error     string    `json:"error,omitempty"`
}

// MetricsResponse represents metrics response
type MetricsResponse struct {
	Jobs      JobsMetrics    `json:"jobs"`
	Cells     CellsMetrics   `json:"cells"`
	Browser   BrowserMetrics `json:"browser"`
	System    SystemMetrics  `json:"system"`
	Timestamp time.Time      `json:"timestamp" example:"2024-01-15T10:30:00Z"`
}

// JobsMetrics counts jobs by outcome
type JobsMetrics struct {
	Submitted int64 `json:"submitted" example:"12"`
	Completed int64 `json:"completed" example:"10"`
	Rejected  int64 `json:"rejected" example:"1"`
	Failed    int64 `json:"failed" example:"1"`
	Queued    int   `json:"queued" example:"0"`
}

// CellsMetrics counts extraction cells and documents across all jobs
type CellsMetrics struct {
	Processed        int64 `json:"processed" example:"96"`
	Resumed          int64 `json:"resumed" example:"24"`
	Failed           int64 `json:"failed" example:"2"`
	Documents        int64 `json:"documents" example:"310"`
	DocumentFailures int64 `json:"document_failures" example:"3"`
}

// BrowserMetrics represents browser metrics
type BrowserMetrics struct {
	ActiveBrowsers int `json:"active_browsers" example:"1"`
	TotalBrowsers  int `json:"total_browsers" example:"1"`
	Available      int `json:"available" example:"1"`
}

// SystemMetrics represents system metrics
type SystemMetrics struct {
	MemoryUsage float64 `json:"memory_usage" example:"512.5"`
	Goroutines  int     `json:"goroutines" example:"125"`
}

// PageLease is a browser page currently held by a job
type PageLease struct {
	PageID     string    `json:"page_id" example:"page-1a2b3c4d"`
	BrowserID  string    `json:"browser_id" example:"browser-9f8e7d6c"`
	JobID      string    `json:"job_id" example:"6f1c7c1e-5b7e-4d4a-9a57-0d0f0c0b1a2b"`
	Account    string    `json:"account" example:"ACME LTDA"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// BrowserPoolResponse describes the browser pool and the jobs using it
type BrowserPoolResponse struct {
	Status    string                 `json:"status" example:"healthy"`
	Stats     map[string]interface{} `json:"stats"`
	Pages     []PageLease            `json:"pages"`
	Timestamp time.Time              `json:"timestamp"`
}

// BrowserRestartResponse reports a pool restart and the jobs it interrupted
type BrowserRestartResponse struct {
	Message     string                 `json:"message" example:"Browser pool restarted"`
	Interrupted []PageLease            `json:"interrupted"`
	Stats       map[string]interface{} `json:"stats"`
	Timestamp   time.Time              `json:"timestamp"`
}
