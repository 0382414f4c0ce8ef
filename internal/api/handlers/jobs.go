package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexconsult/malha-fiscal/internal/models"
	"github.com/nexconsult/malha-fiscal/internal/services"
	"github.com/sirupsen/logrus"
)

// JobsHandler handles job intake and result requests
type JobsHandler struct {
	malhaService services.MalhaServiceInterface
	logger       *logrus.Logger
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(malhaService services.MalhaServiceInterface, logger *logrus.Logger) *JobsHandler {
	return &JobsHandler{
		malhaService: malhaService,
		logger:       logger,
	}
}

// Submit handles batch submission
// @Summary Submit companies for extraction
// @Description Queue one extraction job per company. Years and mesh types fall back to the server defaults.
// @Tags Jobs
// @Accept json
// @Produce json
// @Param request body models.BatchInput true "Companies, years and mesh types"
// @Success 202 {object} models.SubmitJobsResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /jobs [post]
func (h *JobsHandler) Submit(c *gin.Context) {
	requestID := c.GetString("request_id")

	var input models.BatchInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Warn("Invalid batch request")

		respondError(c, http.StatusBadRequest, "Invalid request", err.Error(), "INVALID_REQUEST")
		return
	}

	records, err := h.malhaService.Submit(c.Request.Context(), input)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to submit batch")

		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrServiceClosed) || errors.Is(err, services.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		respondError(c, status, "Submission failed", err.Error(), "SUBMIT_ERROR")
		return
	}

	queued := 0
	for _, record := range records {
		if record.Status == models.JobStatusQueued {
			queued++
		}
	}

	h.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"companies":  len(input.Companies),
		"queued":     queued,
	}).Info("Batch submitted")

	c.JSON(http.StatusAccepted, models.SubmitJobsResponse{
		Jobs:      records,
		Queued:    queued,
		Timestamp: time.Now(),
	})
}

// List handles job listing
// @Summary List jobs
// @Description List every job submitted to this instance, oldest first
// @Tags Jobs
// @Produce json
// @Success 200 {object} models.JobListResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /jobs [get]
func (h *JobsHandler) List(c *gin.Context) {
	jobs, err := h.malhaService.ListJobs(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Internal server error", "Failed to list jobs", "JOB_LIST_ERROR")
		return
	}

	c.JSON(http.StatusOK, models.JobListResponse{
		Jobs:      jobs,
		Total:     len(jobs),
		Timestamp: time.Now(),
	})
}

// Get handles a single job lookup
// @Summary Get job
// @Description Get the status, statistics and result of a job
// @Tags Jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} models.JobRecord
// @Failure 404 {object} models.ErrorResponse
// @Router /jobs/{id} [get]
func (h *JobsHandler) Get(c *gin.Context) {
	id := c.Param("id")

	record, err := h.malhaService.GetJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			respondError(c, http.StatusNotFound, "Not found", "Job "+id+" not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.WithError(err).WithField("job_id", id).Error("Failed to get job")
		respondError(c, http.StatusInternalServerError, "Internal server error", "Failed to get job", "JOB_GET_ERROR")
		return
	}

	c.JSON(http.StatusOK, record)
}

// GetResult handles result retrieval
// @Summary Get job result
// @Description Get the company result of a completed job, in the same shape as the dataset record
// @Tags Jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} models.CompanyResult
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /jobs/{id}/result [get]
func (h *JobsHandler) GetResult(c *gin.Context) {
	id := c.Param("id")

	result, err := h.malhaService.GetResult(c.Request.Context(), id)
	switch {
	case errors.Is(err, services.ErrJobNotFound):
		respondError(c, http.StatusNotFound, "Not found", "Job "+id+" not found", "JOB_NOT_FOUND")
	case errors.Is(err, services.ErrResultNotReady):
		respondError(c, http.StatusConflict, "Result not ready", "Job "+id+" has not completed", "RESULT_NOT_READY")
	case err != nil:
		h.logger.WithError(err).WithField("job_id", id).Error("Failed to get job result")
		respondError(c, http.StatusInternalServerError, "Internal server error", "Failed to get job result", "RESULT_GET_ERROR")
	default:
		c.JSON(http.StatusOK, result)
	}
}
