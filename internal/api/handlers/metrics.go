package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexconsult/malha-fiscal/internal/models"
	"github.com/nexconsult/malha-fiscal/internal/services"
	"github.com/sirupsen/logrus"
)

// MetricsHandler handles metrics requests
type MetricsHandler struct {
	malhaService   services.MalhaServiceInterface
	browserService services.BrowserServiceInterface
	logger         *logrus.Logger
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(malhaService services.MalhaServiceInterface, browserService services.BrowserServiceInterface, logger *logrus.Logger) *MetricsHandler {
	return &MetricsHandler{
		malhaService:   malhaService,
		browserService: browserService,
		logger:         logger,
	}
}

// GetMetrics handles metrics request
// @Summary Get application metrics
// @Description Job, cell, browser and runtime counters
// @Tags Metrics
// @Produce json
// @Success 200 {object} models.MetricsResponse
// @Router /metrics [get]
func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	h.logger.WithField("request_id", c.GetString("request_id")).Debug("Getting application metrics")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	jobs, cells := h.malhaService.Metrics()
	browserStats := h.browserService.GetStats()

	c.JSON(http.StatusOK, models.MetricsResponse{
		Jobs:  jobs,
		Cells: cells,
		Browser: models.BrowserMetrics{
			ActiveBrowsers: getIntFromStats(browserStats, "healthy_browsers"),
			TotalBrowsers:  getIntFromStats(browserStats, "total_browsers"),
			Available:      getIntFromStats(browserStats, "available"),
		},
		System: models.SystemMetrics{
			MemoryUsage: float64(m.Alloc) / 1024 / 1024, // MB
			Goroutines:  runtime.NumGoroutine(),
		},
		Timestamp: time.Now(),
	})
}

// getIntFromStats safely reads an int out of a stats map
func getIntFromStats(stats map[string]interface{}, key string) int {
	if value, exists := stats[key]; exists {
		if intValue, ok := value.(int); ok {
			return intValue
		}
	}
	return 0
}
