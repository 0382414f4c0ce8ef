package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexconsult/malha-fiscal/internal/models"
	"github.com/nexconsult/malha-fiscal/internal/services"
	"github.com/sirupsen/logrus"
)

// BrowserHandler exposes the Chrome pool and the jobs holding its pages
type BrowserHandler struct {
	browserService services.BrowserServiceInterface
	logger         *logrus.Logger
}

// NewBrowserHandler creates a new browser handler
func NewBrowserHandler(browserService services.BrowserServiceInterface, logger *logrus.Logger) *BrowserHandler {
	return &BrowserHandler{
		browserService: browserService,
		logger:         logger,
	}
}

// GetPool handles the pool overview request
// @Summary Get browser pool
// @Description Pool statistics plus every page currently leased to an extraction job
// @Tags Browser
// @Produce json
// @Success 200 {object} models.BrowserPoolResponse
// @Router /browser [get]
func (h *BrowserHandler) GetPool(c *gin.Context) {
	c.JSON(http.StatusOK, h.pool())
}

// GetPages handles the page lease listing
// @Summary List leased pages
// @Description Pages held by running jobs, oldest first
// @Tags Browser
// @Produce json
// @Success 200 {array} models.PageLease
// @Router /browser/pages [get]
func (h *BrowserHandler) GetPages(c *gin.Context) {
	c.JSON(http.StatusOK, h.leases())
}

// Restart handles browser pool restart request
// @Summary Restart browser pool
// @Description Restart every Chrome process. While jobs hold pages the restart is refused unless force=true, in which case those jobs lose their current attempt and are retried.
// @Tags Browser
// @Produce json
// @Param force query bool false "Interrupt running jobs"
// @Success 200 {object} models.BrowserRestartResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /browser/restart [post]
func (h *BrowserHandler) Restart(c *gin.Context) {
	requestID := c.GetString("request_id")

	force, err := strconv.ParseBool(c.DefaultQuery("force", "false"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request", "force must be a boolean", "INVALID_REQUEST")
		return
	}

	leases := h.leases()
	if len(leases) > 0 && !force {
		respondError(c, http.StatusConflict, "Browser pool busy",
			fmt.Sprintf("%d job(s) hold browser pages; retry with force=true to interrupt them", len(leases)),
			"BROWSER_BUSY")
		return
	}

	log := h.logger.WithFields(logrus.Fields{
		"request_id":  requestID,
		"interrupted": len(leases),
	})
	for _, lease := range leases {
		log.WithFields(logrus.Fields{
			"job_id":  lease.JobID,
			"account": lease.Account,
			"page_id": lease.PageID,
		}).Warn("Restart interrupts running job")
	}

	if err := h.browserService.Restart(); err != nil {
		log.WithError(err).Error("Failed to restart browser pool")
		respondError(c, http.StatusInternalServerError, "Internal server error", "Failed to restart browser pool", "BROWSER_RESTART_ERROR")
		return
	}
	log.Info("Browser pool restarted")

	c.JSON(http.StatusOK, models.BrowserRestartResponse{
		Message:     "Browser pool restarted",
		Interrupted: leases,
		Stats:       h.browserService.GetStats(),
		Timestamp:   time.Now(),
	})
}

// GetHealth handles browser pool health check request
// @Summary Get browser pool health
// @Description Pool overview answered with 503 when no browser is usable
// @Tags Browser
// @Produce json
// @Success 200 {object} models.BrowserPoolResponse
// @Failure 503 {object} models.BrowserPoolResponse
// @Router /browser/health [get]
func (h *BrowserHandler) GetHealth(c *gin.Context) {
	pool := h.pool()

	status := http.StatusOK
	if pool.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, pool)
}

func (h *BrowserHandler) pool() models.BrowserPoolResponse {
	status, _ := h.browserService.Health()["status"].(string)
	if status == "" {
		status = "unknown"
	}
	return models.BrowserPoolResponse{
		Status:    status,
		Stats:     h.browserService.GetStats(),
		Pages:     h.leases(),
		Timestamp: time.Now(),
	}
}

func (h *BrowserHandler) leases() []models.PageLease {
	leases := h.browserService.Leases()
	if leases == nil {
		leases = []models.PageLease{}
	}
	return leases
}
