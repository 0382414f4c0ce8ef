package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexconsult/malha-fiscal/internal/models"
)

func respondError(c *gin.Context, status int, title, message, code string) {
	c.JSON(status, models.ErrorResponse{
		Error:     title,
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
		Path:      c.Request.URL.Path,
	})
}
