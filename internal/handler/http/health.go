package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"collabrun/internal/service"
)

// HealthHandler implements spec.md §6.1's health-check routes.
type HealthHandler struct {
	db   *gorm.DB
	jobs *service.JobService
}

func NewHealthHandler(db *gorm.DB, jobs *service.JobService) *HealthHandler {
	return &HealthHandler{db: db, jobs: jobs}
}

func (h *HealthHandler) DBHealth(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "database handle unavailable")
		return
	}
	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		ErrorResponse(c, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"status": "healthy"})
}

func (h *HealthHandler) QueueHealth(c *gin.Context) {
	stats, err := h.jobs.QueueStats(c.Request.Context())
	if err != nil {
		ErrorResponse(c, http.StatusServiceUnavailable, "queue unreachable")
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"status": "healthy", "waiting": stats.Waiting, "active": stats.Active})
}
