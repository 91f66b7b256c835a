package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/sendramp/ramp-service/internal/infrastructure/cache"
)

// HealthHandlers reports service and dependency health.
type HealthHandlers struct {
	db        *sqlx.DB
	redis     cache.RedisClient
	version   string
	startTime time.Time
}

func NewHealthHandlers(db *sqlx.DB, redis cache.RedisClient, version string) *HealthHandlers {
	return &HealthHandlers{
		db:        db,
		redis:     redis,
		version:   version,
		startTime: time.Now(),
	}
}

// Health checks the service and its hard dependencies.
// GET /health
func (h *HealthHandlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	status := http.StatusOK

	if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = "unhealthy"
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = "healthy"
	}

	if err := h.redis.Ping(ctx); err != nil {
		checks["redis"] = "unhealthy"
		status = http.StatusServiceUnavailable
	} else {
		checks["redis"] = "healthy"
	}

	c.JSON(status, gin.H{
		"status":    map[bool]string{true: "healthy", false: "unhealthy"}[status == http.StatusOK],
		"version":   h.version,
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}
