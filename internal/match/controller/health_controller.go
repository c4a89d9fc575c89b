package controller

import (
	"context"
	"net/http"
	"time"

	"codeduel/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger is anything whose liveness can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthController reports the state of the store and the database.
type HealthController struct {
	store    Pinger
	database Pinger
	timeout  time.Duration
}

func NewHealthController(store, database Pinger) *HealthController {
	return &HealthController{store: store, database: database, timeout: 2 * time.Second}
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Database string `json:"database"`
}

// Health answers 200 when every dependency responds and 503 otherwise.
func (h *HealthController) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	resp := HealthResponse{
		Status:   "healthy",
		Store:    probe(ctx, "store", h.store),
		Database: probe(ctx, "database", h.database),
	}
	status := http.StatusOK
	if resp.Store != "up" || resp.Database != "up" {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func probe(ctx context.Context, name string, p Pinger) string {
	if p == nil {
		return "down"
	}
	if err := p.Ping(ctx); err != nil {
		logger.Warn(ctx, "health probe failed", zap.String("dependency", name), zap.Error(err))
		return "down"
	}
	return "up"
}
