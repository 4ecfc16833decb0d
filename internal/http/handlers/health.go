package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/kanda-backend/internal/data/repos"
	"github.com/yungbote/kanda-backend/internal/http/response"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	"github.com/yungbote/kanda-backend/internal/services"
)

type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

type HealthHandler struct {
	checks     []healthCheck
	aiProvider string
	characters repos.CharacterRepo
	jobs       services.JobService
}

// NewHealthHandler checks the database and, when configured, Redis. An empty
// aiProvider is reported as not configured.
func NewHealthHandler(db *gorm.DB, rdb *goredis.Client, aiProvider string, characters repos.CharacterRepo, jobs services.JobService) *HealthHandler {
	h := &HealthHandler{aiProvider: aiProvider, characters: characters, jobs: jobs}
	if db != nil {
		h.checks = append(h.checks, healthCheck{name: "database", check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}})
	}
	if rdb != nil {
		h.checks = append(h.checks, healthCheck{name: "redis", check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return h
}

func (h *HealthHandler) run(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	out := make(map[string]string, len(h.checks))
	healthy := true
	for _, hc := range h.checks {
		if err := hc.check(ctx); err != nil {
			out[hc.name] = "error: " + err.Error()
			healthy = false
			continue
		}
		out[hc.name] = "ok"
	}
	return out, healthy
}

// GET /healthcheck
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	checks, healthy := h.run(c.Request.Context())
	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

// GET /api/system/health
func (h *HealthHandler) SystemHealth(c *gin.Context) {
	ctx := c.Request.Context()
	checks, _ := h.run(ctx)
	checks["ai_provider"] = "not configured"
	if h.aiProvider != "" {
		checks["ai_provider"] = h.aiProvider + " configured"
	}

	dbc := dbctx.Context{Ctx: ctx}
	payload := gin.H{
		"status":        "success",
		"timestamp":     time.Now().UTC(),
		"system_status": checks,
	}
	if h.characters != nil {
		byStatus, err := h.characters.CountByStatus(dbc, nil)
		if err != nil {
			response.RespondServiceError(c, err)
			return
		}
		payload["processing_statistics"] = byStatus
	}
	if h.jobs != nil {
		depth, err := h.jobs.QueueDepth(dbc)
		if err != nil {
			response.RespondServiceError(c, err)
			return
		}
		payload["queue_depth"] = depth
	}
	response.RespondOK(c, payload)
}
