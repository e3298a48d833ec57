package handler

import (
	"github.com/gin-gonic/gin"

	"z-pixel-ai-api/internal/infrastructure/persistence/postgres"
	"z-pixel-ai-api/internal/infrastructure/persistence/redis"
	"z-pixel-ai-api/internal/interfaces/http/dto"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	pg    *postgres.Client
	cache *redis.Client
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(pg *postgres.Client, cache *redis.Client) *HealthHandler {
	return &HealthHandler{pg: pg, cache: cache}
}

// Health 综合健康检查：依赖全部可用才算健康
func (h *HealthHandler) Health(c *gin.Context) {
	checks := gin.H{"postgres": "ok", "redis": "ok"}
	healthy := true

	if err := h.pg.HealthCheck(c.Request.Context()); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	}
	if err := h.cache.HealthCheck(c.Request.Context()); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}

	if !healthy {
		c.JSON(503, gin.H{"status": "unhealthy", "checks": checks})
		return
	}
	dto.Success(c, checks)
}

// Ready 就绪探针
func (h *HealthHandler) Ready(c *gin.Context) {
	if err := h.pg.Ping(c.Request.Context()); err != nil {
		dto.ServiceUnavailable(c, "database not ready")
		return
	}
	dto.Success(c, gin.H{"status": "ready"})
}

// Live 存活探针
func (h *HealthHandler) Live(c *gin.Context) {
	dto.Success(c, gin.H{"status": "alive"})
}
