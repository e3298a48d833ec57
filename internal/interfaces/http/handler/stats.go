package handler

import (
	"github.com/gin-gonic/gin"

	"z-pixel-ai-api/internal/application/budget"
	"z-pixel-ai-api/internal/domain/service"
	"z-pixel-ai-api/internal/interfaces/http/dto"
	"z-pixel-ai-api/pkg/logger"
)

// StatsHandler 成本统计处理器
type StatsHandler struct {
	budget   *budget.Controller
	profiles service.ProfileStore
}

// NewStatsHandler 创建统计处理器
func NewStatsHandler(controller *budget.Controller, profiles service.ProfileStore) *StatsHandler {
	return &StatsHandler{budget: controller, profiles: profiles}
}

// MyUsage 当前用户的成本与剩余预算
func (h *StatsHandler) MyUsage(c *gin.Context) {
	userID := c.GetString("user_id")

	tier, err := h.profiles.TierFor(c.Request.Context(), userID)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to resolve tier", err, "user_id", userID)
		dto.InternalError(c, "failed to load usage stats")
		return
	}

	stats, err := h.budget.GetUserStats(c.Request.Context(), userID, tier)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to load user stats", err, "user_id", userID)
		dto.InternalError(c, "failed to load usage stats")
		return
	}
	dto.Success(c, dto.FromUserStats(stats))
}

// SystemUsage 系统级成本统计（管理端）
func (h *StatsHandler) SystemUsage(c *gin.Context) {
	stats, err := h.budget.GetSystemStats(c.Request.Context())
	if err != nil {
		logger.Error(c.Request.Context(), "failed to load system stats", err)
		dto.InternalError(c, "failed to load system stats")
		return
	}
	dto.Success(c, dto.FromSystemStats(stats))
}
