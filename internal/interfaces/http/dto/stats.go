package dto

import "z-pixel-ai-api/internal/domain/entity"

// UserStatsResponse 用户成本统计
type UserStatsResponse struct {
	UserID           string  `json:"user_id"`
	Tier             string  `json:"tier"`
	DailyCost        float64 `json:"daily_cost"`
	MonthlyCost      float64 `json:"monthly_cost"`
	DailyLimit       float64 `json:"daily_limit"`
	MonthlyLimit     float64 `json:"monthly_limit"`
	RemainingDaily   float64 `json:"remaining_daily"`
	RemainingMonthly float64 `json:"remaining_monthly"`
	CanMakeRequest   bool    `json:"can_make_request"`
}

// FromUserStats 从领域统计构建响应
func FromUserStats(stats *entity.UserCostStats) UserStatsResponse {
	return UserStatsResponse{
		UserID:           stats.UserID,
		Tier:             string(stats.Tier),
		DailyCost:        stats.DailyCost,
		MonthlyCost:      stats.MonthlyCost,
		DailyLimit:       stats.DailyLimit,
		MonthlyLimit:     stats.MonthlyLimit,
		RemainingDaily:   stats.RemainingDaily,
		RemainingMonthly: stats.RemainingMonthly,
		CanMakeRequest:   stats.CanMakeRequest,
	}
}

// SystemStatsResponse 系统成本统计
type SystemStatsResponse struct {
	TotalDailyCost     float64 `json:"total_daily_cost"`
	TotalMonthlyCost   float64 `json:"total_monthly_cost"`
	ActiveUserCount    int64   `json:"active_user_count"`
	AverageCostPerUser float64 `json:"average_cost_per_user"`
}

// FromSystemStats 从领域统计构建响应
func FromSystemStats(stats *entity.SystemCostStats) SystemStatsResponse {
	return SystemStatsResponse{
		TotalDailyCost:     stats.TotalDailyCost,
		TotalMonthlyCost:   stats.TotalMonthlyCost,
		ActiveUserCount:    stats.ActiveUserCount,
		AverageCostPerUser: stats.AverageCostPerUser,
	}
}
