// Package entity 定义领域实体
package entity

import "time"

// CostRecord 成本流水（追加型台账，仅在结算时更新一次实际成本）
type CostRecord struct {
	ID            string        `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID        string        `json:"user_id" gorm:"type:uuid;index:idx_cost_records_user_created;not null"`
	OperationKind OperationKind `json:"operation_kind" gorm:"type:varchar(32);not null"`
	EstimatedCost float64       `json:"estimated_cost" gorm:"type:numeric(12,6);not null"`
	ActualCost    float64       `json:"actual_cost" gorm:"type:numeric(12,6);not null"`
	TokensUsed    int           `json:"tokens_used" gorm:"not null;default:0"`
	DurationMs    int           `json:"duration_ms" gorm:"not null;default:0"`
	CreatedAt     time.Time     `json:"created_at" gorm:"autoCreateTime;index:idx_cost_records_user_created"`
}

func (CostRecord) TableName() string {
	return "cost_records"
}

// NewCostRecord 创建预留流水：实际成本先按预估计入，结算时覆盖
func NewCostRecord(userID string, kind OperationKind, estimated float64) *CostRecord {
	return &CostRecord{
		UserID:        userID,
		OperationKind: kind,
		EstimatedCost: estimated,
		ActualCost:    estimated,
	}
}

// UserCostStats 用户成本统计（cost_records 的投影，不落库）
type UserCostStats struct {
	UserID           string  `json:"user_id"`
	Tier             Tier    `json:"tier"`
	DailyCost        float64 `json:"daily_cost"`
	MonthlyCost      float64 `json:"monthly_cost"`
	DailyLimit       float64 `json:"daily_limit"`
	MonthlyLimit     float64 `json:"monthly_limit"`
	CanMakeRequest   bool    `json:"can_make_request"`
	RemainingDaily   float64 `json:"remaining_daily"`
	RemainingMonthly float64 `json:"remaining_monthly"`
}

// SystemCostStats 系统级成本统计
type SystemCostStats struct {
	TotalDailyCost     float64 `json:"total_daily_cost"`
	TotalMonthlyCost   float64 `json:"total_monthly_cost"`
	ActiveUserCount    int64   `json:"active_user_count"`
	AverageCostPerUser float64 `json:"average_cost_per_user"`
}
