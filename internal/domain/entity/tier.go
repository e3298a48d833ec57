// Package entity 定义领域实体
package entity

import "fmt"

// Tier 订阅档位
type Tier string

const (
	TierFree         Tier = "free"
	TierStandard     Tier = "standard"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// ParseTier 解析订阅档位，未知档位视为配置错误
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierFree, TierStandard, TierProfessional, TierEnterprise:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("invalid tier: %q", s)
	}
}

// TierBudget 档位预算（设计常量，运行期不可变）
type TierBudget struct {
	Tier                 Tier
	DailyLimit           float64
	MonthlyLimit         float64
	MaxSingleRequestCost float64
}

// tierBudgets 档位预算表
var tierBudgets = map[Tier]TierBudget{
	TierFree:         {Tier: TierFree, DailyLimit: 0.10, MonthlyLimit: 2.00, MaxSingleRequestCost: 0.05},
	TierStandard:     {Tier: TierStandard, DailyLimit: 5.00, MonthlyLimit: 100.00, MaxSingleRequestCost: 0.50},
	TierProfessional: {Tier: TierProfessional, DailyLimit: 20.00, MonthlyLimit: 500.00, MaxSingleRequestCost: 2.00},
	TierEnterprise:   {Tier: TierEnterprise, DailyLimit: 100.00, MonthlyLimit: 2000.00, MaxSingleRequestCost: 10.00},
}

// BudgetForTier 查找档位预算
func BudgetForTier(tier Tier) (TierBudget, error) {
	b, ok := tierBudgets[tier]
	if !ok {
		return TierBudget{}, fmt.Errorf("invalid tier: %q", tier)
	}
	return b, nil
}

// OperationKind 计费操作类型
type OperationKind string

const (
	OperationImageGeneration OperationKind = "image_generation"
	OperationImageEdit       OperationKind = "image_edit"
	OperationVideoGeneration OperationKind = "video_generation"
	OperationTextProcessing  OperationKind = "text_processing"
)

// operationCosts 各操作的预估成本（美元）
var operationCosts = map[OperationKind]float64{
	OperationImageGeneration: 0.02,
	OperationImageEdit:       0.05,
	OperationVideoGeneration: 0.10,
	OperationTextProcessing:  0.001,
}

// EstimatedCost 返回操作的预估成本，未知操作按图像编辑计
func EstimatedCost(kind OperationKind) float64 {
	if c, ok := operationCosts[kind]; ok {
		return c
	}
	return operationCosts[OperationImageEdit]
}
