package service

import "context"

// BudgetAlert 预算阈值告警事件。仅作通知，从不阻断请求。
type BudgetAlert struct {
	UserID string  `json:"user_id"`
	Tier   string  `json:"tier"`
	Period string  `json:"period"` // daily / monthly
	Used   float64 `json:"used"`
	Limit  float64 `json:"limit"`
	Ratio  float64 `json:"ratio"`
}

// BudgetNotifier 预算告警端口。实现应 best-effort，不得阻塞主流程。
type BudgetNotifier interface {
	Notify(ctx context.Context, alert BudgetAlert) error
}
