package notify

import (
	"context"

	"z-pixel-ai-api/internal/domain/service"
	"z-pixel-ai-api/pkg/logger"
)

// LogNotifier 未配置 webhook 时的默认通知器，告警只进日志
type LogNotifier struct{}

// NewLogNotifier 创建日志通知器
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Notify 记录一条告警日志
func (n *LogNotifier) Notify(ctx context.Context, alert service.BudgetAlert) error {
	logger.Warn(ctx, "budget threshold crossed",
		"user_id", alert.UserID,
		"tier", alert.Tier,
		"period", alert.Period,
		"used", alert.Used,
		"limit", alert.Limit,
		"ratio", alert.Ratio,
	)
	return nil
}
