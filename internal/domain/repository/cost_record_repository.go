package repository

import (
	"context"
	"time"

	"z-pixel-ai-api/internal/domain/entity"
)

// CostRecordRepository 成本台账端口
type CostRecordRepository interface {
	// Reserve 原子预留：在同一事务内对用户加锁、重新汇总当日/当月成本，
	// 仅当加上预估成本仍在限额内时插入流水。返回是否预留成功。
	Reserve(ctx context.Context, record *entity.CostRecord, dailyLimit, monthlyLimit float64, dayStart, monthStart time.Time) (bool, error)

	// Settle 结算：覆盖实际成本与用量，流水仅被更新这一次
	Settle(ctx context.Context, recordID string, actualCost float64, tokensUsed, durationMs int) error

	// SumRange 汇总用户在 [start, end) 内的实际成本
	SumRange(ctx context.Context, userID string, start, end time.Time) (float64, error)

	// SystemStats 系统级统计：自 dayStart/monthStart 起的总成本与活跃用户数
	SystemStats(ctx context.Context, dayStart, monthStart time.Time) (*entity.SystemCostStats, error)
}
