// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"z-pixel-ai-api/internal/domain/entity"
)

// CostRecordRepository 成本台账仓储实现
type CostRecordRepository struct {
	client *Client
}

// NewCostRecordRepository 创建成本台账仓储
func NewCostRecordRepository(client *Client) *CostRecordRepository {
	return &CostRecordRepository{client: client}
}

// Reserve 原子预留流水。事务内先按用户取 advisory 锁串行化同一
// 用户的并发预留，再重新汇总当日/当月成本做最终判定，通过才插入。
// 两个并发请求都读到旧累计值时，后获锁者会在这里看到前者的流水。
func (r *CostRecordRepository) Reserve(ctx context.Context, record *entity.CostRecord, dailyLimit, monthlyLimit float64, dayStart, monthStart time.Time) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.CostRecordRepository.Reserve")
	defer span.End()

	reserved := false
	err := getDB(ctx, r.client.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", record.UserID).Error; err != nil {
			return fmt.Errorf("failed to acquire user lock: %w", err)
		}

		var daily, monthly float64
		row := tx.Model(&entity.CostRecord{}).
			Select("COALESCE(SUM(actual_cost) FILTER (WHERE created_at >= ?), 0), COALESCE(SUM(actual_cost), 0)", dayStart).
			Where("user_id = ? AND created_at >= ?", record.UserID, monthStart).
			Row()
		if err := row.Scan(&daily, &monthly); err != nil {
			return fmt.Errorf("failed to sum costs: %w", err)
		}

		if daily+record.EstimatedCost > dailyLimit || monthly+record.EstimatedCost > monthlyLimit {
			return nil
		}

		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to insert cost record: %w", err)
		}
		reserved = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	return reserved, nil
}

// Settle 结算流水
func (r *CostRecordRepository) Settle(ctx context.Context, recordID string, actualCost float64, tokensUsed, durationMs int) error {
	ctx, span := tracer.Start(ctx, "postgres.CostRecordRepository.Settle")
	defer span.End()

	result := getDB(ctx, r.client.db).Model(&entity.CostRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"actual_cost": actualCost,
			"tokens_used": tokensUsed,
			"duration_ms": durationMs,
		})
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("failed to settle cost record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("cost record %s not found", recordID)
	}
	return nil
}

// SumRange 汇总用户在 [start, end) 内的实际成本
func (r *CostRecordRepository) SumRange(ctx context.Context, userID string, start, end time.Time) (float64, error) {
	ctx, span := tracer.Start(ctx, "postgres.CostRecordRepository.SumRange")
	defer span.End()

	var sum float64
	err := getDB(ctx, r.client.db).Model(&entity.CostRecord{}).
		Select("COALESCE(SUM(actual_cost), 0)").
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, start, end).
		Scan(&sum).Error
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to sum cost range: %w", err)
	}
	return sum, nil
}

// SystemStats 系统级成本统计
func (r *CostRecordRepository) SystemStats(ctx context.Context, dayStart, monthStart time.Time) (*entity.SystemCostStats, error) {
	ctx, span := tracer.Start(ctx, "postgres.CostRecordRepository.SystemStats")
	defer span.End()

	stats := &entity.SystemCostStats{}
	row := getDB(ctx, r.client.db).Model(&entity.CostRecord{}).
		Select("COALESCE(SUM(actual_cost) FILTER (WHERE created_at >= ?), 0), COALESCE(SUM(actual_cost), 0), COUNT(DISTINCT user_id) FILTER (WHERE created_at >= ?)", dayStart, dayStart).
		Where("created_at >= ?", monthStart).
		Row()
	if err := row.Scan(&stats.TotalDailyCost, &stats.TotalMonthlyCost, &stats.ActiveUserCount); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to compute system stats: %w", err)
	}
	return stats, nil
}
