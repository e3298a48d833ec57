package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"z-pixel-ai-api/internal/domain/entity"
	"z-pixel-ai-api/internal/domain/repository"
)

// RateLimitRepository 基于 rate_limit_records 表的限流存储。
// 单实例或低流量部署用它省掉 Redis 依赖，多实例高流量场景
// 应选择 Redis 实现。
type RateLimitRepository struct {
	client *Client
}

// NewRateLimitRepository 创建限流记录仓储
func NewRateLimitRepository(client *Client) *RateLimitRepository {
	return &RateLimitRepository{client: client}
}

// Window 统计窗口内的记录数与最早时间戳
func (r *RateLimitRepository) Window(ctx context.Context, scopeKey, identifier string, since time.Time) (repository.WindowStat, error) {
	ctx, span := tracer.Start(ctx, "postgres.RateLimitRepository.Window")
	defer span.End()

	var result struct {
		Count  int64
		Oldest sql.NullTime
	}
	err := getDB(ctx, r.client.db).Model(&entity.RateLimitRecord{}).
		Select("COUNT(*) AS count, MIN(timestamp) AS oldest").
		Where("scope_key = ? AND identifier = ? AND timestamp >= ?", scopeKey, identifier, since).
		Scan(&result).Error
	if err != nil {
		span.RecordError(err)
		return repository.WindowStat{}, fmt.Errorf("failed to query rate limit window: %w", err)
	}

	stat := repository.WindowStat{Count: result.Count}
	if result.Oldest.Valid {
		stat.Oldest = result.Oldest.Time
	}
	return stat, nil
}

// Record 写入放行记录并清理该键窗口外的旧行
func (r *RateLimitRepository) Record(ctx context.Context, scopeKey, identifier string, now time.Time, window time.Duration) error {
	ctx, span := tracer.Start(ctx, "postgres.RateLimitRepository.Record")
	defer span.End()

	db := getDB(ctx, r.client.db)
	record := &entity.RateLimitRecord{
		ScopeKey:   scopeKey,
		Identifier: identifier,
		Timestamp:  now,
	}
	if err := db.Create(record).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert rate limit record: %w", err)
	}

	// 惰性清理，失败不影响计数正确性
	db.Where("scope_key = ? AND identifier = ? AND timestamp < ?",
		scopeKey, identifier, now.Add(-window)).
		Delete(&entity.RateLimitRecord{})
	return nil
}
