package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"z-pixel-ai-api/internal/domain/repository"
)

// RateLimitStore 基于 ZSET 的滑动窗口限流存储。
// score 为毫秒时间戳，member 唯一化避免同毫秒写入互相覆盖。
type RateLimitStore struct {
	client *Client
}

// NewRateLimitStore 创建限流存储
func NewRateLimitStore(client *Client) *RateLimitStore {
	return &RateLimitStore{client: client}
}

func limitKey(scopeKey, identifier string) string {
	return scopeKey + ":" + identifier
}

// Window 统计窗口内的记录数与最早时间戳
func (s *RateLimitStore) Window(ctx context.Context, scopeKey, identifier string, since time.Time) (repository.WindowStat, error) {
	ctx, span := tracer.Start(ctx, "ratelimit.Window")
	key := limitKey(scopeKey, identifier)
	span.SetAttributes(attribute.String("ratelimit.key", key))
	defer span.End()

	pipe := s.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", since.UnixMilli()-1))
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return repository.WindowStat{}, fmt.Errorf("failed to query rate limit window: %w", err)
	}

	stat := repository.WindowStat{Count: countCmd.Val()}
	if entries := oldestCmd.Val(); len(entries) > 0 {
		stat.Oldest = time.UnixMilli(int64(entries[0].Score))
	}
	span.SetAttributes(attribute.Int64("ratelimit.current_count", stat.Count))
	return stat, nil
}

// Record 写入一条放行记录
func (s *RateLimitStore) Record(ctx context.Context, scopeKey, identifier string, now time.Time, window time.Duration) error {
	ctx, span := tracer.Start(ctx, "ratelimit.Record")
	key := limitKey(scopeKey, identifier)
	span.SetAttributes(attribute.String("ratelimit.key", key))
	defer span.End()

	pipe := s.client.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()),
	})
	pipe.Expire(ctx, key, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record rate limit entry: %w", err)
	}
	return nil
}
