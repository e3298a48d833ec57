package repository

import (
	"context"
	"time"
)

// WindowStat 滑动窗口内的记录统计
type WindowStat struct {
	Count  int64
	Oldest time.Time // Count 为 0 时为零值
}

// RateLimitStore 限流记录存储端口
type RateLimitStore interface {
	// Window 统计 (scopeKey, identifier) 自 since 起的记录数与最早时间戳
	Window(ctx context.Context, scopeKey, identifier string, since time.Time) (WindowStat, error)

	// Record 写入一条放行记录，并惰性清理该键窗口外的旧记录
	Record(ctx context.Context, scopeKey, identifier string, now time.Time, window time.Duration) error
}
