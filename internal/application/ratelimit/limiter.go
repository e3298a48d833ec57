package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"z-pixel-ai-api/internal/domain/repository"
	"z-pixel-ai-api/pkg/logger"
	"z-pixel-ai-api/pkg/metrics"
)

// Decision 限流判定结果
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
	// RetryAfterSeconds 拒绝时的建议重试间隔（秒，向上取整）
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

// Limiter 滑动窗口限流器。
// 存储故障时默认放行（fail-open）：限流属于非关键子系统，
// 其故障不应阻断正常流量，可用性优先于严格执行。
type Limiter struct {
	store    repository.RateLimitStore
	failOpen bool
	now      func() time.Time
}

// NewLimiter 创建限流器
func NewLimiter(store repository.RateLimitStore, failOpen bool) *Limiter {
	return &Limiter{
		store:    store,
		failOpen: failOpen,
		now:      time.Now,
	}
}

// CheckLimit 判定 (scope, identifier) 当前是否可放行。
// 只读不写，放行后需调用 RecordRequest 落账。
func (l *Limiter) CheckLimit(ctx context.Context, scope Scope, identifier string) (Decision, error) {
	now := l.now()
	since := now.Add(-scope.Window)

	stat, err := l.store.Window(ctx, scope.KeyPrefix, identifier, since)
	if err != nil {
		if l.failOpen {
			logger.Warn(ctx, "rate limit store unavailable, failing open",
				"scope", scope.KeyPrefix, "error", err.Error())
			metrics.RateLimitChecksTotal.WithLabelValues(scope.KeyPrefix, "failopen").Inc()
			return Decision{Allowed: true, Remaining: scope.MaxRequests, ResetTime: now}, nil
		}
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	remaining := scope.MaxRequests - int(stat.Count)
	if remaining < 0 {
		remaining = 0
	}

	resetTime := now
	if stat.Count > 0 {
		resetTime = stat.Oldest.Add(scope.Window)
	}

	if stat.Count >= int64(scope.MaxRequests) {
		retryAfter := int(math.Ceil(resetTime.Sub(now).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		metrics.RateLimitChecksTotal.WithLabelValues(scope.KeyPrefix, "denied").Inc()
		return Decision{
			Allowed:           false,
			Remaining:         0,
			ResetTime:         resetTime,
			RetryAfterSeconds: retryAfter,
		}, nil
	}

	metrics.RateLimitChecksTotal.WithLabelValues(scope.KeyPrefix, "allowed").Inc()
	return Decision{Allowed: true, Remaining: remaining, ResetTime: resetTime}, nil
}

// RecordRequest 放行后写入一条记录，并由存储惰性清理窗口外的旧记录
func (l *Limiter) RecordRequest(ctx context.Context, scope Scope, identifier string) error {
	if err := l.store.Record(ctx, scope.KeyPrefix, identifier, l.now(), scope.Window); err != nil {
		// 记账失败不阻断业务，与 fail-open 策略一致
		logger.Warn(ctx, "failed to record rate limit entry",
			"scope", scope.KeyPrefix, "error", err.Error())
		return err
	}
	return nil
}

// Admit 先判定后落账的组合操作
func (l *Limiter) Admit(ctx context.Context, scope Scope, identifier string) (Decision, error) {
	decision, err := l.CheckLimit(ctx, scope, identifier)
	if err != nil || !decision.Allowed {
		return decision, err
	}
	_ = l.RecordRequest(ctx, scope, identifier)
	return decision, nil
}
