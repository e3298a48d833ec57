package service

import (
	"fmt"
	"strings"
	"time"

	"z-pixel-ai-api/internal/domain/entity"
)

// 引擎的封闭错误集合。调用方用 errors.As 区分各变体，
// 每个变体只携带自己需要的字段。

// ValidationError 请求校验失败
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// RateLimitedError 限流拒绝
type RateLimitedError struct {
	Scope             string
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %ds", e.Scope, e.RetryAfterSeconds)
}

// BudgetExceededError 预算拒绝，附带当前统计便于用户自助重试
type BudgetExceededError struct {
	Reason string
	Stats  *entity.UserCostStats
}

func (e *BudgetExceededError) Error() string {
	return "budget exceeded: " + e.Reason
}

// ExternalServiceError 提供商侧失败
type ExternalServiceError struct {
	Message          string
	SafetyCategories []string
}

func (e *ExternalServiceError) Error() string {
	if len(e.SafetyCategories) > 0 {
		return fmt.Sprintf("request blocked by safety filters (%s)", strings.Join(e.SafetyCategories, ", "))
	}
	return e.Message
}

// TimeoutError 超时，stage 标识超时发生的环节
type TimeoutError struct {
	Stage   string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %s", e.Stage, e.Elapsed.Round(time.Second))
}

// UnknownError 无法归类的失败，保留原始信息
type UnknownError struct {
	Raw string
}

func (e *UnknownError) Error() string {
	return "unknown error: " + e.Raw
}
