// Package ratelimit 提供滑动窗口限流
package ratelimit

import "time"

// Scope 限流作用域：每个作用域对每个标识符独立计数
type Scope struct {
	// KeyPrefix 存储键前缀
	KeyPrefix string
	// MaxRequests 窗口内最大放行数
	MaxRequests int
	// Window 滑动窗口长度
	Window time.Duration
}

// 作用域限额为设计常量，调整前需要产品侧确认
var (
	ScopeGlobal       = Scope{KeyPrefix: "rl:global", MaxRequests: 1000, Window: time.Hour}
	ScopeUser         = Scope{KeyPrefix: "rl:user", MaxRequests: 100, Window: time.Hour}
	ScopeGeneration   = Scope{KeyPrefix: "rl:generation", MaxRequests: 20, Window: time.Hour}
	ScopeUpload       = Scope{KeyPrefix: "rl:upload", MaxRequests: 50, Window: time.Hour}
	ScopeLogin        = Scope{KeyPrefix: "rl:login", MaxRequests: 10, Window: 15 * time.Minute}
	ScopeRegistration = Scope{KeyPrefix: "rl:registration", MaxRequests: 5, Window: time.Hour}
)
