package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"z-pixel-ai-api/internal/application/ratelimit"
	"z-pixel-ai-api/internal/interfaces/http/dto"
)

// RateLimitPerUser 按用户标识限流。须放在 Auth 之后，
// 未认证请求回落到客户端 IP。
func RateLimitPerUser(limiter *ratelimit.Limiter, scope ratelimit.Scope) gin.HandlerFunc {
	return rateLimit(limiter, scope, func(c *gin.Context) string {
		if userID := c.GetString("user_id"); userID != "" {
			return userID
		}
		return c.ClientIP()
	})
}

// RateLimitPerIP 按客户端 IP 限流，用于登录、注册等未认证入口
func RateLimitPerIP(limiter *ratelimit.Limiter, scope ratelimit.Scope) gin.HandlerFunc {
	return rateLimit(limiter, scope, func(c *gin.Context) string {
		return c.ClientIP()
	})
}

// RateLimitGlobal 全局限流，所有请求共享同一配额
func RateLimitGlobal(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return rateLimit(limiter, ratelimit.ScopeGlobal, func(*gin.Context) string {
		return "all"
	})
}

func rateLimit(limiter *ratelimit.Limiter, scope ratelimit.Scope, identify func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := limiter.Admit(c.Request.Context(), scope, identify(c))
		if err != nil {
			// 只有 fail-closed 配置才会走到这里
			dto.ServiceUnavailable(c, "rate limiter unavailable")
			c.Abort()
			return
		}
		if !decision.Allowed {
			c.Header("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
			dto.ErrorWithDetail(c, http.StatusTooManyRequests, "rate limit exceeded", &dto.ErrorDetail{
				RetryAfterSeconds: decision.RetryAfterSeconds,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
