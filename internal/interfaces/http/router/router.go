// Package router 提供 HTTP 路由配置
package router

import (
	"z-pixel-ai-api/internal/application/ratelimit"
	"z-pixel-ai-api/internal/config"
	"z-pixel-ai-api/internal/interfaces/http/handler"
	"z-pixel-ai-api/internal/interfaces/http/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers 路由所需的处理器集合
type Handlers struct {
	Health     *handler.HealthHandler
	Generation *handler.GenerationHandler
	Stats      *handler.StatsHandler
}

// Router HTTP 路由器
type Router struct {
	engine   *gin.Engine
	cfg      *config.Config
	handlers Handlers
	limiter  *ratelimit.Limiter
}

// New 创建新的路由器
func New(cfg *config.Config, handlers Handlers, limiter *ratelimit.Limiter) *Router {
	// 设置 Gin 模式
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	r := &Router{
		engine:   engine,
		cfg:      cfg,
		handlers: handlers,
		limiter:  limiter,
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// setupMiddleware 配置中间件
func (r *Router) setupMiddleware() {
	// 基础中间件
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())

	// CORS 中间件
	r.engine.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: r.cfg.Security.CORS.AllowedOrigins,
		AllowedMethods: r.cfg.Security.CORS.AllowedMethods,
		AllowedHeaders: r.cfg.Security.CORS.AllowedHeaders,
	}))

	// 追踪中间件
	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name))
		r.engine.Use(middleware.TraceContext())
	}

	// 指标中间件
	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics())
	}

	// 认证中间件
	r.engine.Use(middleware.Auth(middleware.AuthConfig{
		Secret:    r.cfg.Security.JWT.Secret,
		Issuer:    r.cfg.Security.JWT.Issuer,
		SkipPaths: middleware.DefaultSkipPaths,
		Enabled:   r.cfg.Security.JWT.Secret != "",
	}))
}

// setupRoutes 配置路由
func (r *Router) setupRoutes() {
	// 系统端点
	r.engine.GET("/health", r.handlers.Health.Health)
	r.engine.GET("/ready", r.handlers.Health.Ready)
	r.engine.GET("/live", r.handlers.Health.Live)

	// Prometheus 指标端点
	if r.cfg.Observability.Metrics.Enabled {
		r.engine.GET(r.cfg.Observability.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// API v1 路由组
	v1 := r.engine.Group("/v1")
	{
		// 生成路由：全局/用户/生成范围的限流由编排器内部执行，
		// 此处不再套限流中间件，避免同一请求重复计数
		generations := v1.Group("/generations")
		{
			generations.POST("", r.handlers.Generation.Generate)
			generations.POST("/stream", r.handlers.Generation.GenerateStream)

			history := generations.Group("/history")
			history.Use(middleware.RateLimitPerUser(r.limiter, ratelimit.ScopeUser))
			{
				history.GET("", r.handlers.Generation.History)
				history.DELETE("", r.handlers.Generation.ClearHistory)
			}
		}

		// 用量统计路由
		usage := v1.Group("/usage")
		usage.Use(middleware.RateLimitPerUser(r.limiter, ratelimit.ScopeUser))
		{
			usage.GET("/me", r.handlers.Stats.MyUsage)
			usage.GET("/system", middleware.RequireRole("admin"), r.handlers.Stats.SystemUsage)
		}
	}
}
