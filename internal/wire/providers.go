// Package wire 提供依赖注入配置
package wire

import (
	"github.com/google/wire"

	"z-pixel-ai-api/internal/application/budget"
	"z-pixel-ai-api/internal/application/generation"
	"z-pixel-ai-api/internal/application/ratelimit"
	"z-pixel-ai-api/internal/config"
	"z-pixel-ai-api/internal/domain/repository"
	"z-pixel-ai-api/internal/domain/service"
	"z-pixel-ai-api/internal/infrastructure/notify"
	"z-pixel-ai-api/internal/infrastructure/persistence/postgres"
	"z-pixel-ai-api/internal/infrastructure/persistence/redis"
	"z-pixel-ai-api/internal/infrastructure/provider"
	"z-pixel-ai-api/internal/interfaces/http/handler"
	"z-pixel-ai-api/internal/interfaces/http/router"
)

// App 应用依赖容器
type App struct {
	Router *router.Router
	Pg     *postgres.Client
}

// DataLayer 数据层依赖容器
type DataLayer struct {
	PgClient      *postgres.Client
	TxManager     *postgres.TxManager
	CostRepo      *postgres.CostRecordRepository
	RateLimitRepo *postgres.RateLimitRepository
	UserRepo      *postgres.UserRepository

	RedisClient    *redis.Client
	RateLimitStore *redis.RateLimitStore
	ProfileCache   *redis.ProfileCache
}

// PostgresSet PostgreSQL 提供者集合
var PostgresSet = wire.NewSet(
	ProvidePostgresClient,
	postgres.NewTxManager,
	postgres.NewCostRecordRepository,
	postgres.NewRateLimitRepository,
	postgres.NewUserRepository,
)

// RepoSet 整合了具体实现与接口绑定的集合
var RepoSet = wire.NewSet(
	PostgresSet,
	wire.Bind(new(repository.Transactor), new(*postgres.TxManager)),
	wire.Bind(new(repository.CostRecordRepository), new(*postgres.CostRecordRepository)),
	wire.Bind(new(repository.UserRepository), new(*postgres.UserRepository)),
)

// RedisSet Redis 提供者集合
var RedisSet = wire.NewSet(
	ProvideRedisClient,
	redis.NewRateLimitStore,
	redis.NewProfileCache,
	wire.Bind(new(service.ProfileStore), new(*redis.ProfileCache)),
)

// GovernanceSet 限流与预算提供者集合
var GovernanceSet = wire.NewSet(
	ProvideRateLimitStore,
	ProvideLimiter,
	ProvideBudgetNotifier,
	ProvideBudgetController,
)

// ProviderSet 推理提供商集合
var ProviderSet = wire.NewSet(
	ProvideProviderClient,
	wire.Bind(new(service.InferenceProvider), new(*provider.Client)),
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	ProvideOrchestrator,
	handler.NewHealthHandler,
	handler.NewGenerationHandler,
	handler.NewStatsHandler,
	wire.Struct(new(router.Handlers), "*"),
	router.New,
)

// ProvidePostgresClient 提供 PostgreSQL 客户端
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup, nil
}

// ProvideRateLimitStore 按配置选择限流记录存储
func ProvideRateLimitStore(cfg *config.Config, redisStore *redis.RateLimitStore, pgStore *postgres.RateLimitRepository) repository.RateLimitStore {
	if cfg.Governance.RateLimit.Store == "postgres" {
		return pgStore
	}
	return redisStore
}

// ProvideLimiter 提供滑动窗口限流器
func ProvideLimiter(cfg *config.Config, store repository.RateLimitStore) *ratelimit.Limiter {
	return ratelimit.NewLimiter(store, cfg.Governance.RateLimit.FailOpen)
}

// ProvideBudgetNotifier 按配置选择预算告警通知器
func ProvideBudgetNotifier(cfg *config.Config) service.BudgetNotifier {
	if url := cfg.Governance.Budget.AlertWebhookURL; url != "" {
		return notify.NewWebhookNotifier(url)
	}
	return notify.NewLogNotifier()
}

// ProvideBudgetController 提供预算控制器
func ProvideBudgetController(cfg *config.Config, costRepo repository.CostRecordRepository, profiles service.ProfileStore, notifier service.BudgetNotifier) *budget.Controller {
	return budget.NewController(costRepo, profiles, notifier, cfg.Governance.Budget.AlertThreshold)
}

// ProvideProviderClient 提供推理提供商客户端
func ProvideProviderClient(cfg *config.Config) *provider.Client {
	return provider.NewClient(&cfg.Provider)
}

// ProvideOrchestrator 提供生成编排器
func ProvideOrchestrator(cfg *config.Config, limiter *ratelimit.Limiter, controller *budget.Controller, inference service.InferenceProvider) *generation.Orchestrator {
	return generation.NewOrchestrator(limiter, controller, inference, generation.Options{
		WatermarkEnabled: cfg.Generation.Watermark.Enabled,
		WatermarkLabel:   cfg.Generation.Watermark.Label,
		HistoryCapacity:  cfg.Generation.HistoryCapacity,
	})
}
