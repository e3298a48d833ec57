//go:build wireinject
// +build wireinject

package wire

import (
	"github.com/google/wire"

	"z-pixel-ai-api/internal/config"
)

// InitializeDataLayer 初始化数据层（用于迁移等离线任务）
func InitializeDataLayer(cfg *config.Config) (*DataLayer, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		wire.Struct(new(DataLayer), "*"),
	)
	return nil, nil, nil
}

// InitializeApp 初始化整个应用（带路由器）
func InitializeApp(cfg *config.Config) (*App, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		GovernanceSet,
		ProviderSet,
		RouterSet,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
