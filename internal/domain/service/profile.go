package service

import (
	"context"

	"z-pixel-ai-api/internal/domain/entity"
)

// ProfileStore 用户档案端口：提供用户当前订阅档位。
// 档位枚举之外的值按配置错误处理，调用方应拒绝请求。
type ProfileStore interface {
	TierFor(ctx context.Context, userID string) (entity.Tier, error)
}
