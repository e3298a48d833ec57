package repository

import (
	"context"

	"z-pixel-ai-api/internal/domain/entity"
)

// UserRepository 用户档案端口（订阅档位由外部档案协作方维护）
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*entity.User, error)
	Create(ctx context.Context, user *entity.User) error
	UpdateTier(ctx context.Context, id string, tier string) error
}
