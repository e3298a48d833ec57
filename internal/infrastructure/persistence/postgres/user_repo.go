package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"z-pixel-ai-api/internal/domain/entity"
)

// UserRepository 用户仓储实现
type UserRepository struct {
	client *Client
}

// NewUserRepository 创建用户仓储
func NewUserRepository(client *Client) *UserRepository {
	return &UserRepository{client: client}
}

// Create 创建用户
func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	ctx, span := tracer.Start(ctx, "postgres.UserRepository.Create")
	defer span.End()

	if err := getDB(ctx, r.client.db).Create(user).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取用户，不存在时返回 nil
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	ctx, span := tracer.Start(ctx, "postgres.UserRepository.GetByID")
	defer span.End()

	var user entity.User
	if err := getDB(ctx, r.client.db).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// UpdateTier 更新用户订阅档位
func (r *UserRepository) UpdateTier(ctx context.Context, id string, tier string) error {
	ctx, span := tracer.Start(ctx, "postgres.UserRepository.UpdateTier")
	defer span.End()

	result := getDB(ctx, r.client.db).Model(&entity.User{}).
		Where("id = ?", id).
		Update("tier", tier)
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("failed to update user tier: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user %s not found", id)
	}
	return nil
}
