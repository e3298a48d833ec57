package redis

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"z-pixel-ai-api/internal/domain/entity"
	"z-pixel-ai-api/internal/domain/repository"
)

// profileTTL 档位缓存时长。档位变更最多延迟这么久生效。
const profileTTL = 5 * time.Minute

// ProfileCache 用户档位缓存：Read-Through 包装用户仓储，
// singleflight 合并同一用户的并发回源。
type ProfileCache struct {
	client *Client
	users  repository.UserRepository
	group  singleflight.Group
}

// NewProfileCache 创建档位缓存
func NewProfileCache(client *Client, users repository.UserRepository) *ProfileCache {
	return &ProfileCache{client: client, users: users}
}

func profileKey(userID string) string {
	return "profile:tier:" + userID
}

// TierFor 返回用户当前订阅档位
func (c *ProfileCache) TierFor(ctx context.Context, userID string) (entity.Tier, error) {
	ctx, span := tracer.Start(ctx, "profile.TierFor",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	key := profileKey(userID)
	if cached, err := c.client.Get(ctx, key); err == nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return entity.Tier(cached), nil
	} else if !IsNil(err) {
		span.RecordError(err)
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		user, err := c.users.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, fmt.Errorf("user %s not found", userID)
		}
		// 回填失败只影响下次命中率
		_ = c.client.Set(ctx, key, user.Tier, profileTTL)
		return entity.Tier(user.Tier), nil
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to resolve user tier: %w", err)
	}
	return v.(entity.Tier), nil
}

// Invalidate 档位变更后立即失效缓存
func (c *ProfileCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, profileKey(userID))
}
