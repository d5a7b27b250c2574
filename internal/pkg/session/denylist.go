package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const denyKeyPrefix = "taskmanager:session:deny:"

// Denylist 记录已登出的 JWT jti，直到令牌自然过期。
//
// 登录令牌本身是无状态的，登出时把 jti 写入 Redis 并设置与剩余
// 有效期一致的 TTL，认证中间件据此拒绝已吊销的令牌。
type Denylist struct {
	rdb *redis.Client
}

// NewDenylist 创建基于 Redis 的令牌黑名单。
func NewDenylist(rdb *redis.Client) *Denylist {
	return &Denylist{rdb: rdb}
}

// Revoke 吊销 jti，ttl 为令牌剩余有效期。
func (d *Denylist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if d == nil || d.rdb == nil || jti == "" {
		return nil
	}
	if ttl <= 0 {
		return nil // 已经过期，无需记录
	}
	if err := d.rdb.Set(ctx, denyKeyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("denylist set: %w", err)
	}
	return nil
}

// IsRevoked 判断 jti 是否已被吊销。
func (d *Denylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if d == nil || d.rdb == nil || jti == "" {
		return false, nil
	}
	n, err := d.rdb.Exists(ctx, denyKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("denylist exists: %w", err)
	}
	return n > 0, nil
}
