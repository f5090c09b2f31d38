package redis

import (
	"context"
	"fmt"
	"time"

	"upscale-go/internal/imgtypes"

	"github.com/redis/go-redis/v9"
)

// redisResultCache 是 imgtypes.ResultCache 接口的 Redis 实现。
// 以上传内容的 SHA-256 为键，记录远程超分结果对应的输出文件名，避免重复调用付费 API。
type redisResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisResultCache 创建一个新的 redisResultCache 实例。ttl <= 0 表示不过期。
func NewRedisResultCache(client *redis.Client, ttl time.Duration) imgtypes.ResultCache {
	return &redisResultCache{client: client, ttl: ttl}
}

const resultKeyPrefix = "upscale:result:"

// Get 返回 digest 对应的输出文件名。键不存在时 found 为 false。
func (c *redisResultCache) Get(ctx context.Context, digest string) (string, bool, error) {
	key := resultKeyPrefix + digest
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil // Key 不存在
	}
	if err != nil {
		return "", false, fmt.Errorf("从 Redis 读取结果缓存失败 for digest %s: %w", digest, err)
	}
	return val, val != "", nil
}

// Put 记录 digest -> outputName。
func (c *redisResultCache) Put(ctx context.Context, digest string, outputName string) error {
	key := resultKeyPrefix + digest
	ttl := c.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, key, outputName, ttl).Err(); err != nil {
		return fmt.Errorf("写入 Redis 结果缓存失败 for digest %s: %w", digest, err)
	}
	return nil
}
