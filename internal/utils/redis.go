package utils

import (
	"bounty-overlay/internal/config"
	"bounty-overlay/internal/logger"

	"github.com/redis/go-redis/v9"
)

// OpenRedis：按配置创建 Redis 客户端
// 约束：未启用时返回 nil；连接延迟到首次命令，失败由调用方按缓存未命中处理
func OpenRedis(cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		return nil
	}
	logger.L().Debug("redis_open", "addr", cfg.Addr(), "db", cfg.DB)
	return redis.NewClient(&redis.Options{Addr: cfg.Addr(), Password: cfg.Pass, DB: cfg.DB})
}
