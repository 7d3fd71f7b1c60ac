// Package redis 提供基于 Redis 的 SyncBackend 实现
// 使用 github.com/redis/go-redis/v9 作为底层客户端
package redis

import (
	"context"
	"strconv"
	"time"

	"fresh_chat_server/internal/config"
	"fresh_chat_server/pkg/errorx"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewClient 根据配置创建 Redis 客户端并检查连通性
func NewClient(ctx context.Context, conf config.RedisConfig) (*redis.Client, error) {
	addr := conf.Host + ":" + strconv.Itoa(conf.Port)

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: conf.Password,
		DB:       conf.Db,
		// 连接池配置
		PoolSize:     50, // 最大连接数
		MinIdleConns: 15, // 最小空闲连接
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errorx.Wrapf(err, errorx.CodeBackendUnavailable, "连接 Redis %s 失败", addr)
	}
	zap.L().Info("Redis connected", zap.String("addr", addr), zap.Int("db", conf.Db))
	return client, nil
}
