// Package mongo 提供基于 MongoDB 的 SyncBackend 实现
// 批量写入依赖多文档事务，需要副本集部署
package mongo

import (
	"context"
	"time"

	"fresh_chat_server/internal/config"
	"fresh_chat_server/internal/dao/backend"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Connect 连接 MongoDB 并检查连通性
func Connect(ctx context.Context, conf config.MongoConfig) (*mongo.Client, error) {
	uri := conf.URI
	if uri == "" {
		uri = "mongodb://127.0.0.1:27017"
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, backend.Unavailable(err, "连接 MongoDB 失败")
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, backend.Unavailable(err, "MongoDB 无法访问")
	}
	zap.L().Info("Connected to MongoDB", zap.String("database", conf.DatabaseName))
	return client, nil
}
