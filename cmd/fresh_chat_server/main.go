package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fresh_chat_server/internal/config"
	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/internal/dao/mongo"
	"fresh_chat_server/internal/dao/mysql"
	myredis "fresh_chat_server/internal/dao/redis"
	"fresh_chat_server/internal/gateway/websocket"
	"fresh_chat_server/internal/handler"
	"fresh_chat_server/internal/https_server"
	"fresh_chat_server/internal/infrastructure/logger"
	"fresh_chat_server/internal/infrastructure/mq"
	"fresh_chat_server/internal/infrastructure/oauth"
	"fresh_chat_server/internal/service"
	"fresh_chat_server/pkg/constants"
	"fresh_chat_server/pkg/util/jwt"
	"fresh_chat_server/pkg/util/snowflake"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	conf := config.GetConfig()

	// 2. 初始化日志
	if err := logger.Init(&conf.LogConfig, conf.Mode); err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer func() { _ = zap.L().Sync() }()
	zap.L().Info("日志初始化成功", zap.String("app", conf.AppName))

	// 3. 初始化 JWT、雪花算法与参数校验翻译
	jwt.Init(conf.JWTConfig.Secret, conf.JWTConfig.AccessTokenExpiry, conf.JWTConfig.RefreshTokenExpiry)
	snowflake.Init(conf.SnowflakeConfig.MachineID)
	if err := handler.InitTrans("zh"); err != nil {
		zap.L().Fatal("init validator translator failed", zap.Error(err))
	}

	// 4. 初始化同步存储
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := openBackend(ctx, conf)
	cancel()
	if err != nil {
		zap.L().Fatal("同步存储初始化失败", zap.String("backend", conf.Backend), zap.Error(err))
	}
	zap.L().Info("同步存储初始化成功", zap.String("backend", conf.Backend))

	// 5. 初始化 Google / Apple 登录，未配置 Client ID 时关闭
	var google oauth.Verifier
	if conf.OAuthConfig.GoogleClientID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		v, err := oauth.NewGoogleVerifier(ctx, conf.OAuthConfig)
		cancel()
		if err != nil {
			zap.L().Fatal("Google 登录初始化失败", zap.Error(err))
		}
		google = v
	}
	var apple oauth.Verifier
	if conf.OAuthConfig.AppleClientID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		v, err := oauth.NewAppleVerifier(ctx, conf.OAuthConfig)
		cancel()
		if err != nil {
			zap.L().Fatal("Apple 登录初始化失败", zap.Error(err))
		}
		apple = v
	}

	// 6. 初始化通知派发与 Service 层
	dispatcher := mq.NewDispatcher(conf.KafkaConfig, 4, constants.CHANNEL_SIZE)
	service.InitServices(service.Deps{
		Store:    store,
		Notifier: dispatcher,
		Google:   google,
		Apple:    apple,
		Location: conf.MainConfig.Location(),
	})
	zap.L().Info("Service 层初始化成功")

	// 7. 初始化 WebSocket 网关，通知由派发器回调到在线连接
	manager := websocket.NewManager(service.Svc)
	dispatcher.SetSender(manager)

	// 8. 初始化 HTTP 服务器
	engine := https_server.Init(conf.MainConfig, handler.NewHandlers(service.Svc, manager))
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", conf.MainConfig.Host, conf.MainConfig.Port),
		Handler: engine,
	}
	go func() {
		zap.L().Info("服务启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("server running fault", zap.Error(err))
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("关闭服务器...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("http shutdown", zap.Error(err))
	}
	// 先断开长连接，再停止派发与存储
	manager.Close()
	if err := dispatcher.Close(); err != nil {
		zap.L().Error("dispatcher close", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		zap.L().Error("backend close", zap.Error(err))
	}
	zap.L().Info("服务器已关闭")
}

// openBackend 按 syncConfig.backend 选择存储实现
func openBackend(ctx context.Context, conf *config.Config) (backend.SyncBackend, error) {
	switch conf.SyncConfig.Backend {
	case "memory":
		return backend.NewMemoryBackend(), nil
	case "redis":
		client, err := myredis.NewClient(ctx, conf.RedisConfig)
		if err != nil {
			return nil, err
		}
		return myredis.NewBackend(ctx, client, conf.SyncConfig.TxRetries)
	case mysql.DialectMySQL, mysql.DialectPostgres:
		db, err := mysql.Open(conf, conf.SyncConfig.Backend)
		if err != nil {
			return nil, err
		}
		return mysql.NewBackend(db), nil
	case "mongo":
		client, err := mongo.Connect(ctx, conf.MongoConfig)
		if err != nil {
			return nil, err
		}
		return mongo.NewBackend(ctx, client, conf.MongoConfig.DatabaseName)
	default:
		return nil, fmt.Errorf("unknown sync backend %q", conf.SyncConfig.Backend)
	}
}
