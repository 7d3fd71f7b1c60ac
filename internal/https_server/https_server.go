// Package https_server 提供 HTTP/HTTPS 服务器的初始化和配置
// 负责创建 Gin 引擎实例并配置中间件和路由
package https_server

import (
	"fresh_chat_server/internal/config"
	"fresh_chat_server/internal/handler"
	"fresh_chat_server/internal/infrastructure/logger"
	"fresh_chat_server/internal/infrastructure/middleware"
	"fresh_chat_server/internal/router"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Init 创建 Gin 引擎并注册中间件与业务路由
// 配置顺序：
//  1. 创建 Gin 引擎（不含默认中间件）
//  2. 注册日志和恢复中间件
//  3. 配置 CORS 跨域规则
//  4. 按配置启用 HTTPS 重定向
//  5. 注册业务路由
func Init(conf config.MainConfig, handlers *handler.Handlers) *gin.Engine {
	if conf.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	// Zap 日志中间件，替代 Gin 默认的日志
	engine.Use(logger.GinLogger())
	// 捕获 panic 并记录堆栈
	engine.Use(logger.GinRecovery(true))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	engine.Use(cors.New(corsConfig))

	// 由 Nginx 终止 TLS 时保持关闭
	if conf.ForceTLS {
		engine.Use(middleware.TlsHandler(conf.Host, conf.Port))
	}

	engine.GET("/healthz", func(c *gin.Context) {
		handler.HandleSuccess(c, gin.H{"app": conf.AppName})
	})

	rt := router.NewRouter(handlers)
	rt.RegisterRoutes(engine)

	return engine
}
