// Package router 提供 HTTP 路由注册
// 本文件是路由注册的入口，聚合所有子模块的路由
package router

import (
	"fresh_chat_server/internal/handler"
	"fresh_chat_server/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
)

// Router 持有 Handler 聚合，各子模块通过 rt.handlers 访问
type Router struct {
	handlers *handler.Handlers
}

// NewRouter 创建路由管理器
func NewRouter(handlers *handler.Handlers) *Router {
	return &Router{handlers: handlers}
}

// RegisterRoutes 注册所有路由
// 公开接口只有登录与令牌刷新，其余接口需要 Access Token，并在请求结束后刷新在线状态
func (rt *Router) RegisterRoutes(r *gin.Engine) {
	rt.RegisterAuthRoutes(r.Group(""))

	authed := r.Group("")
	authed.Use(middleware.JWTAuth())
	rt.RegisterWebSocketRoutes(authed) // 长连接自行刷新在线状态

	api := authed.Group("")
	api.Use(middleware.TouchPresence(rt.handlers.Presence))
	rt.RegisterUserRoutes(api)
	rt.RegisterFriendRoutes(api)
	rt.RegisterChatRoutes(api)
	rt.RegisterFeedRoutes(api)
}
