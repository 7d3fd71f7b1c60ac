// Package router 提供 HTTP 路由注册
// 本文件定义认证相关的路由
package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterAuthRoutes 注册认证相关路由（无需认证）
func (rt *Router) RegisterAuthRoutes(rg *gin.RouterGroup) {
	authGroup := rg.Group("/auth")
	{
		authGroup.POST("/google", rt.handlers.Auth.GoogleLogin) // Google ID Token 登录
		authGroup.POST("/apple", rt.handlers.Auth.AppleLogin)   // Apple ID Token 登录
		authGroup.POST("/guest", rt.handlers.Auth.GuestLogin)   // 访客登录
		authGroup.POST("/refresh", rt.handlers.Auth.RefreshToken)
	}
}
