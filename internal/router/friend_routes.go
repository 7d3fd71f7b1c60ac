// Package router 提供 HTTP 路由注册
// 本文件定义好友相关的路由
package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterFriendRoutes 注册好友相关路由（需要认证）
func (rt *Router) RegisterFriendRoutes(rg *gin.RouterGroup) {
	friendGroup := rg.Group("/friend")
	{
		friendGroup.GET("/list", rt.handlers.Friend.List)     // 涉及自己的全部关系
		friendGroup.GET("/status", rt.handlers.Friend.Status) // 与某人的关系

		friendGroup.POST("/request", rt.handlers.Friend.Request) // 发起申请
		friendGroup.POST("/accept", rt.handlers.Friend.Accept)   // 接受申请
	}
}
