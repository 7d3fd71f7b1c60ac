package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterFeedRoutes 注册列表与在线状态路由（需要认证）
func (rt *Router) RegisterFeedRoutes(rg *gin.RouterGroup) {
	rg.GET("/feed", rt.handlers.Feed.GetFeed)

	presenceGroup := rg.Group("/presence")
	{
		presenceGroup.POST("/touch", rt.handlers.Feed.Touch)
		presenceGroup.GET("/status", rt.handlers.Feed.GetPresence)
	}
}
