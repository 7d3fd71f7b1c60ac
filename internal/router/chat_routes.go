package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterChatRoutes 注册私聊路由（需要认证）
// 实时推送走 WebSocket，这里提供首屏拉取与无长连接时的写入
func (rt *Router) RegisterChatRoutes(rg *gin.RouterGroup) {
	chatGroup := rg.Group("/chat")
	{
		chatGroup.GET("/messages", rt.handlers.Chat.GetMessages)
		chatGroup.GET("/thread", rt.handlers.Chat.GetThread)
		chatGroup.GET("/unread", rt.handlers.Chat.GetUnread)

		chatGroup.POST("/send", rt.handlers.Chat.SendMessage)
		chatGroup.POST("/markRead", rt.handlers.Chat.MarkRead)
		chatGroup.POST("/typing", rt.handlers.Chat.SetTyping)
	}
}
