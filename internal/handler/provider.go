// Package handler 提供 HTTP 请求处理器
// 本文件定义 Handler 聚合结构和构造函数
package handler

import (
	"fresh_chat_server/internal/service"
)

// Handlers 聚合所有 Handler 实例
// Router 层通过此结构访问各个 Handler
type Handlers struct {
	Auth   *AuthHandler
	User   *UserHandler
	Friend *FriendHandler
	Chat   *ChatHandler
	Feed   *FeedHandler
	Ws     *WsHandler

	// Presence 供中间件刷新在线状态
	Presence service.PresenceService
}

// NewHandlers 创建并注入所有 Handler 实例
func NewHandlers(svc *service.Services, conns ConnServer) *Handlers {
	return &Handlers{
		Auth:     NewAuthHandler(svc.Auth),
		User:     NewUserHandler(svc.User),
		Friend:   NewFriendHandler(svc.Relationship),
		Chat:     NewChatHandler(svc.Chat),
		Feed:     NewFeedHandler(svc.Feed, svc.Presence),
		Ws:       NewWsHandler(conns),
		Presence: svc.Presence,
	}
}
