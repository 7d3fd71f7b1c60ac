// Package service 提供业务逻辑层
// 本文件实现 Service 层的依赖注入和聚合
package service

import (
	"time"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/internal/infrastructure/mq"
	"fresh_chat_server/internal/infrastructure/oauth"
	"fresh_chat_server/internal/service/auth"
	"fresh_chat_server/internal/service/chat"
	"fresh_chat_server/internal/service/feed"
	"fresh_chat_server/internal/service/gamification"
	"fresh_chat_server/internal/service/presence"
	"fresh_chat_server/internal/service/relationship"
	"fresh_chat_server/internal/service/user"
)

// Services 聚合所有 Service 实例
// 作为依赖注入的入口，Handler 层通过 service.Svc 访问各个 Service
type Services struct {
	Auth         AuthService
	User         UserService
	Relationship RelationshipService
	Chat         ChatService
	Presence     PresenceService
	Feed         FeedService
}

// Deps 构造 Services 所需的基础设施
type Deps struct {
	Store    backend.SyncBackend
	Notifier mq.Dispatcher
	Google   oauth.Verifier   // 可为 nil
	Apple    oauth.Verifier   // 可为 nil
	Location *time.Location   // 连续天数的自然日时区
	Now      func() time.Time // 可为 nil
}

// NewServices 创建并注入所有 Service 实例
// 依赖注入流程：
//  1. 经验引擎作为叶子依赖最先创建
//  2. 关系服务依赖经验引擎，聊天服务再依赖两者
//  3. 返回 Services 聚合
func NewServices(d Deps) *Services {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}

	xp := gamification.NewEngine(d.Store)
	relSvc := relationship.NewRelationshipService(d.Store, xp, d.Notifier,
		relationship.WithClock(now), relationship.WithLocation(loc))
	chatSvc := chat.NewChatService(d.Store, relSvc, xp, d.Notifier, chat.WithClock(now))
	userSvc := user.NewUserService(d.Store, xp, now)

	return &Services{
		Auth:         auth.NewAuthService(d.Store, userSvc, d.Google, d.Apple),
		User:         userSvc,
		Relationship: relSvc,
		Chat:         chatSvc,
		Presence:     presence.NewTracker(d.Store, now),
		Feed:         feed.NewComposer(d.Store, now),
	}
}

// Svc 全局 Services 实例
// Handler 层通过 service.Svc.Chat.Send() 等方式调用
var Svc *Services

// InitServices 初始化全局 Services 实例
// 应在 main.go 中调用，在同步存储与通知派发初始化之后
func InitServices(d Deps) {
	Svc = NewServices(d)
}
