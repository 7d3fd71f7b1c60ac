// Package service 定义业务层接口
// 本文件定义所有 Service 接口，供 Handler 层与 WebSocket 网关调用
package service

import (
	"context"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/internal/model"
	"fresh_chat_server/internal/service/auth"
	"fresh_chat_server/internal/service/feed"
	"fresh_chat_server/internal/service/presence"
	"fresh_chat_server/internal/service/user"
)

// AuthService 登录与令牌
type AuthService interface {
	// Login 以已验证身份登录
	Login(ctx context.Context, identity model.Identity) (*auth.LoginResult, error)
	// GoogleLogin 校验 Google ID Token 后登录
	GoogleLogin(ctx context.Context, rawIDToken string) (*auth.LoginResult, error)
	// AppleLogin 校验 Apple ID Token 后登录
	AppleLogin(ctx context.Context, rawIDToken string) (*auth.LoginResult, error)
	// GuestLogin 访客登录
	GuestLogin(ctx context.Context, name string) (*auth.LoginResult, error)
	// Refresh 刷新双令牌
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	// ValidateTokenID 校验 Refresh Token 是否仍有效
	ValidateTokenID(ctx context.Context, userID, tokenID string) (bool, error)
}

// UserService 用户资料与互动计数
type UserService interface {
	EnsureProfile(ctx context.Context, identity model.Identity) (*model.UserProfile, bool, error)
	GetProfile(ctx context.Context, id string) (*model.UserProfile, error)
	UpdateProfile(ctx context.Context, owner string, req user.ProfileUpdate) (*model.UserProfile, error)
	SendHeart(ctx context.Context, from, to string) (int64, error)
	TrackProfileVisit(ctx context.Context, visitor, target string) (int64, error)
	BlockUser(ctx context.Context, me, target string) error
	ReportUser(ctx context.Context, me, target, reason string) (*model.Report, error)
	DeleteAccount(ctx context.Context, id string) error
}

// RelationshipService 好友关系状态机
type RelationshipService interface {
	// RequestFriend 发起好友申请
	RequestFriend(ctx context.Context, from, to string) (*model.Relationship, error)
	// AcceptFriend 接受对方的申请，重复调用无副作用
	AcceptFriend(ctx context.Context, me, other string) (*model.Relationship, error)
	// GetStatus 查询两人关系
	GetStatus(ctx context.Context, a, b string) (*model.Relationship, error)
	// List 涉及 viewer 的全部关系
	List(ctx context.Context, viewer string) ([]model.Relationship, error)
	// Subscribe 涉及 viewer 的关系变化推送
	Subscribe(viewer string, cb func([]model.Relationship)) backend.Unsubscribe
	// RecordInteraction 发送消息后更新连续天数
	RecordInteraction(ctx context.Context, a, b string) (int64, error)
}

// ChatService 消息、未读与输入状态
type ChatService interface {
	Send(ctx context.Context, threadKey string, msg model.Message) (*model.Message, error)
	MarkRead(ctx context.Context, threadKey, readerID string) error
	SetTyping(ctx context.Context, threadKey, userID string, typing bool) error
	Messages(ctx context.Context, threadKey, viewer string) ([]model.Message, error)
	Thread(ctx context.Context, threadKey, viewer string) (*model.ChatThread, error)
	UnreadCounts(ctx context.Context, viewer string) (map[string]int64, error)
	Subscribe(threadKey string, cb func([]model.Message)) backend.Unsubscribe
	SubscribeUnread(viewer string, cb func(map[string]int64)) backend.Unsubscribe
	SubscribeTyping(threadKey, viewer string, cb func([]string)) backend.Unsubscribe
}

// PresenceService 在线状态
type PresenceService interface {
	Touch(ctx context.Context, userID string) error
	StatusOf(ctx context.Context, userID string) (presence.Status, error)
}

// FeedService 附近 / 好友 / 聊天列表
type FeedService interface {
	Compose(ctx context.Context, viewerID string, f feed.Filter) ([]feed.Entry, error)
	Subscribe(viewerID string, f feed.Filter, cb func([]feed.Entry)) backend.Unsubscribe
}
