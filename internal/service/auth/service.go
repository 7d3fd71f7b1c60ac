// Package auth 负责登录签发令牌与令牌刷新
// 身份来自外部提供方（Google / Apple ID Token 或访客），服务端只保存用户 ID 与当前有效的 Refresh Token ID
package auth

import (
	"context"
	"errors"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/internal/infrastructure/oauth"
	"fresh_chat_server/internal/model"
	"fresh_chat_server/pkg/constants"
	"fresh_chat_server/pkg/errorx"
	"fresh_chat_server/pkg/util/jwt"

	"go.uber.org/zap"
)

// ProfileEnsurer 首次登录建档，由 user 服务实现
type ProfileEnsurer interface {
	EnsureProfile(ctx context.Context, identity model.Identity) (*model.UserProfile, bool, error)
}

// TokenPair 双令牌
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// LoginResult 登录结果
type LoginResult struct {
	TokenPair
	Profile model.UserProfile `json:"profile"`
	IsNew   bool              `json:"isNew"`
}

// Service 认证服务实现
type Service struct {
	store  backend.SyncBackend
	users  ProfileEnsurer
	google oauth.Verifier // 为 nil 时关闭 Google 登录
	apple  oauth.Verifier // 为 nil 时关闭 Apple 登录
}

// NewAuthService 创建认证服务实例，google / apple 可为 nil
func NewAuthService(store backend.SyncBackend, users ProfileEnsurer, google, apple oauth.Verifier) *Service {
	return &Service{store: store, users: users, google: google, apple: apple}
}

// Login 以已验证的身份登录，签发新令牌并使旧的 Refresh Token 失效（单设备登录）
func (s *Service) Login(ctx context.Context, identity model.Identity) (*LoginResult, error) {
	profile, created, err := s.users.EnsureProfile(ctx, identity)
	if err != nil {
		return nil, err
	}
	pair, err := s.issue(ctx, profile.ID, "")
	if err != nil {
		return nil, err
	}
	profile.RefreshTokenID = ""
	return &LoginResult{TokenPair: *pair, Profile: *profile, IsNew: created}, nil
}

// GoogleLogin 校验 Google ID Token 后登录
func (s *Service) GoogleLogin(ctx context.Context, rawIDToken string) (*LoginResult, error) {
	if s.google == nil {
		return nil, errorx.New(errorx.CodeForbidden, "未开启 Google 登录")
	}
	identity, err := s.google.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}
	return s.Login(ctx, *identity)
}

// AppleLogin 校验 Sign in with Apple 的 ID Token 后登录
func (s *Service) AppleLogin(ctx context.Context, rawIDToken string) (*LoginResult, error) {
	if s.apple == nil {
		return nil, errorx.New(errorx.CodeForbidden, "未开启 Apple 登录")
	}
	identity, err := s.apple.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}
	return s.Login(ctx, *identity)
}

// GuestLogin 访客登录，每次生成新的访客账号
func (s *Service) GuestLogin(ctx context.Context, name string) (*LoginResult, error) {
	return s.Login(ctx, model.Identity{Name: name, AuthMethod: model.AuthGuest})
}

// Refresh 用 Refresh Token 换取新的双令牌，旧 Refresh Token 随即失效
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := jwt.Parse(refreshToken, jwt.KindRefresh)
	if errors.Is(err, jwt.ErrWrongKind) || errors.Is(err, jwt.ErrNoRotationID) {
		return nil, errorx.Wrap(err, errorx.CodeUnauthorized, "请使用 Refresh Token")
	}
	if err != nil {
		return nil, errorx.Wrap(err, errorx.CodeUnauthorized, "Refresh Token 已过期或无效，请重新登录")
	}
	return s.issue(ctx, claims.UserID, claims.RotationID())
}

// ValidateTokenID 判断 tokenID 是否为该用户当前有效的 Refresh Token
func (s *Service) ValidateTokenID(ctx context.Context, userID, tokenID string) (bool, error) {
	doc, err := s.store.Get(ctx, constants.COLLECTION_USERS, userID)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, nil
	}
	valid := doc.String(model.UserFieldRefreshTokenID)
	return valid != "" && valid == tokenID, nil
}

// issue 签发令牌并在事务内替换轮换 ID
// expect 非空时要求当前 ID 与之相同，保证同一个 Refresh Token 只能使用一次
func (s *Service) issue(ctx context.Context, userID, expect string) (*TokenPair, error) {
	pair, err := jwt.IssuePair(userID)
	if err != nil {
		zap.L().Error("签发令牌失败", zap.String("user", userID), zap.Error(err))
		return nil, errorx.ErrServerBusy
	}

	err = s.store.RunTransaction(ctx, constants.COLLECTION_USERS, userID, func(cur *backend.Document) (backend.Fields, error) {
		if cur == nil {
			return nil, errorx.Newf(errorx.CodeUserNotExist, "用户 %s 不存在", userID)
		}
		if expect != "" && cur.String(model.UserFieldRefreshTokenID) != expect {
			return nil, errorx.New(errorx.CodeUnauthorized, "Refresh Token 已失效，请重新登录")
		}
		return backend.Fields{model.UserFieldRefreshTokenID: pair.RotationID}, nil
	})
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: pair.Access, RefreshToken: pair.Refresh}, nil
}
